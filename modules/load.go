package modules

import (
	"github.com/spatialops/importer/modules/audit"
	"github.com/spatialops/importer/modules/ingest"
	"github.com/spatialops/importer/pkg/application"
)

var BuiltInModules = []application.Module{
	ingest.NewModule(),
	audit.NewModule(),
}

func Load(app application.Application, externalModules ...application.Module) error {
	for _, module := range externalModules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
