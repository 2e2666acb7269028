package formats

import (
	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
)

// Fileset is the set of files one upload produced, keyed by role. The
// base file drives detection; sidecars travel with it untouched.
type Fileset struct {
	BaseFile string
	Files    map[string]string
}

// FieldDescriptor is one source column with its declared type, exactly as
// the source reports it. Class resolution happens through the owning
// handler's mapping table.
type FieldDescriptor struct {
	Name       string
	SourceType string
}

// Layer is one importable unit inside a dataset. GeometryColumn is empty
// for non-spatial layers; GeometryType is normalized to the canonical
// wkb names (Point, MultiLineString, ...).
type Layer struct {
	Name           string
	GeometryColumn string
	GeometryType   string
	SRID           int
	Fields         []FieldDescriptor
}

type Dataset interface {
	Layers() []Layer
	Close() error
}

// Handler reads one supported input format. Implementations are
// stateless; all per-file state lives in the Dataset they open.
type Handler interface {
	Alias() string
	CanHandle(fs Fileset) bool
	IsValid(fs Fileset) error
	Open(fs Fileset) (Dataset, error)
	// FieldClass maps a source declared type to a storage class. The
	// boolean reports whether the type is known to this format.
	FieldClass(sourceType string) (dataschema.FieldClass, bool)
}

// memoryDataset serves layers enumerated eagerly at open time.
type memoryDataset struct {
	layers []Layer
}

func (d *memoryDataset) Layers() []Layer {
	return d.layers
}

func (d *memoryDataset) Close() error {
	return nil
}
