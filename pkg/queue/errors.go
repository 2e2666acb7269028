package queue

import (
	"fmt"

	"github.com/spatialops/importer/pkg/serrors"
)

var (
	ErrInvalidConfig = serrors.NewError("QUEUE_INVALID_CONFIG", "invalid queue configuration", "")
	ErrUnknownKind   = serrors.NewError("QUEUE_UNKNOWN_KIND", "no handler registered for task kind", "")
)

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}
