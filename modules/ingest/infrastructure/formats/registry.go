package formats

import (
	"strings"

	"github.com/go-faster/errors"
)

var ErrUnsupportedFormat = errors.New("no handler recognizes the base file")

// Registry is the closed set of format handlers. Detection walks the
// handlers in registration order and picks the first match.
type Registry struct {
	handlers []Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	return &Registry{handlers: handlers}
}

// Default returns the registry with every supported format registered.
func Default() *Registry {
	return NewRegistry(
		NewGeoPackageHandler(),
		NewCSVHandler(),
		NewXLSXHandler(),
	)
}

func (r *Registry) Detect(fs Fileset) (Handler, error) {
	for _, h := range r.handlers {
		if h.CanHandle(fs) {
			return h, nil
		}
	}
	return nil, ErrUnsupportedFormat
}

func (r *Registry) ByAlias(alias string) (Handler, bool) {
	for _, h := range r.handlers {
		if strings.EqualFold(h.Alias(), alias) {
			return h, true
		}
	}
	return nil, false
}

// Resolve picks the handler named by alias when given, falling back to
// detection against the base file.
func (r *Registry) Resolve(alias string, fs Fileset) (Handler, error) {
	if alias != "" {
		if h, ok := r.ByAlias(alias); ok {
			return h, nil
		}
		return nil, errors.Wrapf(ErrUnsupportedFormat, "unknown handler alias %q", alias)
	}
	return r.Detect(fs)
}
