package shared

import (
	"github.com/go-playground/form"
)

// Decoder decodes url.Values into DTO structs. A single instance is shared
// because the decoder caches struct metadata.
var Decoder = form.NewDecoder()

func init() {
	Decoder.SetTagName("form")
}
