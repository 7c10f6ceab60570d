package wakeword

import (
	"log/slog"

	"github.com/MrWong99/wakecore/pkg/acoustic"
)

// Catalog is the ordered list of wake phrases across all loaded wake-net
// models. Engines report detections as a 1-based position in it.
type Catalog []string

// BuildCatalog concatenates the phrases of models in order.
func BuildCatalog(models []acoustic.ModelInfo) Catalog {
	var c Catalog
	for _, m := range models {
		c = append(c, m.Phrases()...)
	}
	return c
}

// Resolve maps a 1-based engine index to its phrase. An out-of-range index
// resolves to the last phrase; ok is false in that case. An empty catalog
// resolves to "".
func (c Catalog) Resolve(index int) (word string, ok bool) {
	if len(c) == 0 {
		return "", false
	}
	if index < 1 || index > len(c) {
		return c[len(c)-1], false
	}
	return c[index-1], true
}

// resolveLogged is Resolve with a warning on fallback.
func (c Catalog) resolveLogged(index int) string {
	word, ok := c.Resolve(index)
	if !ok {
		slog.Warn("wakeword: engine index outside catalog, using last phrase",
			"index", index,
			"catalog_size", len(c),
			"word", word,
		)
	}
	return word
}
