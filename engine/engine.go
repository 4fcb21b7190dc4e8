// Package engine defines the extraction-engine contract and the
// readability-based implementation behind the fast (non-headless) path.
package engine

import (
	"context"

	"github.com/use-agent/skimmer/gate"
	"github.com/use-agent/skimmer/models"
)

// Extractor is one sandboxed extraction engine. Implementations are not
// required to be safe for concurrent use; the pool guarantees exclusive
// checkout for the lifetime of a call.
type Extractor interface {
	Extract(ctx context.Context, content []byte, pageURL string, mode gate.Decision) (*models.Document, error)
	Close() error
}

// Loader constructs fresh engine instances for the pool. Load may fail, for
// example when the engine artifact cannot be read or initialized.
type Loader interface {
	Load(ctx context.Context) (Extractor, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Extractor, error)

func (f LoaderFunc) Load(ctx context.Context) (Extractor, error) { return f(ctx) }
