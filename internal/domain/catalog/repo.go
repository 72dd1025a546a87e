package catalog

import "context"

// Repository persists published scale definitions. A row is written once
// per (id, version) and never updated; the registry is rebuilt from the
// published rows at startup.
type Repository interface {
	Save(ctx context.Context, def Definition) error
	Get(ctx context.Context, id string, version int) (Definition, error)
	ListPublished(ctx context.Context) ([]Definition, error)
}
