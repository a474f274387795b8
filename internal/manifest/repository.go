package manifest

import "context"

type Repository interface {
	Record(ctx context.Context, f *Fetch) error
	ListByRun(ctx context.Context, year int, symbol, instrument string) ([]Fetch, error)
}
