package store

import (
	"context"

	"github.com/caevv/runlog/internal/record"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// MultiStore fans a record out to several stores concurrently. Every store is
// attempted; failures are joined.
type MultiStore struct {
	stores []Store
}

// NewMultiStore returns a store writing to all of stores.
func NewMultiStore(stores ...Store) *MultiStore {
	return &MultiStore{stores: stores}
}

// Insert implements Store.
func (m *MultiStore) Insert(ctx context.Context, rec *record.RunRecord) error {
	errs := make([]error, len(m.stores))

	var g errgroup.Group
	for i, s := range m.stores {
		g.Go(func() error {
			errs[i] = s.Insert(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Close closes every store and joins the failures.
func (m *MultiStore) Close() error {
	errs := make([]error, 0, len(m.stores))
	for _, s := range m.stores {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
