package videosync

import (
	"context"
	"errors"

	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

// op runs one store call under the operation deadline and classifies its
// failure as a *TimeoutError or a *StoreError.
func (s *Session) op(ctx context.Context, name, path string, fn func(ctx context.Context) error) error {
	err := WithTimeout(ctx, s.cfg.OperationTimeout, fn)
	if err == nil {
		return nil
	}
	s.metrics.StoreError(name)

	var te *TimeoutError
	if errors.As(err, &te) {
		return te
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: name, Path: path, Err: err}
}

func (s *Session) get(ctx context.Context, path string) (*syncstore.Snapshot, error) {
	var snap *syncstore.Snapshot
	err := s.op(ctx, "get", path, func(ctx context.Context) error {
		var err error
		snap, err = s.store.Get(ctx, path)
		return err
	})
	return snap, err
}

func (s *Session) set(ctx context.Context, path string, data syncstore.Data, opts ...syncstore.SetOption) error {
	return s.op(ctx, "set", path, func(ctx context.Context) error {
		return s.store.Set(ctx, path, data, opts...)
	})
}

func (s *Session) update(ctx context.Context, path string, data syncstore.Data) error {
	return s.op(ctx, "update", path, func(ctx context.Context) error {
		return s.store.Update(ctx, path, data)
	})
}

func (s *Session) remove(ctx context.Context, path string) error {
	return s.op(ctx, "delete", path, func(ctx context.Context) error {
		return s.store.Delete(ctx, path)
	})
}

func (s *Session) query(ctx context.Context, q syncstore.Query) ([]*syncstore.Snapshot, error) {
	var docs []*syncstore.Snapshot
	err := s.op(ctx, "query", q.Collection, func(ctx context.Context) error {
		var err error
		docs, err = s.store.Query(ctx, q)
		return err
	})
	return docs, err
}

func (s *Session) commit(ctx context.Context, path string, b syncstore.Batch) error {
	return s.op(ctx, "batch", path, b.Commit)
}
