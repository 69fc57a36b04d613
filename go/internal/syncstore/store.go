package syncstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Update when the target document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrInvalidPath is the sentinel behind every InvalidPathError.
var ErrInvalidPath = errors.New("invalid path")

// InvalidPathError reports a path that does not address a document or a
// collection, or whose parent document is required but absent.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid path %q", e.Path)
	}
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

func (e *InvalidPathError) Unwrap() error { return ErrInvalidPath }

// Data is the field map of a single document.
type Data map[string]any

// Snapshot is a point-in-time read of one document.
type Snapshot struct {
	Path       string
	ID         string
	Exists     bool
	Data       Data
	UpdateTime time.Time
}

// SetOption configures a Set call.
type SetOption func(*setOptions)

type setOptions struct {
	merge bool
}

// Merge makes Set merge top-level fields into the existing document instead
// of replacing it.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// Subscription is a live watch registration.
type Subscription interface {
	// Stop ends the watch. After Stop returns no callback starts. Stop must
	// not be called from inside the watch callback itself.
	Stop()
}

// Batch collects writes that commit atomically.
type Batch interface {
	Set(path string, data Data, opts ...SetOption) Batch
	Update(path string, data Data) Batch
	Delete(path string) Batch
	Commit(ctx context.Context) error
}

// Store is the remote document store the sync session coordinates through.
type Store interface {
	Get(ctx context.Context, path string) (*Snapshot, error)
	Set(ctx context.Context, path string, data Data, opts ...SetOption) error
	Update(ctx context.Context, path string, data Data) error
	Delete(ctx context.Context, path string) error
	Add(ctx context.Context, collection string, data Data) (string, error)
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	WatchDocument(path string, fn func(*Snapshot, error)) (Subscription, error)
	WatchQuery(q Query, fn func([]*Snapshot, error)) (Subscription, error)
	Batch() Batch
}

// Join builds a slash separated path from its segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// SplitDocument splits a document path into its collection path and id.
func SplitDocument(path string) (collection, id string, err error) {
	segs, err := segments(path)
	if err != nil {
		return "", "", err
	}
	if len(segs)%2 != 0 {
		return "", "", &InvalidPathError{Path: path, Reason: "not a document path"}
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// CheckCollection validates a collection path.
func CheckCollection(path string) error {
	segs, err := segments(path)
	if err != nil {
		return err
	}
	if len(segs)%2 != 1 {
		return &InvalidPathError{Path: path, Reason: "not a collection path"}
	}
	return nil
}

// Parent returns the document that owns a collection, or "" for a root
// collection.
func Parent(collection string) string {
	i := strings.LastIndex(collection, "/")
	if i < 0 {
		return ""
	}
	return collection[:i]
}

func segments(path string) ([]string, error) {
	if path == "" {
		return nil, &InvalidPathError{Path: path, Reason: "empty"}
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, &InvalidPathError{Path: path, Reason: "empty segment"}
		}
	}
	return segs, nil
}
