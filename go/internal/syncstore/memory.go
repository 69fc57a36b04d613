package syncstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemoryStore is an in-process Store. It backs single-node deployments and
// tests; server timestamps come from its clock.
type MemoryStore struct {
	clock clockwork.Clock

	mu           sync.Mutex
	docs         map[string]*memDoc
	docWatches   map[string]map[*Feed]func(*Snapshot, error)
	queryWatches map[string]map[*Feed]memQueryWatch
	fault        func(op, path string) error
	writes       int
}

type memDoc struct {
	collection string
	id         string
	raw        []byte
	updateTime time.Time
}

type memQueryWatch struct {
	query Query
	fn    func([]*Snapshot, error)
}

// NewMemoryStore creates an empty store. A nil clock uses the real clock.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:        clock,
		docs:         make(map[string]*memDoc),
		docWatches:   make(map[string]map[*Feed]func(*Snapshot, error)),
		queryWatches: make(map[string]map[*Feed]memQueryWatch),
	}
}

// SetFault installs a hook consulted before every operation; a non-nil
// return fails the operation with that error. Used to simulate outages.
func (m *MemoryStore) SetFault(fn func(op, path string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// Writes returns how many write operations have committed.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStore) checkFault(op, path string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, path)
}

// Get reads one document.
func (m *MemoryStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	if _, _, err := SplitDocument(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("get", path); err != nil {
		return nil, err
	}
	return m.snapshotLocked(path)
}

// Set writes a document.
func (m *MemoryStore) Set(ctx context.Context, path string, data Data, opts ...SetOption) error {
	return m.commit(ctx, "set", []Op{NewSetOp(path, data, opts...)})
}

// Update merges fields into an existing document.
func (m *MemoryStore) Update(ctx context.Context, path string, data Data) error {
	return m.commit(ctx, "update", []Op{{Kind: OpUpdate, Path: path, Data: data}})
}

// Delete removes a document. Deleting an absent document succeeds.
func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	return m.commit(ctx, "delete", []Op{{Kind: OpDelete, Path: path}})
}

// Add creates a document with a generated id.
func (m *MemoryStore) Add(ctx context.Context, collection string, data Data) (string, error) {
	if err := CheckCollection(collection); err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := m.commit(ctx, "add", []Op{NewSetOp(Join(collection, id), data)}); err != nil {
		return "", err
	}
	return id, nil
}

// Query runs q against the current collection contents.
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	if err := CheckCollection(q.Collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("query", q.Collection); err != nil {
		return nil, err
	}
	return m.queryLocked(q)
}

// WatchDocument streams the document at path, starting with its current state.
func (m *MemoryStore) WatchDocument(path string, fn func(*Snapshot, error)) (Subscription, error) {
	if _, _, err := SplitDocument(path); err != nil {
		return nil, err
	}
	feed := NewFeed()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docWatches[path] == nil {
		m.docWatches[path] = make(map[*Feed]func(*Snapshot, error))
	}
	m.docWatches[path][feed] = fn
	feed.OnStop(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.docWatches[path], feed)
	})
	snap, err := m.watchSnapshotLocked(path)
	feed.Push(func() { fn(snap, err) })
	return feed, nil
}

// WatchQuery streams the results of q, starting with the current results.
func (m *MemoryStore) WatchQuery(q Query, fn func([]*Snapshot, error)) (Subscription, error) {
	if err := CheckCollection(q.Collection); err != nil {
		return nil, err
	}
	feed := NewFeed()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryWatches[q.Collection] == nil {
		m.queryWatches[q.Collection] = make(map[*Feed]memQueryWatch)
	}
	m.queryWatches[q.Collection][feed] = memQueryWatch{query: q, fn: fn}
	feed.OnStop(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.queryWatches[q.Collection], feed)
	})
	docs, err := m.watchQueryLocked(q)
	feed.Push(func() { fn(docs, err) })
	return feed, nil
}

// Batch starts an atomic write batch.
func (m *MemoryStore) Batch() Batch {
	return &memBatch{store: m}
}

type memBatch struct {
	store *MemoryStore
	ops   []Op
}

func (b *memBatch) Set(path string, data Data, opts ...SetOption) Batch {
	b.ops = append(b.ops, NewSetOp(path, data, opts...))
	return b
}

func (b *memBatch) Update(path string, data Data) Batch {
	b.ops = append(b.ops, Op{Kind: OpUpdate, Path: path, Data: data})
	return b
}

func (b *memBatch) Delete(path string) Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Path: path})
	return b
}

func (b *memBatch) Commit(ctx context.Context) error {
	return b.store.commit(ctx, "batch", b.ops)
}

// commit applies ops all-or-nothing and then notifies watchers.
func (m *MemoryStore) commit(ctx context.Context, op string, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, o := range ops {
		if _, _, err := SplitDocument(o.Path); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range ops {
		if err := m.checkFault(op, o.Path); err != nil {
			return err
		}
	}

	now := m.clock.Now()
	staged := make(map[string]*memDoc)
	var order []string
	for _, o := range ops {
		cur, seen := staged[o.Path]
		if !seen {
			cur = m.docs[o.Path]
		}
		var curData Data
		if cur != nil {
			d, err := DecodeData(cur.raw)
			if err != nil {
				return err
			}
			curData = d
		}
		next, exists, err := o.Apply(curData, cur != nil, now)
		if err != nil {
			return err
		}
		collection, id, _ := SplitDocument(o.Path)
		if !seen {
			order = append(order, o.Path)
		}
		if !exists {
			staged[o.Path] = nil
			continue
		}
		raw, err := EncodeData(next)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, o.Path, err)
		}
		staged[o.Path] = &memDoc{collection: collection, id: id, raw: raw, updateTime: now}
	}

	for _, path := range order {
		if doc := staged[path]; doc != nil {
			m.docs[path] = doc
		} else {
			delete(m.docs, path)
		}
		m.writes++
	}
	m.notifyLocked(order)
	return nil
}

func (m *MemoryStore) notifyLocked(paths []string) {
	collections := make(map[string]bool)
	for _, path := range paths {
		snap, err := m.watchSnapshotLocked(path)
		for feed, fn := range m.docWatches[path] {
			fn := fn
			feed.Push(func() { fn(snap, err) })
		}
		collection, _, _ := SplitDocument(path)
		collections[collection] = true
	}
	for collection := range collections {
		for feed, w := range m.queryWatches[collection] {
			w := w
			docs, err := m.watchQueryLocked(w.query)
			feed.Push(func() { w.fn(docs, err) })
		}
	}
}

// watchSnapshotLocked is what a document watch delivers. A "get" fault
// reaches watchers as an error.
func (m *MemoryStore) watchSnapshotLocked(path string) (*Snapshot, error) {
	if err := m.checkFault("get", path); err != nil {
		return nil, err
	}
	return m.snapshotLocked(path)
}

// watchQueryLocked is what a query watch delivers. A "query" fault reaches
// watchers as an error.
func (m *MemoryStore) watchQueryLocked(q Query) ([]*Snapshot, error) {
	if err := m.checkFault("query", q.Collection); err != nil {
		return nil, err
	}
	return m.queryLocked(q)
}

func (m *MemoryStore) snapshotLocked(path string) (*Snapshot, error) {
	_, id, _ := SplitDocument(path)
	doc, ok := m.docs[path]
	if !ok {
		return &Snapshot{Path: path, ID: id}, nil
	}
	data, err := DecodeData(doc.raw)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Path: path, ID: id, Exists: true, Data: data, UpdateTime: doc.updateTime}, nil
}

func (m *MemoryStore) queryLocked(q Query) ([]*Snapshot, error) {
	var docs []*Snapshot
	for path, doc := range m.docs {
		if doc.collection != q.Collection {
			continue
		}
		snap, err := m.snapshotLocked(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, snap)
	}
	return q.Apply(docs), nil
}
