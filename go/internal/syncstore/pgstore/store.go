// Package pgstore is a syncstore.Store backed by a Postgres table of JSONB
// documents. Change notifications travel over LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

// watchReadTimeout bounds the re-read a watcher performs after a notification.
const watchReadTimeout = 10 * time.Second

type Store struct {
	pool       *pgxpool.Pool
	dispatcher *Dispatcher
}

// New returns a store over pool. dispatcher may be nil, in which case watches
// deliver only their initial snapshot.
func New(pool *pgxpool.Pool, dispatcher *Dispatcher) *Store {
	return &Store{pool: pool, dispatcher: dispatcher}
}

func (s *Store) Get(ctx context.Context, path string) (*syncstore.Snapshot, error) {
	if _, _, err := syncstore.SplitDocument(path); err != nil {
		return nil, err
	}
	return getDocument(ctx, s.pool, path)
}

func (s *Store) Set(ctx context.Context, path string, data syncstore.Data, opts ...syncstore.SetOption) error {
	return s.apply(ctx, []syncstore.Op{syncstore.NewSetOp(path, data, opts...)})
}

func (s *Store) Update(ctx context.Context, path string, data syncstore.Data) error {
	return s.apply(ctx, []syncstore.Op{{Kind: syncstore.OpUpdate, Path: path, Data: data}})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.apply(ctx, []syncstore.Op{{Kind: syncstore.OpDelete, Path: path}})
}

func (s *Store) Add(ctx context.Context, collection string, data syncstore.Data) (string, error) {
	if err := syncstore.CheckCollection(collection); err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := s.Set(ctx, syncstore.Join(collection, id), data); err != nil {
		return "", err
	}
	return id, nil
}

// Query loads the collection and evaluates q in process; document fields
// live in JSONB so filters and ordering stay consistent with the other stores.
func (s *Store) Query(ctx context.Context, q syncstore.Query) ([]*syncstore.Snapshot, error) {
	if err := syncstore.CheckCollection(q.Collection); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT path, doc_id, data, update_time FROM sync_documents WHERE collection = $1`,
		q.Collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []*syncstore.Snapshot
	for rows.Next() {
		var (
			path, id string
			raw      []byte
			updated  time.Time
		)
		if err := rows.Scan(&path, &id, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		data, err := syncstore.DecodeData(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, &syncstore.Snapshot{Path: path, ID: id, Exists: true, Data: data, UpdateTime: updated})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return q.Apply(docs), nil
}

func (s *Store) WatchDocument(path string, fn func(*syncstore.Snapshot, error)) (syncstore.Subscription, error) {
	collection, id, err := syncstore.SplitDocument(path)
	if err != nil {
		return nil, err
	}
	feed := syncstore.NewFeed()
	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), watchReadTimeout)
		defer cancel()
		fn(s.Get(ctx, path))
	}
	if s.dispatcher != nil {
		unsubscribe := s.dispatcher.subscribe(collection, func(docID string) {
			if docID == "" || docID == id {
				feed.Push(deliver)
			}
		})
		feed.OnStop(unsubscribe)
	}
	feed.Push(deliver)
	return feed, nil
}

func (s *Store) WatchQuery(q syncstore.Query, fn func([]*syncstore.Snapshot, error)) (syncstore.Subscription, error) {
	if err := syncstore.CheckCollection(q.Collection); err != nil {
		return nil, err
	}
	feed := syncstore.NewFeed()
	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), watchReadTimeout)
		defer cancel()
		fn(s.Query(ctx, q))
	}
	if s.dispatcher != nil {
		unsubscribe := s.dispatcher.subscribe(q.Collection, func(string) {
			feed.Push(deliver)
		})
		feed.OnStop(unsubscribe)
	}
	feed.Push(deliver)
	return feed, nil
}

func (s *Store) Batch() syncstore.Batch {
	return &batch{store: s}
}

type batch struct {
	store *Store
	ops   []syncstore.Op
}

func (b *batch) Set(path string, data syncstore.Data, opts ...syncstore.SetOption) syncstore.Batch {
	b.ops = append(b.ops, syncstore.NewSetOp(path, data, opts...))
	return b
}

func (b *batch) Update(path string, data syncstore.Data) syncstore.Batch {
	b.ops = append(b.ops, syncstore.Op{Kind: syncstore.OpUpdate, Path: path, Data: data})
	return b
}

func (b *batch) Delete(path string) syncstore.Batch {
	b.ops = append(b.ops, syncstore.Op{Kind: syncstore.OpDelete, Path: path})
	return b
}

func (b *batch) Commit(ctx context.Context) error {
	return b.store.apply(ctx, b.ops)
}

type stagedDoc struct {
	data   syncstore.Data
	exists bool
}

// apply runs ops in one transaction. Rows are locked as they are read so
// increments and merges see the committed state.
func (s *Store) apply(ctx context.Context, ops []syncstore.Op) error {
	for _, op := range ops {
		if _, _, err := syncstore.SplitDocument(op.Path); err != nil {
			return err
		}
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var now time.Time
		if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
			return fmt.Errorf("read server time: %w", err)
		}

		staged := make(map[string]*stagedDoc)
		var order []string
		for _, op := range ops {
			cur, seen := staged[op.Path]
			if !seen {
				snap, err := getDocumentForUpdate(ctx, tx, op.Path)
				if err != nil {
					return err
				}
				cur = &stagedDoc{data: snap.Data, exists: snap.Exists}
				order = append(order, op.Path)
			}
			next, exists, err := op.Apply(cur.data, cur.exists, now)
			if err != nil {
				return err
			}
			staged[op.Path] = &stagedDoc{data: next, exists: exists}
		}

		for _, path := range order {
			doc := staged[path]
			if !doc.exists {
				if _, err := tx.Exec(ctx, `DELETE FROM sync_documents WHERE path = $1`, path); err != nil {
					return fmt.Errorf("delete %s: %w", path, err)
				}
				continue
			}
			raw, err := syncstore.EncodeData(doc.data)
			if err != nil {
				return err
			}
			collection, id, _ := syncstore.SplitDocument(path)
			_, err = tx.Exec(ctx, `
				INSERT INTO sync_documents (path, collection, doc_id, data, update_time)
				VALUES ($1, $2, $3, $4::jsonb, $5)
				ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, update_time = EXCLUDED.update_time`,
				path, collection, id, string(raw), now)
			if err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Int("ops", len(ops)).Msg("document write failed")
		return err
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDocument(ctx context.Context, q querier, path string) (*syncstore.Snapshot, error) {
	return readDocument(ctx, q, path,
		`SELECT data, update_time FROM sync_documents WHERE path = $1`)
}

func getDocumentForUpdate(ctx context.Context, q querier, path string) (*syncstore.Snapshot, error) {
	return readDocument(ctx, q, path,
		`SELECT data, update_time FROM sync_documents WHERE path = $1 FOR UPDATE`)
}

func readDocument(ctx context.Context, q querier, path, sql string) (*syncstore.Snapshot, error) {
	_, id, _ := syncstore.SplitDocument(path)
	var (
		raw     []byte
		updated time.Time
	)
	err := q.QueryRow(ctx, sql, path).Scan(&raw, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return &syncstore.Snapshot{Path: path, ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	data, err := syncstore.DecodeData(raw)
	if err != nil {
		return nil, err
	}
	return &syncstore.Snapshot{Path: path, ID: id, Exists: true, Data: data, UpdateTime: updated}, nil
}
