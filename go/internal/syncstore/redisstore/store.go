// Package redisstore is a syncstore.Store backed by Redis. Each document is
// a JSON string key, each collection a SET of document ids, and every write
// publishes the changed id on the collection's channel.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

const (
	DefaultPrefix = "wp"

	maxTxAttempts    = 5
	watchReadTimeout = 10 * time.Second
)

type Store struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) docKey(path string) string        { return s.prefix + ":doc:" + path }
func (s *Store) collectionKey(col string) string  { return s.prefix + ":col:" + col }
func (s *Store) changesChannel(col string) string { return s.prefix + ":chg:" + col }

// envelope is the stored form of a document.
type envelope struct {
	UpdateTime time.Time       `json:"updateTime"`
	Data       json.RawMessage `json:"data"`
}

func encodeEnvelope(data syncstore.Data, updated time.Time) (string, error) {
	raw, err := syncstore.EncodeData(data)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(envelope{UpdateTime: updated.UTC(), Data: raw})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

func decodeEnvelope(path, value string) (*syncstore.Snapshot, error) {
	_, id, _ := syncstore.SplitDocument(path)
	var env envelope
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	data, err := syncstore.DecodeData(env.Data)
	if err != nil {
		return nil, err
	}
	return &syncstore.Snapshot{Path: path, ID: id, Exists: true, Data: data, UpdateTime: env.UpdateTime}, nil
}

func (s *Store) Get(ctx context.Context, path string) (*syncstore.Snapshot, error) {
	_, id, err := syncstore.SplitDocument(path)
	if err != nil {
		return nil, err
	}
	value, err := s.client.Get(ctx, s.docKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return &syncstore.Snapshot{Path: path, ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return decodeEnvelope(path, value)
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

func (s *Store) Query(ctx context.Context, q syncstore.Query) ([]*syncstore.Snapshot, error) {
	if err := syncstore.CheckCollection(q.Collection); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.collectionKey(q.Collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	paths := make([]string, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = syncstore.Join(q.Collection, id)
		keys[i] = s.docKey(paths[i])
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	docs := make([]*syncstore.Snapshot, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// index entry outlived its document
			continue
		}
		doc, err := decodeEnvelope(paths[i], str)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return q.Apply(docs), nil
}

func (s *Store) WatchDocument(path string, fn func(*syncstore.Snapshot, error)) (syncstore.Subscription, error) {
	collection, id, err := syncstore.SplitDocument(path)
	if err != nil {
		return nil, err
	}
	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), watchReadTimeout)
		defer cancel()
		fn(s.Get(ctx, path))
	}
	return s.watch(collection, func(docID string) bool { return docID == id }, deliver), nil
}

func (s *Store) WatchQuery(q syncstore.Query, fn func([]*syncstore.Snapshot, error)) (syncstore.Subscription, error) {
	if err := syncstore.CheckCollection(q.Collection); err != nil {
		return nil, err
	}
	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), watchReadTimeout)
		defer cancel()
		fn(s.Query(ctx, q))
	}
	return s.watch(q.Collection, func(string) bool { return true }, deliver), nil
}

// watch subscribes to a collection's change channel and re-reads through
// deliver whenever a relevant id is published.
func (s *Store) watch(collection string, relevant func(docID string) bool, deliver func()) syncstore.Subscription {
	feed := syncstore.NewFeed()
	pubsub := s.client.Subscribe(context.Background(), s.changesChannel(collection))
	done := make(chan struct{})
	feed.OnStop(func() {
		close(done)
		if err := pubsub.Close(); err != nil {
			log.Debug().Err(err).Str("collection", collection).Msg("close change subscription")
		}
	})

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if relevant(msg.Payload) {
					feed.Push(deliver)
				}
			}
		}
	}()

	feed.Push(deliver)
	return feed
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

// apply commits ops with optimistic locking: the touched keys are WATCHed,
// read, and rewritten in one MULTI block. A concurrent writer aborts the
// transaction and it is retried.
func (s *Store) apply(ctx context.Context, ops []syncstore.Op) error {
	var order []string
	seen := make(map[string]bool)
	for _, op := range ops {
		if _, _, err := syncstore.SplitDocument(op.Path); err != nil {
			return err
		}
		if !seen[op.Path] {
			seen[op.Path] = true
			order = append(order, op.Path)
		}
	}
	if len(order) == 0 {
		return nil
	}
	keys := make([]string, len(order))
	for i, path := range order {
		keys[i] = s.docKey(path)
	}

	txf := func(tx *redis.Tx) error {
		values, err := tx.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("read documents: %w", err)
		}
		now, err := tx.Time(ctx).Result()
		if err != nil {
			return fmt.Errorf("read server time: %w", err)
		}

		staged := make(map[string]*stagedDoc, len(order))
		for i, path := range order {
			doc := &stagedDoc{}
			if str, ok := values[i].(string); ok {
				snap, err := decodeEnvelope(path, str)
				if err != nil {
					return err
				}
				doc.data, doc.exists = snap.Data, true
			}
			staged[path] = doc
		}
		for _, op := range ops {
			cur := staged[op.Path]
			next, exists, err := op.Apply(cur.data, cur.exists, now)
			if err != nil {
				return err
			}
			staged[op.Path] = &stagedDoc{data: next, exists: exists}
		}

		encoded := make(map[string]string, len(order))
		for _, path := range order {
			if doc := staged[path]; doc.exists {
				value, err := encodeEnvelope(doc.data, now)
				if err != nil {
					return err
				}
				encoded[path] = value
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, path := range order {
				collection, id, _ := syncstore.SplitDocument(path)
				if value, ok := encoded[path]; ok {
					pipe.Set(ctx, keys[i], value, 0)
					pipe.SAdd(ctx, s.collectionKey(collection), id)
				} else {
					pipe.Del(ctx, keys[i])
					pipe.SRem(ctx, s.collectionKey(collection), id)
				}
				pipe.Publish(ctx, s.changesChannel(collection), id)
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.Debug().Int("attempt", attempt+1).Strs("keys", keys).Msg("document transaction conflict, retrying")
	}
	return fmt.Errorf("commit after %d attempts: %w", maxTxAttempts, err)
}
