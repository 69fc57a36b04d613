package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

const participants = "rooms/03-09-2024/events/e1/participants"

func setupTestStore() (*Store, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return New(db, "test"), mock
}

func TestStore_SetResolvesServerTimestamp(t *testing.T) {
	store, mock := setupTestStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	now := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	path := participants + "/u1"
	key := "test:doc:" + path

	want, err := encodeEnvelope(syncstore.Data{"userId": "u1", "lastSeen": now}, now)
	require.NoError(t, err)

	mock.ExpectWatch(key)
	mock.ExpectMGet(key).SetVal([]interface{}{nil})
	mock.ExpectTime().SetVal(now)
	mock.ExpectTxPipeline()
	mock.ExpectSet(key, want, 0).SetVal("OK")
	mock.ExpectSAdd("test:col:"+participants, "u1").SetVal(1)
	mock.ExpectPublish("test:chg:"+participants, "u1").SetVal(0)
	mock.ExpectTxPipelineExec()

	err = store.Set(ctx, path, syncstore.Data{"userId": "u1", "lastSeen": syncstore.ServerTimestamp})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateMissingDocument(t *testing.T) {
	store, mock := setupTestStore()
	defer mock.ClearExpect()

	path := participants + "/u1"
	key := "test:doc:" + path

	mock.ExpectWatch(key)
	mock.ExpectMGet(key).SetVal([]interface{}{nil})
	mock.ExpectTime().SetVal(time.Now())

	err := store.Update(context.Background(), path, syncstore.Data{"isActive": false})
	assert.ErrorIs(t, err, syncstore.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BatchDeleteAndMerge(t *testing.T) {
	store, mock := setupTestStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	now := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	before := now.Add(-time.Minute)
	statePath := "rooms/d/events/e1/state/current"
	hostPath := "rooms/d/events/e1/host/current"
	stateKey := "test:doc:" + statePath
	hostKey := "test:doc:" + hostPath

	existing, err := encodeEnvelope(syncstore.Data{"timestamp": float64(12), "isPlaying": true}, before)
	require.NoError(t, err)
	merged, err := encodeEnvelope(syncstore.Data{"timestamp": float64(12), "isPlaying": false}, now)
	require.NoError(t, err)

	mock.ExpectWatch(stateKey, hostKey)
	mock.ExpectMGet(stateKey, hostKey).SetVal([]interface{}{existing, nil})
	mock.ExpectTime().SetVal(now)
	mock.ExpectTxPipeline()
	mock.ExpectSet(stateKey, merged, 0).SetVal("OK")
	mock.ExpectSAdd("test:col:rooms/d/events/e1/state", "current").SetVal(0)
	mock.ExpectPublish("test:chg:rooms/d/events/e1/state", "current").SetVal(0)
	mock.ExpectDel(hostKey).SetVal(0)
	mock.ExpectSRem("test:col:rooms/d/events/e1/host", "current").SetVal(0)
	mock.ExpectPublish("test:chg:rooms/d/events/e1/host", "current").SetVal(0)
	mock.ExpectTxPipelineExec()

	err = store.Batch().
		Set(statePath, syncstore.Data{"isPlaying": false}, syncstore.Merge()).
		Delete(hostPath).
		Commit(ctx)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RetriesOnConflict(t *testing.T) {
	store, mock := setupTestStore()
	defer mock.ClearExpect()

	path := participants + "/u1"
	key := "test:doc:" + path
	now := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	want, err := encodeEnvelope(syncstore.Data{"v": "1"}, now)
	require.NoError(t, err)

	mock.ExpectWatch(key).SetErr(redis.TxFailedErr)
	mock.ExpectWatch(key)
	mock.ExpectMGet(key).SetVal([]interface{}{nil})
	mock.ExpectTime().SetVal(now)
	mock.ExpectTxPipeline()
	mock.ExpectSet(key, want, 0).SetVal("OK")
	mock.ExpectSAdd("test:col:"+participants, "u1").SetVal(1)
	mock.ExpectPublish("test:chg:"+participants, "u1").SetVal(0)
	mock.ExpectTxPipelineExec()

	assert.NoError(t, store.Set(context.Background(), path, syncstore.Data{"v": "1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	store, mock := setupTestStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	path := participants + "/u1"
	updated := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	value, err := encodeEnvelope(syncstore.Data{"userId": "u1", "isActive": true}, updated)
	require.NoError(t, err)

	mock.ExpectGet("test:doc:" + path).SetVal(value)
	mock.ExpectGet("test:doc:" + participants + "/u2").RedisNil()

	got, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.True(t, got.Exists)
	assert.Equal(t, "u1", got.ID)
	assert.True(t, got.Data.Bool("isActive"))
	assert.True(t, updated.Equal(got.UpdateTime))

	missing, err := store.Get(ctx, participants+"/u2")
	require.NoError(t, err)
	assert.False(t, missing.Exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QuerySkipsStaleIndexEntries(t *testing.T) {
	store, mock := setupTestStore()
	defer mock.ClearExpect()

	now := time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)
	a, err := encodeEnvelope(syncstore.Data{"isActive": true, "lastSeen": now}, now)
	require.NoError(t, err)
	b, err := encodeEnvelope(syncstore.Data{"isActive": true, "lastSeen": now.Add(-time.Second)}, now)
	require.NoError(t, err)

	mock.ExpectSMembers("test:col:" + participants).SetVal([]string{"a", "b", "gone"})
	mock.ExpectMGet(
		"test:doc:"+participants+"/a",
		"test:doc:"+participants+"/b",
		"test:doc:"+participants+"/gone",
	).SetVal([]interface{}{a, b, nil})

	q := syncstore.Collection(participants).
		Where("isActive", syncstore.Equal, true).
		OrderBy("lastSeen", false)
	docs, err := store.Query(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InvalidPath(t *testing.T) {
	store, _ := setupTestStore()
	err := store.Set(context.Background(), participants, syncstore.Data{})
	assert.ErrorIs(t, err, syncstore.ErrInvalidPath)
}
