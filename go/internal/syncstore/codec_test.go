package syncstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_PreservesTimestampsAndNumbers(t *testing.T) {
	ts := time.Date(2024, 3, 9, 18, 30, 0, 125, time.UTC)
	in := Data{
		"lastSeen":  ts,
		"timestamp": 42,
		"isPlaying": true,
		"names":     []string{"a", "b"},
		"nested":    map[string]any{"at": ts},
	}

	out, err := Normalize(in)
	require.NoError(t, err)

	got, ok := out.Time("lastSeen")
	require.True(t, ok)
	assert.True(t, ts.Equal(got))
	assert.Equal(t, float64(42), out["timestamp"])
	assert.Equal(t, true, out.Bool("isPlaying"))
	assert.Equal(t, []string{"a", "b"}, out.Strings("names"))

	nested, ok := out["nested"].(map[string]any)
	require.True(t, ok)
	assert.IsType(t, time.Time{}, nested["at"])
}

func TestCodec_RejectsUnresolvedSentinels(t *testing.T) {
	_, err := EncodeData(Data{"lastSeen": ServerTimestamp})
	assert.Error(t, err)
}

func TestOp_ApplyResolvesSentinels(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	op := Op{Kind: OpUpdate, Path: "a/b", Data: Data{"t": ServerTimestamp, "n": Increment(2)}}

	out, exists, err := op.Apply(Data{"n": float64(3), "keep": "x"}, true, now)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, now, out["t"])
	assert.Equal(t, float64(5), out["n"])
	assert.Equal(t, "x", out["keep"])
}

func TestOp_UpdateMissingDocument(t *testing.T) {
	op := Op{Kind: OpUpdate, Path: "a/b", Data: Data{"x": 1}}
	_, _, err := op.Apply(nil, false, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOp_SetReplacesUnlessMerge(t *testing.T) {
	now := time.Now()
	current := Data{"a": "1", "b": "2"}

	out, _, err := NewSetOp("x/y", Data{"a": "3"}).Apply(current, true, now)
	require.NoError(t, err)
	assert.Equal(t, Data{"a": "3"}, out)

	out, _, err = NewSetOp("x/y", Data{"a": "3"}, Merge()).Apply(current, true, now)
	require.NoError(t, err)
	assert.Equal(t, Data{"a": "3", "b": "2"}, out)
}

func TestPaths(t *testing.T) {
	col, id, err := SplitDocument("rooms/03-09-2024/events/e1/participants/u1")
	require.NoError(t, err)
	assert.Equal(t, "rooms/03-09-2024/events/e1/participants", col)
	assert.Equal(t, "u1", id)
	assert.Equal(t, "rooms/03-09-2024/events/e1", Parent(col))

	_, _, err = SplitDocument("rooms/03-09-2024/events")
	var pathErr *InvalidPathError
	assert.ErrorAs(t, err, &pathErr)
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.Error(t, CheckCollection("rooms//events"))
	assert.NoError(t, CheckCollection("rooms"))
	assert.Equal(t, "", Parent("rooms"))
}
