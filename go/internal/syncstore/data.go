package syncstore

import (
	"fmt"
	"time"
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock when the write commits.
var ServerTimestamp = serverTimestamp{}

type increment struct {
	delta float64
}

// Increment adds delta to the numeric field it is assigned to. A missing or
// non-numeric field counts as zero.
func Increment(delta float64) any {
	return increment{delta: delta}
}

// HasSentinels reports whether data carries ServerTimestamp or Increment
// values that need resolving at commit time.
func HasSentinels(data Data) bool {
	for _, v := range data {
		switch v.(type) {
		case serverTimestamp, increment:
			return true
		}
	}
	return false
}

// String returns the string at field, or "".
func (d Data) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Bool returns the bool at field, or false.
func (d Data) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// Float returns the number at field, or 0.
func (d Data) Float(field string) float64 {
	switch v := d[field].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Time returns the timestamp at field.
func (d Data) Time(field string) (time.Time, bool) {
	t, ok := d[field].(time.Time)
	return t, ok
}

// Strings returns the string list at field.
func (d Data) Strings(field string) []string {
	switch v := d[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// OpKind is the kind of a single document write.
type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
)

// Op is one document write, either standalone or inside a batch.
type Op struct {
	Kind  OpKind
	Path  string
	Data  Data
	Merge bool
}

// NewSetOp builds a set operation from Set options.
func NewSetOp(path string, data Data, opts ...SetOption) Op {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return Op{Kind: OpSet, Path: path, Data: data, Merge: o.merge}
}

// Apply computes the document that results from applying op to current.
// now resolves ServerTimestamp sentinels.
func (op Op) Apply(current Data, exists bool, now time.Time) (Data, bool, error) {
	switch op.Kind {
	case OpDelete:
		return nil, false, nil
	case OpUpdate:
		if !exists {
			return nil, false, fmt.Errorf("update %s: %w", op.Path, ErrNotFound)
		}
		return mergeFields(current, op.Data, now), true, nil
	case OpSet:
		if op.Merge && exists {
			return mergeFields(current, op.Data, now), true, nil
		}
		return mergeFields(nil, op.Data, now), true, nil
	}
	return nil, false, fmt.Errorf("unknown op kind %d", op.Kind)
}

func mergeFields(base, fields Data, now time.Time) Data {
	out := make(Data, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		switch s := v.(type) {
		case serverTimestamp:
			out[k] = now
		case increment:
			out[k] = out.Float(k) + s.delta
		default:
			out[k] = v
		}
	}
	return out
}
