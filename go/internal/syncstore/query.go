package syncstore

import (
	"sort"
	"strings"
	"time"
)

// FilterOp is a comparison used in a query filter.
type FilterOp string

const (
	Equal    FilterOp = "=="
	NotEqual FilterOp = "!="
)

// Filter restricts query results on one field.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Order sorts query results on one field.
type Order struct {
	Field string
	Desc  bool
}

// Query selects documents from a single collection.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Limit      int
}

// Collection starts a query over the documents of a collection.
func Collection(path string) Query {
	return Query{Collection: path}
}

// Where adds a filter.
func (q Query) Where(field string, op FilterOp, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderBy adds a sort key. Keys apply in the order they are added.
func (q Query) OrderBy(field string, desc bool) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Field: field, Desc: desc})
	return q
}

// WithLimit caps the number of results. Zero means no limit.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Apply filters, orders and limits the documents of q.Collection. Stores
// that cannot push a query down call this on the full collection.
// Documents are ordered by document id when every sort key ties, so results
// are deterministic regardless of storage order.
func (q Query) Apply(docs []*Snapshot) []*Snapshot {
	out := make([]*Snapshot, 0, len(docs))
	for _, d := range docs {
		if d == nil || !d.Exists {
			continue
		}
		if q.matches(d.Data) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.Orders {
			c := compareValues(out[i].Data[o.Field], out[j].Data[o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (q Query) matches(data Data) bool {
	for _, f := range q.Filters {
		eq := compareValues(data[f.Field], f.Value) == 0
		switch f.Op {
		case Equal:
			if !eq {
				return false
			}
		case NotEqual:
			if eq {
				return false
			}
		}
	}
	return true
}

// typeRank orders values of different types: missing < bool < number < time < string.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, float32, int, int64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	}
	return 5
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return strings.Compare(av, b.(string))
	}
	if ra == 2 {
		x, y := Data{"v": a}.Float("v"), Data{"v": b}.Float("v")
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return 0
}
