// Package store is the document persistence layer: JSON documents grouped
// into collections, addressed by id, queried by field conditions.
package store

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
)

// ErrPersistence marks every failure reading from or writing to the store.
var ErrPersistence = eris.New("store: persistence failure")

// Collections used by the negotiation engine.
const (
	CollectionThreads          = "negotiation_threads"
	CollectionPatterns         = "negotiation_patterns"
	CollectionPatternAnalytics = "pattern_analytics"
	CollectionWeights          = "optimization_weights"
	CollectionOutcomes         = "negotiation_outcomes"
	CollectionApprovals        = "approval_queue"
)

// Op is a condition comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpIn  Op = "in"
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Condition filters documents on a (dotted) JSON field.
type Condition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Where is shorthand for building a Condition.
func Where(field string, op Op, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// Query selects documents from one collection.
type Query struct {
	Conditions []Condition
	OrderBy    string // JSON field, or "updated_at"
	Descending bool
	Limit      int
}

// Document is one stored record.
type Document struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	return eris.Wrapf(json.Unmarshal(d.Data, v), "store: decode document %s", d.ID)
}

// Store is an abstract document store. Get returns nil, nil for a missing
// document. Set with merge combines the new fields into the existing
// document instead of replacing it.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data any, merge bool) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Migrate(ctx context.Context) error
	Close() error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func validateQuery(q Query) error {
	for _, c := range q.Conditions {
		if !fieldPattern.MatchString(c.Field) {
			return eris.Errorf("store: invalid field %q", c.Field)
		}
		switch c.Op {
		case OpEq, OpGt, OpGte, OpLt, OpLte:
		case OpIn:
			if _, ok := expand(c.Value); !ok {
				return eris.Errorf("store: %q requires a slice value", c.Field)
			}
		default:
			return eris.Errorf("store: unsupported operator %q", c.Op)
		}
	}
	if q.OrderBy != "" && !fieldPattern.MatchString(q.OrderBy) {
		return eris.Errorf("store: invalid order field %q", q.OrderBy)
	}
	return nil
}

func persistErr(err error, op string) error {
	return eris.Wrapf(ErrPersistence, "%s: %v", op, err)
}

func marshalData(data any) ([]byte, error) {
	switch v := data.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal document")
	}
	return b, nil
}

// scalar reduces named types (model.ThreadStatus and friends) to their
// underlying primitive so drivers can bind them.
func scalar(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// expand turns a slice value of an "in" condition into scalars.
func expand(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = scalar(rv.Index(i).Interface())
	}
	return out, true
}
