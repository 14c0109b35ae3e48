// Package docstore is the document-store capability the vector subsystem persists through:
// collections of JSON-like records addressed by path, with field queries, partial updates
// and atomic batch deletes. Backends: in-memory, Postgres (with pgvector) and SQLite.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrInvalidField is returned for filter fields that are not dotted identifiers
	ErrInvalidField = errors.New("invalid field path")
	// ErrBatchTooLarge is returned when BatchDelete exceeds MaxBatchSize
	ErrBatchTooLarge = errors.New("batch exceeds store limit")
)

// DefaultMaxBatchSize matches the per-batch write limit of hosted document stores
const DefaultMaxBatchSize = 500

// TimeLayout is the fixed-width UTC layout timestamps are persisted with, so that
// lexical and chronological order agree in every backend.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Op is a comparison operator in a Filter
type Op string

const (
	OpEqual          Op = "=="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
)

func (o Op) valid() bool {
	switch o {
	case OpEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		return true
	}
	return false
}

// Ref addresses one document
type Ref struct {
	Collection string
	ID         string
}

// Path returns collection/id
func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

func (r Ref) String() string { return r.Path() }

// ParseRef splits a document path at its last segment
func ParseRef(path string) (Ref, error) {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return Ref{}, fmt.Errorf("invalid document path %q", path)
	}
	return Ref{Collection: path[:i], ID: path[i+1:]}, nil
}

// Document is a stored record
type Document struct {
	Ref  Ref
	Data map[string]interface{}
}

// Filter compares the value at a dotted field path
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Query selects documents of one collection matching all filters, in insertion order
type Query struct {
	Filters []Filter
	Limit   int
}

// Where returns a copy of q with one more filter
func (q Query) Where(field string, op Op, value interface{}) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// WithLimit returns a copy of q capped at n results (0 = unlimited)
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Validate checks every filter's field path and operator
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if err := ValidateField(f.Field); err != nil {
			return err
		}
		if !f.Op.valid() {
			return fmt.Errorf("unsupported operator %q", f.Op)
		}
	}
	return nil
}

// Store is the document-store capability
type Store interface {
	Get(ctx context.Context, ref Ref) (*Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Count returns how many documents Query would match, without reading them
	Count(ctx context.Context, collection string, q Query) (int, error)
	Add(ctx context.Context, collection string, data map[string]interface{}) (Ref, error)
	// Update merges top-level fields of data into the document; missing documents yield ErrNotFound.
	Update(ctx context.Context, ref Ref, data map[string]interface{}) error
	// BatchDelete removes all refs atomically; at most MaxBatchSize refs per call.
	BatchDelete(ctx context.Context, refs []Ref) error
	MaxBatchSize() int
	// ListCollections returns collection paths ending in suffix
	ListCollections(ctx context.Context, suffix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidateField accepts dotted identifier paths such as metadata.createdAt
func ValidateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return nil
}

// FormatTime renders t in TimeLayout
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts a time.Time or an RFC 3339 string
func ParseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// Lookup resolves a dotted field path in data
func Lookup(data map[string]interface{}, field string) (interface{}, bool) {
	var cur interface{} = data
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Compare orders a against b. ok is false when the two are not comparable;
// such pairs never satisfy a filter, the same way a missing field does not.
func Compare(a, b interface{}) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := ParseTime(b)
		if !ok {
			return 0, false
		}
		return cmpTime(ta, tb), true
	}
	if tb, ok := b.(time.Time); ok {
		ta, ok := ParseTime(a)
		if !ok {
			return 0, false
		}
		return cmpTime(ta, tb), true
	}
	if fa, ok := Float(a); ok {
		fb, ok := Float(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(va, vb), true
	case bool:
		vb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case va == vb:
			return 0, true
		case !va:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// Float converts any numeric value to float64
func Float(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Matches reports whether data satisfies every filter
func Matches(data map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		v, ok := Lookup(data, f.Field)
		if !ok {
			return false
		}
		c, ok := Compare(v, f.Value)
		if !ok {
			return false
		}
		var pass bool
		switch f.Op {
		case OpEqual:
			pass = c == 0
		case OpLess:
			pass = c < 0
		case OpLessOrEqual:
			pass = c <= 0
		case OpGreater:
			pass = c > 0
		case OpGreaterOrEqual:
			pass = c >= 0
		}
		if !pass {
			return false
		}
	}
	return true
}

// Chunk splits refs into consecutive slices of at most size refs
func Chunk(refs []Ref, size int) [][]Ref {
	if size <= 0 {
		size = DefaultMaxBatchSize
	}
	var out [][]Ref
	for start := 0; start < len(refs); start += size {
		end := start + size
		if end > len(refs) {
			end = len(refs)
		}
		out = append(out, refs[start:end])
	}
	return out
}
