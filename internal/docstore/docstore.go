// Package docstore is the document store adapter: schemaless documents grouped
// into collections, addressed by id and queried with simple filters.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Reserved field names addressing the store-managed attributes of a document.
const (
	FieldID        = "$id"
	FieldCreatedAt = "$createdAt"
	FieldUpdatedAt = "$updatedAt"
)

// TimeLayout is the wire format for timestamps. Fixed width and UTC, so
// lexicographic order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrInvalidQuery  = errors.New("invalid query")
)

type Document struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      map[string]any
}

// String returns Data[key] as a string, or "" when absent or not a string.
func (d Document) String(key string) string {
	value, _ := d.Data[key].(string)
	return value
}

func (d Document) Float(key string) float64 {
	switch v := d.Data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		parsed, _ := strconv.ParseFloat(v, 64)
		return parsed
	default:
		return 0
	}
}

type Op string

const (
	OpEqual            Op = "equal"
	OpNotEqual         Op = "notEqual"
	OpGreaterThan      Op = "greaterThan"
	OpGreaterThanEqual Op = "greaterThanEqual"
	OpLessThan         Op = "lessThan"
	OpLessThanEqual    Op = "lessThanEqual"
	OpIn               Op = "in"
	OpContains         Op = "contains"
)

// Filter is a single predicate. A document whose field is absent never
// matches, whatever the operator, mirroring SQL NULL comparison.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Equal(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

func NotEqual(field string, value any) Filter {
	return Filter{Field: field, Op: OpNotEqual, Value: value}
}

func GreaterThan(field string, value any) Filter {
	return Filter{Field: field, Op: OpGreaterThan, Value: value}
}

func GreaterThanEqual(field string, value any) Filter {
	return Filter{Field: field, Op: OpGreaterThanEqual, Value: value}
}

func LessThan(field string, value any) Filter {
	return Filter{Field: field, Op: OpLessThan, Value: value}
}

func LessThanEqual(field string, value any) Filter {
	return Filter{Field: field, Op: OpLessThanEqual, Value: value}
}

func In(field string, values []string) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// Contains is a case-insensitive substring match.
func Contains(field, value string) Filter {
	return Filter{Field: field, Op: OpContains, Value: value}
}

// Between is the inclusive range start <= field <= end.
func Between(field string, start, end time.Time) []Filter {
	return []Filter{GreaterThanEqual(field, start), LessThanEqual(field, end)}
}

type Order struct {
	Field string
	Desc  bool
}

func OrderAsc(field string) Order  { return Order{Field: field} }
func OrderDesc(field string) Order { return Order{Field: field, Desc: true} }

type Query struct {
	Filters []Filter
	Orders  []Order
	// Limit <= 0 returns every match.
	Limit  int
	Offset int
}

// ListResult carries one page of documents and the total number of matches.
type ListResult struct {
	Documents []Document
	Total     int
}

type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, collection string, query Query) (ListResult, error)
	Count(ctx context.Context, collection string, filters ...Filter) (int, error)
	Create(ctx context.Context, collection, id string, data map[string]any) (Document, error)
	// Update merges patch into the stored data; a nil value removes the key.
	Update(ctx context.Context, collection, id string, patch map[string]any) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	Ping(ctx context.Context) error
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout as well as any RFC 3339 timestamp.
func ParseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t.UTC(), nil
}

// normalizeValue converts a filter operand or stored value into a string or
// float64 so both store implementations compare the same way.
func normalizeValue(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case string:
		return v, true
	case time.Time:
		return FormatTime(v), true
	case *time.Time:
		if v == nil {
			return nil, false
		}
		return FormatTime(*v), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

func validateFilter(f Filter) error {
	if f.Field == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidQuery)
	}
	switch f.Op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanEqual, OpLessThan, OpLessThanEqual:
		if _, ok := normalizeValue(f.Value); !ok {
			return fmt.Errorf("%w: %s %s requires a value", ErrInvalidQuery, f.Field, f.Op)
		}
	case OpIn:
		if _, ok := f.Value.([]string); !ok {
			return fmt.Errorf("%w: %s in requires []string", ErrInvalidQuery, f.Field)
		}
	case OpContains:
		if _, ok := f.Value.(string); !ok {
			return fmt.Errorf("%w: %s contains requires a string", ErrInvalidQuery, f.Field)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
	}
	return nil
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
