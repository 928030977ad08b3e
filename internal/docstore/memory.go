package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// UniqueKey rejects a second document in Collection carrying the same values
// for Fields. Fold compares the values case-insensitively.
type UniqueKey struct {
	Collection string
	Fields     []string
	Fold       bool
}

type MemoryOption func(*Memory)

// WithClock overrides the source of created/updated timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func WithUniqueKeys(keys ...UniqueKey) MemoryOption {
	return func(m *Memory) {
		m.unique = append(m.unique, keys...)
	}
}

type memoryCollection struct {
	order []string
	docs  map[string]Document
}

// Memory is an in-process Store. Data is round-tripped through JSON on write
// so values read back with the same types the Postgres store produces.
type Memory struct {
	mu          sync.RWMutex
	now         func() time.Time
	unique      []UniqueKey
	collections map[string]*memoryCollection
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:         time.Now,
		collections: map[string]*memoryCollection{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll := m.collections[collection]
	if coll == nil {
		return Document{}, ErrNotFound
	}
	doc, ok := coll.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *Memory) List(ctx context.Context, collection string, query Query) (ListResult, error) {
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}
	for _, f := range query.Filters {
		if err := validateFilter(f); err != nil {
			return ListResult{}, err
		}
	}

	m.mu.RLock()
	matched := m.match(collection, query.Filters)
	m.mu.RUnlock()

	if len(query.Orders) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return lessByOrders(matched[i], matched[j], query.Orders)
		})
	}

	total := len(matched)
	start := query.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if query.Limit > 0 && start+query.Limit < end {
		end = start + query.Limit
	}

	page := make([]Document, 0, end-start)
	for _, doc := range matched[start:end] {
		page = append(page, copyDocument(doc))
	}
	return ListResult{Documents: page, Total: total}, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, f := range filters {
		if err := validateFilter(f); err != nil {
			return 0, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.match(collection, filters)), nil
}

func (m *Memory) Create(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Document{}, fmt.Errorf("%w: empty id", ErrInvalidQuery)
	}
	normalized, err := roundTrip(data)
	if err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collections[collection]
	if coll == nil {
		coll = &memoryCollection{docs: map[string]Document{}}
		m.collections[collection] = coll
	}
	if _, exists := coll.docs[id]; exists {
		return Document{}, ErrAlreadyExists
	}
	if err := m.checkUnique(collection, coll, id, normalized); err != nil {
		return Document{}, err
	}

	now := m.now().UTC()
	doc := Document{ID: id, CreatedAt: now, UpdatedAt: now, Data: normalized}
	coll.docs[id] = doc
	coll.order = append(coll.order, id)
	return copyDocument(doc), nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, patch map[string]any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	normalizedPatch, err := roundTripPatch(patch)
	if err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collections[collection]
	if coll == nil {
		return Document{}, ErrNotFound
	}
	doc, ok := coll.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}

	merged := mergePatch(doc.Data, normalizedPatch)
	if err := m.checkUnique(collection, coll, id, merged); err != nil {
		return Document{}, err
	}
	doc.Data = merged
	doc.UpdatedAt = m.now().UTC()
	coll.docs[id] = doc
	return copyDocument(doc), nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collections[collection]
	if coll == nil {
		return ErrNotFound
	}
	if _, ok := coll.docs[id]; !ok {
		return ErrNotFound
	}
	delete(coll.docs, id)
	for i, existing := range coll.order {
		if existing == id {
			coll.order = append(coll.order[:i], coll.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// match returns matching documents in insertion order. Caller holds the lock.
func (m *Memory) match(collection string, filters []Filter) []Document {
	coll := m.collections[collection]
	if coll == nil {
		return nil
	}
	out := make([]Document, 0, len(coll.order))
	for _, id := range coll.order {
		doc := coll.docs[id]
		if matchesAll(doc, filters) {
			out = append(out, doc)
		}
	}
	return out
}

func (m *Memory) checkUnique(collection string, coll *memoryCollection, id string, data map[string]any) error {
	for _, key := range m.unique {
		if key.Collection != collection {
			continue
		}
		want, ok := uniqueValue(key, data)
		if !ok {
			continue
		}
		for otherID, other := range coll.docs {
			if otherID == id {
				continue
			}
			if got, ok := uniqueValue(key, other.Data); ok && got == want {
				return fmt.Errorf("%w: %s(%s)", ErrAlreadyExists, collection, strings.Join(key.Fields, ","))
			}
		}
	}
	return nil
}

func uniqueValue(key UniqueKey, data map[string]any) (string, bool) {
	parts := make([]string, 0, len(key.Fields))
	for _, field := range key.Fields {
		value, ok := data[field]
		if !ok || value == nil {
			return "", false
		}
		text := textOf(value)
		if key.Fold {
			text = strings.ToLower(text)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\x00"), true
}

func matchesAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !matches(doc, f) {
			return false
		}
	}
	return true
}

func matches(doc Document, f Filter) bool {
	stored, ok := fieldValue(doc, f.Field)
	if !ok {
		return false
	}

	switch f.Op {
	case OpIn:
		text := textOf(stored)
		for _, candidate := range f.Value.([]string) {
			if candidate == text {
				return true
			}
		}
		return false
	case OpContains:
		return strings.Contains(strings.ToLower(textOf(stored)), strings.ToLower(f.Value.(string)))
	}

	operand, _ := normalizeValue(f.Value)
	var cmp int
	comparable := true
	if text, isText := operand.(string); isText {
		// A text operand compares against the stored value's text form, as
		// data->>'field' does in Postgres.
		cmp = strings.Compare(textOf(stored), text)
	} else {
		cmp, comparable = compareValues(stored, operand)
	}
	switch f.Op {
	case OpEqual:
		return comparable && cmp == 0
	case OpNotEqual:
		return !comparable || cmp != 0
	case OpGreaterThan:
		return comparable && cmp > 0
	case OpGreaterThanEqual:
		return comparable && cmp >= 0
	case OpLessThan:
		return comparable && cmp < 0
	case OpLessThanEqual:
		return comparable && cmp <= 0
	}
	return false
}

func fieldValue(doc Document, field string) (any, bool) {
	switch field {
	case FieldID:
		return doc.ID, true
	case FieldCreatedAt:
		return FormatTime(doc.CreatedAt), true
	case FieldUpdatedAt:
		return FormatTime(doc.UpdatedAt), true
	}
	value, ok := doc.Data[field]
	if !ok || value == nil {
		return nil, false
	}
	return normalizeValue(value)
}

// compareValues orders two normalized values. Numbers compare numerically and
// strings bytewise. A number and a string are not comparable.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	}
	return 0, false
}

// lessByOrders sorts missing values after present ones in either direction.
func lessByOrders(a, b Document, orders []Order) bool {
	for _, order := range orders {
		av, aok := fieldValue(a, order.Field)
		bv, bok := fieldValue(b, order.Field)
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return false
		case !bok:
			return true
		}
		cmp, ok := compareValues(av, bv)
		if !ok {
			cmp = strings.Compare(textOf(av), textOf(bv))
		}
		if cmp == 0 {
			continue
		}
		if order.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func textOf(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	normalized, ok := normalizeValue(value)
	if !ok {
		return ""
	}
	if f, isFloat := normalized.(float64); isFloat {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return normalized.(string)
}

func roundTrip(data map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(data) == 0 {
		return out, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	return out, nil
}

// roundTripPatch keeps nil entries so mergePatch can remove those keys.
func roundTripPatch(patch map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(patch) == 0 {
		return out, nil
	}
	encoded, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return out, nil
}

func mergePatch(data, patch map[string]any) map[string]any {
	merged := cloneData(data)
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

func copyDocument(doc Document) Document {
	doc.Data = cloneData(doc.Data)
	return doc
}
