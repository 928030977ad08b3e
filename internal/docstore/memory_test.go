package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Second}
	return NewMemory(
		WithClock(clock.Now),
		WithUniqueKeys(UniqueKey{Collection: "members", Fields: []string{"workspaceId", "userId"}}),
	)
}

func seedTasks(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	tasks := []struct {
		id   string
		data map[string]any
	}{
		{"t1", map[string]any{"workspaceId": "w1", "status": "TODO", "position": 1000, "name": "Write docs", "dueDate": "2024-03-10T00:00:00.000Z"}},
		{"t2", map[string]any{"workspaceId": "w1", "status": "DONE", "position": 2000, "name": "Ship release", "dueDate": "2024-03-20T00:00:00.000Z"}},
		{"t3", map[string]any{"workspaceId": "w1", "status": "TODO", "position": 3000, "name": "Fix login"}},
		{"t4", map[string]any{"workspaceId": "w2", "status": "IN_REVIEW", "position": 1000, "name": "Other workspace"}},
	}
	for _, task := range tasks {
		if _, err := store.Create(ctx, "tasks", task.id, task.data); err != nil {
			t.Fatalf("Create(%s) error = %v", task.id, err)
		}
	}
}

func TestMemoryCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory(t)

	created, err := store.Create(ctx, "projects", "p1", map[string]any{"name": "Roadmap", "workspaceId": "w1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("unexpected timestamps %+v", created)
	}

	if _, err := store.Create(ctx, "projects", "p1", map[string]any{"name": "dup"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	updated, err := store.Update(ctx, "projects", "p1", map[string]any{"name": "Roadmap 2", "imageUrl": nil})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.String("name") != "Roadmap 2" || updated.String("workspaceId") != "w1" {
		t.Fatalf("unexpected merge result %+v", updated.Data)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("expected updatedAt to advance")
	}

	removed, err := store.Update(ctx, "projects", "p1", map[string]any{"workspaceId": nil})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, ok := removed.Data["workspaceId"]; ok {
		t.Fatalf("expected nil patch value to remove key")
	}

	if err := store.Delete(ctx, "projects", "p1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "projects", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "projects", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory(t)
	doc, err := store.Create(ctx, "projects", "p1", map[string]any{"name": "Roadmap"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	doc.Data["name"] = "mutated"

	fetched, err := store.Get(ctx, "projects", "p1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if fetched.String("name") != "Roadmap" {
		t.Fatalf("stored document was mutated through returned copy")
	}
}

func TestMemoryNormalizesNumbers(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory(t)
	doc, err := store.Create(ctx, "tasks", "t1", map[string]any{"position": 1000})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := doc.Data["position"].(float64); !ok {
		t.Fatalf("expected float64 position, got %T", doc.Data["position"])
	}
	if doc.Float("position") != 1000 {
		t.Fatalf("unexpected position %v", doc.Float("position"))
	}
}

func TestMemoryFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory(t)
	seedTasks(t, store)

	cases := []struct {
		name    string
		filters []Filter
		want    int
	}{
		{name: "equal", filters: []Filter{Equal("workspaceId", "w1")}, want: 3},
		{name: "not equal", filters: []Filter{Equal("workspaceId", "w1"), NotEqual("status", "DONE")}, want: 2},
		{name: "number greater than", filters: []Filter{GreaterThan("position", 1000)}, want: 2},
		{name: "number less than equal", filters: []Filter{LessThanEqual("position", 1000)}, want: 2},
		{name: "time less than", filters: []Filter{LessThan("dueDate", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))}, want: 1},
		{name: "missing field never matches", filters: []Filter{NotEqual("dueDate", "2024-03-10T00:00:00.000Z")}, want: 1},
		{name: "in", filters: []Filter{In("status", []string{"TODO", "IN_REVIEW"})}, want: 3},
		{name: "contains is case insensitive", filters: []Filter{Contains("name", "LOGIN")}, want: 1},
		{name: "id", filters: []Filter{Equal(FieldID, "t2")}, want: 1},
		{name: "created at range", filters: Between(FieldCreatedAt, time.Date(2024, 3, 1, 9, 0, 1, 0, time.UTC), time.Date(2024, 3, 1, 9, 0, 2, 0, time.UTC)), want: 2},
		{name: "no match", filters: []Filter{Equal("workspaceId", "missing")}, want: 0},
		// Mixed operand types follow the Postgres clauses: text operands
		// compare against the stored text form, number operands only order numbers.
		{name: "text operand on number equal", filters: []Filter{Equal("position", "1000")}, want: 2},
		{name: "text operand on number not equal", filters: []Filter{NotEqual("position", "1000")}, want: 2},
		{name: "number operand on text not equal", filters: []Filter{NotEqual("name", 5)}, want: 4},
		{name: "number operand on text equal", filters: []Filter{Equal("name", 5)}, want: 0},
		{name: "number operand on text range", filters: []Filter{GreaterThan("name", 0)}, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.Count(ctx, "tasks", tc.filters...)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("Count() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestMemoryListOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory(t)
	seedTasks(t, store)

	result, err := store.List(ctx, "tasks", Query{
		Filters: []Filter{Equal("workspaceId", "w1")},
		Orders:  []Order{OrderDesc(FieldCreatedAt)},
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 3 || len(result.Documents) != 2 {
		t.Fatalf("unexpected page total=%d len=%d", result.Total, len(result.Documents))
	}
	if result.Documents[0].ID != "t3" || result.Documents[1].ID != "t2" {
		t.Fatalf("unexpected order %s,%s", result.Documents[0].ID, result.Documents[1].ID)
	}

	next, err := store.List(ctx, "tasks", Query{
		Filters: []Filter{Equal("workspaceId", "w1")},
		Orders:  []Order{OrderDesc(FieldCreatedAt)},
		Limit:   2,
		Offset:  2,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(next.Documents) != 1 || next.Documents[0].ID != "t1" {
		t.Fatalf("unexpected second page %+v", next.Documents)
	}

	byDue, err := store.List(ctx, "tasks", Query{
		Filters: []Filter{Equal("workspaceId", "w1")},
		Orders:  []Order{OrderAsc("dueDate")},
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if byDue.Documents[2].ID != "t3" {
		t.Fatalf("expected document without dueDate last, got %s", byDue.Documents[2].ID)
	}
}

func TestMemoryUniqueKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestMemory(t)
	if _, err := store.Create(ctx, "members", "m1", map[string]any{"workspaceId": "w1", "userId": "u1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Create(ctx, "members", "m2", map[string]any{"workspaceId": "w1", "userId": "u1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := store.Create(ctx, "members", "m3", map[string]any{"workspaceId": "w2", "userId": "u1"}); err != nil {
		t.Fatalf("Create() in other workspace error = %v", err)
	}
}

func TestMemoryRejectsInvalidQuery(t *testing.T) {
	store := newTestMemory(t)
	_, err := store.Count(context.Background(), "tasks", Filter{Field: "status", Op: "regex", Value: ".*"})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestMemoryHonorsCanceledContext(t *testing.T) {
	store := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Count(ctx, "tasks"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
