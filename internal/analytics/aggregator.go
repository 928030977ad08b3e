// Package analytics computes month-over-month task counts for a project or a
// workspace.
package analytics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"tasklane/api/internal/docstore"
	"tasklane/api/internal/store"
)

// Report is the flat analytics payload. Metrics overlap: one task can be
// counted as assigned and overdue at the same time.
type Report struct {
	TaskCount                 int `json:"taskCount"`
	TaskDifference            int `json:"taskDifference"`
	AssignedTaskCount         int `json:"assignedTaskCount"`
	AssignedTaskDifference    int `json:"assignedTaskDifference"`
	IncompletedTaskCount      int `json:"incompletedTaskCount"`
	IncompletedTaskDifference int `json:"incompletedTaskDifference"`
	CompletedTaskCount        int `json:"completedTaskCount"`
	CompletedTaskDifference   int `json:"completedTaskDifference"`
	OverdueTaskCount          int `json:"overdueTaskCount"`
	OverdueTaskDifference     int `json:"overdueTaskDifference"`
}

// Counter is the slice of the document store the aggregator reads through.
type Counter interface {
	Count(ctx context.Context, collection string, filters ...docstore.Filter) (int, error)
}

// Scope restricts every count to tasks whose Field equals ID or, when IDs is
// non-nil, to tasks whose Field is one of IDs.
type Scope struct {
	Field string
	ID    string
	IDs   []string
}

func ProjectScope(projectID string) Scope {
	return Scope{Field: "projectId", ID: projectID}
}

// WorkspaceScope covers the tasks of the projects a workspace currently owns.
// The workspace id copied onto tasks is not used since it goes stale when a
// project moves.
func WorkspaceScope(projectIDs []string) Scope {
	return Scope{Field: "projectId", IDs: append([]string{}, projectIDs...)}
}

func (s Scope) filter() docstore.Filter {
	if s.IDs != nil {
		return docstore.In(s.Field, s.IDs)
	}
	return docstore.Equal(s.Field, s.ID)
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLocation sets the zone in which calendar months are cut.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

type Aggregator struct {
	tasks Counter
	now   func() time.Time
	loc   *time.Location
}

func NewAggregator(tasks Counter, opts ...Option) *Aggregator {
	a := &Aggregator{tasks: tasks, now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type metric int

const (
	metricTotal metric = iota
	metricAssigned
	metricIncomplete
	metricComplete
	metricOverdue
	metricCount
)

type period int

const (
	periodThis period = iota
	periodLast
	periodCount
)

// ProjectAnalytics computes the report for a project. member is the caller's
// membership as returned by the access guard; its id drives the assigned
// metric.
func (a *Aggregator) ProjectAnalytics(ctx context.Context, projectID string, member store.Membership) (Report, error) {
	return a.Compute(ctx, ProjectScope(projectID), member.ID)
}

// WorkspaceAnalytics computes the report across projectIDs, the projects the
// member's workspace owns.
func (a *Aggregator) WorkspaceAnalytics(ctx context.Context, projectIDs []string, member store.Membership) (Report, error) {
	return a.Compute(ctx, WorkspaceScope(projectIDs), member.ID)
}

// Compute issues every count concurrently and assembles the report only when
// all of them succeed.
func (a *Aggregator) Compute(ctx context.Context, scope Scope, assigneeID string) (Report, error) {
	if scope.IDs == nil && scope.ID == "" {
		return Report{}, fmt.Errorf("analytics scope %s is empty", scope.Field)
	}
	if scope.IDs != nil && len(scope.IDs) == 0 {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		return Report{}, nil
	}

	now := a.now()
	thisMonth, lastMonth := MonthWindows(now, a.loc)
	windows := [periodCount]Window{periodThis: thisMonth, periodLast: lastMonth}
	// Overdue is measured against now for the running month and against the
	// closing instant for the month that already ended.
	refs := [periodCount]time.Time{periodThis: now, periodLast: lastMonth.End}

	var counts [metricCount][periodCount]int
	group, groupCtx := errgroup.WithContext(ctx)
	for m := metricTotal; m < metricCount; m++ {
		for p := periodThis; p < periodCount; p++ {
			filters := metricFilters(m, scope, assigneeID, windows[p], refs[p])
			group.Go(func() error {
				total, err := a.tasks.Count(groupCtx, store.CollectionTasks, filters...)
				if err != nil {
					return fmt.Errorf("count tasks: %w", err)
				}
				counts[m][p] = total
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	delta := func(m metric) int { return counts[m][periodThis] - counts[m][periodLast] }
	return Report{
		TaskCount:                 counts[metricTotal][periodThis],
		TaskDifference:            delta(metricTotal),
		AssignedTaskCount:         counts[metricAssigned][periodThis],
		AssignedTaskDifference:    delta(metricAssigned),
		IncompletedTaskCount:      counts[metricIncomplete][periodThis],
		IncompletedTaskDifference: delta(metricIncomplete),
		CompletedTaskCount:        counts[metricComplete][periodThis],
		CompletedTaskDifference:   delta(metricComplete),
		OverdueTaskCount:          counts[metricOverdue][periodThis],
		OverdueTaskDifference:     delta(metricOverdue),
	}, nil
}

func metricFilters(m metric, scope Scope, assigneeID string, window Window, ref time.Time) []docstore.Filter {
	filters := []docstore.Filter{scope.filter()}
	switch m {
	case metricAssigned:
		filters = append(filters, docstore.Equal("assigneeId", assigneeID))
	case metricIncomplete:
		filters = append(filters, docstore.NotEqual("status", string(store.StatusDone)))
	case metricComplete:
		filters = append(filters, docstore.Equal("status", string(store.StatusDone)))
	case metricOverdue:
		filters = append(filters,
			docstore.NotEqual("status", string(store.StatusDone)),
			docstore.LessThan("dueDate", ref),
		)
	}
	return append(filters, docstore.Between(docstore.FieldCreatedAt, window.Start, window.End)...)
}
