package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"tasklane/api/internal/logutils"
)

const idxTasks = "tasklane_tasks"

const defaultLimit = 50

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the task index.
// An unreachable server is not an error; the health loop keeps retrying.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logutils.Log.WithError(err).WithField("url", url).Warn("search: meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTasks,
		PrimaryKey: "id",
	}); err != nil {
		logutils.Log.WithError(err).Debug("search: create index (may already exist)")
	}

	index := m.client.Index(idxTasks)
	filterable := []interface{}{"workspaceId", "projectId", "status", "assigneeId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		logutils.Log.WithError(err).Warn("search: update filterable attrs")
	}
	searchable := []string{"name", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		logutils.Log.WithError(err).Warn("search: update searchable attrs")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logutils.Log.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) SearchTaskIDs(ctx context.Context, q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{buildTaskRequest(q)},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	ids := make([]string, 0)
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func buildTaskRequest(q Query) *meili.SearchRequest {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}
	return &meili.SearchRequest{
		IndexUID:             idxTasks,
		Query:                q.Text,
		Limit:                limit,
		Filter:               taskFilters(q),
		AttributesToRetrieve: []string{"id"},
	}
}

// taskFilters always scopes by workspace so hits never leak across tenants.
func taskFilters(q Query) []string {
	var filters []string
	if q.ProjectIDs != nil {
		quoted := make([]string, 0, len(q.ProjectIDs))
		for _, id := range q.ProjectIDs {
			quoted = append(quoted, fmt.Sprintf("%q", id))
		}
		filters = append(filters, fmt.Sprintf("projectId IN [%s]", strings.Join(quoted, ", ")))
	} else {
		filters = append(filters, fmt.Sprintf("workspaceId = %q", q.WorkspaceID))
	}
	if q.ProjectID != "" {
		filters = append(filters, fmt.Sprintf("projectId = %q", q.ProjectID))
	}
	if q.AssigneeID != "" {
		filters = append(filters, fmt.Sprintf("assigneeId = %q", q.AssigneeID))
	}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.Status))
	}
	return filters
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexTask adds or updates a task in the search index.
func (m *Meili) IndexTask(task TaskRecord) error {
	_, err := m.client.Index(idxTasks).AddDocuments([]TaskRecord{task}, nil)
	return err
}

// IndexTasks bulk-indexes tasks.
func (m *Meili) IndexTasks(tasks []TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTasks).AddDocuments(tasks, nil)
	return err
}

// DeleteTask removes a task from the search index.
func (m *Meili) DeleteTask(id string) error {
	_, err := m.client.Index(idxTasks).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteTasks(ids []string) error {
	for _, id := range ids {
		if err := m.DeleteTask(id); err != nil {
			return err
		}
	}
	return nil
}
