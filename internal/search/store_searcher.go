package search

import (
	"context"
	"fmt"
	"strings"

	"tasklane/api/internal/docstore"
	"tasklane/api/internal/store"
)

// StoreSearcher answers searches with a substring match on task names and
// descriptions in the document store.
type StoreSearcher struct {
	docs docstore.Store
}

func NewStoreSearcher(docs docstore.Store) *StoreSearcher {
	return &StoreSearcher{docs: docs}
}

// Healthy always returns true, if the document store is down the whole app is down.
func (s *StoreSearcher) Healthy() bool {
	return true
}

func (s *StoreSearcher) SearchTaskIDs(ctx context.Context, q Query) ([]string, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	scope := docstore.Equal("workspaceId", q.WorkspaceID)
	if q.ProjectIDs != nil {
		if len(q.ProjectIDs) == 0 {
			return []string{}, nil
		}
		scope = docstore.In("projectId", q.ProjectIDs)
	}
	base := []docstore.Filter{scope}
	if q.ProjectID != "" {
		base = append(base, docstore.Equal("projectId", q.ProjectID))
	}
	if q.AssigneeID != "" {
		base = append(base, docstore.Equal("assigneeId", q.AssigneeID))
	}
	if q.Status != "" {
		base = append(base, docstore.Equal("status", q.Status))
	}

	seen := map[string]bool{}
	ids := make([]string, 0)
	for _, field := range []string{"name", "description"} {
		result, err := s.docs.List(ctx, store.CollectionTasks, docstore.Query{
			Filters: append(append([]docstore.Filter{}, base...), docstore.Contains(field, text)),
			Orders:  []docstore.Order{docstore.OrderDesc(docstore.FieldCreatedAt)},
			Limit:   q.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("search tasks by %s: %w", field, err)
		}
		for _, doc := range result.Documents {
			if !seen[doc.ID] {
				seen[doc.ID] = true
				ids = append(ids, doc.ID)
			}
		}
	}
	return ids, nil
}
