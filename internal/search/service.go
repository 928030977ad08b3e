package search

import (
	"context"
	"strings"

	"tasklane/api/internal/logutils"
)

// Service prefers Meilisearch and falls back to the document store.
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService accepts a nil meili client when search is not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// SearchTaskIDs tries Meilisearch if healthy, otherwise the fallback.
func (s *Service) SearchTaskIDs(ctx context.Context, q Query) ([]string, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.SearchTaskIDs(ctx, q)
		if err == nil {
			return nonNil(ids), nil
		}
		logutils.Log.WithError(err).Warn("search: meilisearch error, falling back to document store")
	}
	ids, err := s.fallback.SearchTaskIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	return nonNil(ids), nil
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(task TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTask(task); err != nil {
			logutils.Log.WithError(err).WithField("task_id", task.ID).Warn("search: index task")
		}
	}()
}

// DeleteTask removes a task from the search index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			logutils.Log.WithError(err).WithField("task_id", id).Warn("search: delete task")
		}
	}()
}

// DeleteTasks removes several tasks, used when a project or workspace goes.
func (s *Service) DeleteTasks(ids []string) {
	if len(ids) == 0 || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTasks(ids); err != nil {
			logutils.Log.WithError(err).WithField("count", len(ids)).Warn("search: delete tasks")
		}
	}()
}

// Enabled reports whether a Meilisearch backend was configured.
func (s *Service) Enabled() bool {
	return s.meili != nil
}

func (s *Service) Healthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
