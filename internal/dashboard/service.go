// Package dashboard serves the home screen data through a short-lived read
// cache, falling back to the last cached copy and then to zero values when
// the backend cannot be reached.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaulonline/iriseller-mobile/internal/endpoints"
	"github.com/kaulonline/iriseller-mobile/internal/gateway"
	"github.com/kaulonline/iriseller-mobile/internal/readcache"
)

// Cache keys owned by the dashboard.
const (
	OverviewCacheKey = "@IRISeller:dashboardCache"
	MetricsCacheKey  = "@IRISeller:metricsCache"
	TasksCacheKey    = "@IRISeller:tasksCache"
)

// API is the subset of the gateway the dashboard calls.
type API interface {
	Get(ctx context.Context, path string, opts ...gateway.RequestOption) (*gateway.Result, error)
	Put(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Result, error)
}

// Service reads dashboard data.
type Service struct {
	api   API
	cache *readcache.Cache
	now   func() time.Time
	log   zerolog.Logger
}

func NewService(api API, cache *readcache.Cache, log zerolog.Logger) *Service {
	return &Service{
		api:   api,
		cache: cache,
		now:   time.Now,
		log:   log.With().Str("component", "dashboard").Logger(),
	}
}

// Overview returns the headline numbers. It never fails: on error it serves
// the cached copy, or a zeroed Overview with Source "default".
func (s *Service) Overview(ctx context.Context, forceRefresh bool) Overview {
	return fetch(ctx, s, OverviewCacheKey, endpoints.DashboardOverview, forceRefresh, s.defaultOverview)
}

// PerformanceMetrics returns the KPI block with the same fallbacks as
// Overview.
func (s *Service) PerformanceMetrics(ctx context.Context, forceRefresh bool) PerformanceMetrics {
	return fetch(ctx, s, MetricsCacheKey, endpoints.DashboardPerformance, forceRefresh, func() PerformanceMetrics {
		return PerformanceMetrics{}
	})
}

// Tasks returns the rep's tasks, or an empty list when nothing is available.
func (s *Service) Tasks(ctx context.Context, forceRefresh bool) []Task {
	return fetch(ctx, s, TasksCacheKey, endpoints.DashboardTasks, forceRefresh, func() []Task {
		return []Task{}
	})
}

// UpdateTaskStatus changes a task's status and patches the cached task list
// with the backend's copy.
func (s *Service) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus) (*Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("dashboard: unknown task status %q", status)
	}
	path := endpoints.Expand(endpoints.TaskDetails, map[string]string{"taskId": taskID})
	task, err := gateway.DecodeResult[Task](s.api.Put(ctx, path, map[string]TaskStatus{"status": status}))
	if err != nil {
		s.log.Error().Err(err).Str("task", taskID).Msg("error updating task")
		return nil, err
	}

	var tasks []Task
	if s.cache.Get(ctx, TasksCacheKey, &tasks) {
		for i := range tasks {
			if tasks[i].ID == taskID {
				tasks[i] = task
				s.cache.Put(ctx, TasksCacheKey, tasks)
				break
			}
		}
	}
	return &task, nil
}

// ClearCache drops every dashboard cache entry.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx, OverviewCacheKey, MetricsCacheKey, TasksCacheKey); err != nil {
		return err
	}
	s.log.Info().Msg("cache cleared")
	return nil
}

func (s *Service) defaultOverview() Overview {
	return Overview{
		Period:      "all",
		LastUpdated: s.now().UTC().Format(time.RFC3339),
		Source:      "default",
	}
}

func fetch[T any](ctx context.Context, s *Service, key, path string, forceRefresh bool, fallback func() T) T {
	var out T
	if !forceRefresh && s.cache.Get(ctx, key, &out) {
		s.log.Debug().Str("key", key).Msg("using cached data")
		return out
	}

	// Reads are served from cache when offline, never queued for replay.
	fresh, err := gateway.DecodeResult[T](s.api.Get(ctx, path, gateway.WithoutQueue()))
	if err == nil {
		s.cache.Put(ctx, key, fresh)
		return fresh
	}
	s.log.Warn().Err(err).Str("path", path).Msg("error fetching dashboard data")

	var cached T
	if s.cache.Get(ctx, key, &cached) {
		s.log.Info().Str("key", key).Msg("returning cached data due to error")
		return cached
	}
	return fallback()
}
