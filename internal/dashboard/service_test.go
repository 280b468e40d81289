package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaulonline/iriseller-mobile/internal/apierr"
	"github.com/kaulonline/iriseller-mobile/internal/gateway"
	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
	"github.com/kaulonline/iriseller-mobile/internal/readcache"
)

// fakeAPI answers from a path → body table; a missing path fails with a
// network error and queued marks every call as deferred.
type fakeAPI struct {
	mu     sync.Mutex
	bodies map[string]any
	queued bool
	gets   []string
	puts   map[string]json.RawMessage
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{bodies: map[string]any{}, puts: map[string]json.RawMessage{}}
}

func (f *fakeAPI) set(path string, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
}

func (f *fakeAPI) fail(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bodies, path)
}

func (f *fakeAPI) respond(path string) (*gateway.Result, error) {
	if f.queued {
		return &gateway.Result{Outcome: gateway.OutcomeQueued, QueueID: "q1"}, nil
	}
	body, ok := f.bodies[path]
	if !ok {
		return nil, apierr.NewNetworkError("GET "+path, errors.New("connection refused"))
	}
	raw, _ := json.Marshal(body)
	return &gateway.Result{Outcome: gateway.OutcomeCompleted, StatusCode: 200, Body: raw}, nil
}

func (f *fakeAPI) Get(_ context.Context, path string, _ ...gateway.RequestOption) (*gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, path)
	return f.respond(path)
}

func (f *fakeAPI) Put(_ context.Context, path string, body any, _ ...gateway.RequestOption) (*gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(body)
	f.puts[path] = raw
	return f.respond(path)
}

func (f *fakeAPI) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gets)
}

func newService(api API) (*Service, *kvstore.Memory) {
	store := kvstore.NewMemory()
	return NewService(api, readcache.New(store, time.Minute, zerolog.Nop()), zerolog.Nop()), store
}

func TestOverview_CachesAndServesFromCache(t *testing.T) {
	api := newFakeAPI()
	api.set("/dashboard/overview", Overview{TotalLeads: 12, Source: "api"})
	svc, _ := newService(api)
	ctx := context.Background()

	first := svc.Overview(ctx, false)
	assert.Equal(t, 12, first.TotalLeads)
	assert.Equal(t, 1, api.getCount())

	api.set("/dashboard/overview", Overview{TotalLeads: 99})
	second := svc.Overview(ctx, false)
	assert.Equal(t, 12, second.TotalLeads, "served from cache")
	assert.Equal(t, 1, api.getCount())

	forced := svc.Overview(ctx, true)
	assert.Equal(t, 99, forced.TotalLeads)
	assert.Equal(t, 2, api.getCount())
}

func TestOverview_FallsBackToCacheThenDefault(t *testing.T) {
	api := newFakeAPI()
	api.set("/dashboard/overview", Overview{TotalLeads: 5})
	svc, _ := newService(api)
	ctx := context.Background()

	_ = svc.Overview(ctx, false)
	api.fail("/dashboard/overview")

	got := svc.Overview(ctx, true)
	assert.Equal(t, 5, got.TotalLeads)

	require.NoError(t, svc.ClearCache(ctx))
	got = svc.Overview(ctx, true)
	assert.Zero(t, got.TotalLeads)
	assert.Equal(t, "default", got.Source)
	assert.Equal(t, "all", got.Period)
	assert.NotEmpty(t, got.LastUpdated)
}

func TestReads_QueuedWhileOfflineUseFallbacks(t *testing.T) {
	api := newFakeAPI()
	api.queued = true
	svc, _ := newService(api)
	ctx := context.Background()

	assert.Equal(t, PerformanceMetrics{}, svc.PerformanceMetrics(ctx, false))
	tasks := svc.Tasks(ctx, false)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestUpdateTaskStatus_PatchesCachedList(t *testing.T) {
	api := newFakeAPI()
	api.set("/dashboard/tasks", []Task{
		{ID: "t1", Title: "Call Acme", Status: TaskPending},
		{ID: "t2", Title: "Send proposal", Status: TaskPending},
	})
	api.set("/tasks/t2", Task{ID: "t2", Title: "Send proposal", Status: TaskCompleted})
	svc, _ := newService(api)
	ctx := context.Background()

	require.Len(t, svc.Tasks(ctx, false), 2)

	task, err := svc.UpdateTaskStatus(ctx, "t2", TaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, task.Status)
	assert.JSONEq(t, `{"status":"completed"}`, string(api.puts["/tasks/t2"]))

	cached := svc.Tasks(ctx, false)
	require.Len(t, cached, 2)
	assert.Equal(t, TaskPending, cached[0].Status)
	assert.Equal(t, TaskCompleted, cached[1].Status)
	assert.Equal(t, 1, api.getCount(), "list came from cache")
}

func TestUpdateTaskStatus_Errors(t *testing.T) {
	api := newFakeAPI()
	svc, _ := newService(api)
	ctx := context.Background()

	_, err := svc.UpdateTaskStatus(ctx, "t1", TaskStatus("archived"))
	require.Error(t, err)

	_, err = svc.UpdateTaskStatus(ctx, "t1", TaskInProgress)
	require.Error(t, err)
	assert.True(t, apierr.IsNetwork(err))

	api.queued = true
	_, err = svc.UpdateTaskStatus(ctx, "t1", TaskInProgress)
	assert.ErrorIs(t, err, gateway.ErrQueued)
}
