package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaulonline/iriseller-mobile/internal/connectivity"
	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
)

func newLedger(t *testing.T, store kvstore.Store, monitor *connectivity.Monitor) *Ledger {
	t.Helper()
	l, err := New(context.Background(), Config{}, Deps{Store: store, Observer: monitor}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(context.Background(), Config{}, Deps{Observer: connectivity.NewMonitor(true)}, zerolog.Nop())
	require.Error(t, err)
	_, err = New(context.Background(), Config{}, Deps{Store: kvstore.NewMemory()}, zerolog.Nop())
	require.Error(t, err)
}

func TestAddEntry_Validation(t *testing.T) {
	l := newLedger(t, kvstore.NewMemory(), connectivity.NewMonitor(false))
	ctx := context.Background()

	_, err := l.AddEntry(ctx, Kind("upsert"), "lead", nil)
	require.Error(t, err)
	_, err = l.AddEntry(ctx, KindCreate, "", nil)
	require.Error(t, err)
	_, err = l.AddEntry(ctx, KindCreate, "lead", json.RawMessage(`{oops`))
	require.Error(t, err)
	assert.Equal(t, 0, l.PendingCount())
}

func TestAddEntry_OfflinePersistsAndPublishes(t *testing.T) {
	store := kvstore.NewMemory()
	l := newLedger(t, store, connectivity.NewMonitor(false))
	ctx := context.Background()

	ch, cancel := l.Subscribe(4)
	defer cancel()

	id, err := l.AddEntry(ctx, KindCreate, "lead", map[string]string{"name": "X"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, l.PendingCount())

	evt := <-ch
	assert.Equal(t, EventEntryAdded, evt.Kind)
	require.NotNil(t, evt.Entry)
	assert.Equal(t, id, evt.Entry.ID)

	var stored []Entry
	ok, err := kvstore.GetJSON(ctx, store, EntriesKey, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, stored, 1)
	assert.Equal(t, KindCreate, stored[0].Kind)
	assert.Equal(t, "lead", stored[0].Entity)
	assert.JSONEq(t, `{"name":"X"}`, string(stored[0].Payload))
	assert.False(t, stored[0].Synced)
	assert.Zero(t, stored[0].Attempts)
}

func TestSync_NoOpWhenOffline(t *testing.T) {
	l := newLedger(t, kvstore.NewMemory(), connectivity.NewMonitor(false))
	var calls atomic.Int32
	l.RegisterHandler("lead", func(context.Context, Entry) error {
		calls.Add(1)
		return nil
	})
	_, err := l.AddEntry(context.Background(), KindCreate, "lead", nil)
	require.NoError(t, err)

	_, ran := l.Sync(context.Background())
	assert.False(t, ran)
	assert.Zero(t, calls.Load())
	assert.Equal(t, 1, l.PendingCount())
}

// The end-to-end scenario: a lead created offline is synced once the
// device comes back online.
func TestLeadCreatedOffline_SyncedOnReconnect(t *testing.T) {
	store := kvstore.NewMemory()
	monitor := connectivity.NewMonitor(false)
	l := newLedger(t, store, monitor)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []Entry
	l.RegisterHandler("lead", func(_ context.Context, e Entry) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
		return nil
	})

	_, err := l.AddEntry(ctx, KindCreate, "lead", map[string]string{"name": "Acme"})
	require.NoError(t, err)
	require.Equal(t, 1, l.PendingCount())

	monitor.Set(true)
	require.NoError(t, l.Idle(ctx))

	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, KindCreate, seen[0].Kind)
	assert.JSONEq(t, `{"name":"Acme"}`, string(seen[0].Payload))
	mu.Unlock()

	assert.Equal(t, 0, l.PendingCount())
	status := l.SyncStatus(ctx)
	assert.False(t, status.InProgress)
	assert.Equal(t, 0, status.PendingChanges)
	assert.Empty(t, status.Errors)
	require.NotNil(t, status.LastSync)

	last, ok := l.LastSync(ctx)
	require.True(t, ok)
	assert.WithinDuration(t, *status.LastSync, last, time.Millisecond)
}

func TestSync_SequentialInInsertionOrder(t *testing.T) {
	l := newLedger(t, kvstore.NewMemory(), connectivity.NewMonitor(false))
	ctx := context.Background()

	var order []string
	h := func(_ context.Context, e Entry) error {
		var p struct{ N string }
		_ = json.Unmarshal(e.Payload, &p)
		order = append(order, p.N)
		return nil
	}
	l.RegisterHandler("lead", h)
	l.RegisterHandler("task", h)

	for _, n := range []string{"a", "b", "c"} {
		entity := "lead"
		if n == "b" {
			entity = "task"
		}
		_, err := l.AddEntry(ctx, KindUpdate, entity, map[string]string{"N": n})
		require.NoError(t, err)
	}

	l.observer.(*connectivity.Monitor).Set(true)
	require.NoError(t, l.Idle(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSync_AbandonsAfterThreeFailures(t *testing.T) {
	store := kvstore.NewMemory()
	l := newLedger(t, store, connectivity.NewMonitor(false))
	ctx := context.Background()

	var calls atomic.Int32
	l.RegisterHandler("lead", func(context.Context, Entry) error {
		calls.Add(1)
		return errors.New("backend rejected")
	})
	_, err := l.AddEntry(ctx, KindCreate, "lead", map[string]string{"name": "X"})
	require.NoError(t, err)

	l.observer.(*connectivity.Monitor).Set(true)
	require.NoError(t, l.Idle(ctx))

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)

	status, ran := l.Sync(ctx)
	require.True(t, ran)
	assert.Equal(t, 1, status.PendingChanges)
	require.Len(t, status.Errors, 1)
	assert.Equal(t, "Failed to sync create lead: backend rejected", status.Errors[0])
	assert.Equal(t, 2, l.Entries()[0].Attempts)

	status, ran = l.Sync(ctx)
	require.True(t, ran)
	assert.Equal(t, 0, status.PendingChanges)
	assert.Len(t, status.Errors, 1)
	assert.Equal(t, 0, l.PendingCount())
	assert.Equal(t, int32(3), calls.Load())

	_, ran = l.Sync(ctx)
	require.True(t, ran)
	assert.Equal(t, int32(3), calls.Load(), "abandoned entry is never retried")

	var stored []Entry
	_, err = kvstore.GetJSON(ctx, store, EntriesKey, &stored)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSync_UnregisteredEntityStaysPending(t *testing.T) {
	l := newLedger(t, kvstore.NewMemory(), connectivity.NewMonitor(true))
	ctx := context.Background()

	_, err := l.AddEntry(ctx, KindDelete, "opportunity", map[string]string{"id": "O1"})
	require.NoError(t, err)
	require.NoError(t, l.Idle(ctx))

	for i := 0; i < 5; i++ {
		status, ran := l.Sync(ctx)
		require.True(t, ran)
		assert.Equal(t, 1, status.PendingChanges)
		assert.Empty(t, status.Errors)
	}
	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].Attempts)

	var got atomic.Int32
	l.RegisterHandler("opportunity", func(context.Context, Entry) error {
		got.Add(1)
		return nil
	})
	status, ran := l.Sync(ctx)
	require.True(t, ran)
	assert.Equal(t, 0, status.PendingChanges)
	assert.Equal(t, int32(1), got.Load())
}

func TestRegisterHandler_LastWins(t *testing.T) {
	l := newLedger(t, kvstore.NewMemory(), connectivity.NewMonitor(false))
	ctx := context.Background()

	var first, second atomic.Int32
	l.RegisterHandler("lead", func(context.Context, Entry) error { first.Add(1); return nil })
	l.RegisterHandler("lead", func(context.Context, Entry) error { second.Add(1); return nil })

	_, err := l.AddEntry(ctx, KindCreate, "lead", nil)
	require.NoError(t, err)
	l.observer.(*connectivity.Monitor).Set(true)
	require.NoError(t, l.Idle(ctx))

	assert.Zero(t, first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestSync_ConcurrentCallsRunOnePass(t *testing.T) {
	l := newLedger(t, kvstore.NewMemory(), connectivity.NewMonitor(false))
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	l.RegisterHandler("lead", func(context.Context, Entry) error {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return nil
	})
	_, err := l.AddEntry(ctx, KindCreate, "lead", nil)
	require.NoError(t, err)

	// Flip the state directly so no background sync is scheduled.
	monitor := l.observer.(*connectivity.Monitor)
	l.unsubscribe()
	monitor.Set(true)

	first := make(chan bool, 1)
	go func() {
		_, ran := l.Sync(ctx)
		first <- ran
	}()
	<-entered
	assert.True(t, l.Syncing())
	assert.True(t, l.SyncStatus(ctx).InProgress)

	_, ran := l.Sync(ctx)
	assert.False(t, ran)

	close(release)
	assert.True(t, <-first)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, l.SyncStatus(ctx).InProgress)
}

func TestSync_EntryAddedDuringPassIsSyncedAfterwards(t *testing.T) {
	l := newLedger(t, kvstore.NewMemory(), connectivity.NewMonitor(true))
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	added := false
	l.RegisterHandler("lead", func(ctx context.Context, e Entry) error {
		mu.Lock()
		seen = append(seen, e.ID)
		addNow := !added
		added = true
		mu.Unlock()
		if addNow {
			_, err := l.AddEntry(ctx, KindUpdate, "lead", map[string]int{"n": 2})
			return err
		}
		return nil
	})

	_, err := l.AddEntry(ctx, KindCreate, "lead", map[string]int{"n": 1})
	require.NoError(t, err)

	// The first pass runs in the background; the rerun is queued behind it.
	require.Eventually(t, func() bool {
		if err := l.Idle(ctx); err != nil {
			return false
		}
		return l.PendingCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
}

func TestPendingCount_SurvivesRestart(t *testing.T) {
	store := kvstore.NewMemory()
	monitor := connectivity.NewMonitor(false)
	ctx := context.Background()

	first := newLedger(t, store, monitor)
	for i := 0; i < 3; i++ {
		_, err := first.AddEntry(ctx, KindCreate, "lead", map[string]int{"n": i})
		require.NoError(t, err)
	}
	require.NoError(t, first.Close())

	second := newLedger(t, store, monitor)
	assert.Equal(t, 3, second.PendingCount())
	ids := func(es []Entry) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, ids(first.Entries()), ids(second.Entries()))
}

func TestNew_OnlineWithBacklogSchedulesSync(t *testing.T) {
	store := kvstore.NewMemory()
	ctx := context.Background()

	offline := newLedger(t, store, connectivity.NewMonitor(false))
	_, err := offline.AddEntry(ctx, KindCreate, "lead", nil)
	require.NoError(t, err)
	require.NoError(t, offline.Close())

	var executed atomic.Int32
	l, err := New(ctx, Config{}, Deps{Store: store, Observer: connectivity.NewMonitor(true)}, zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()
	// Handler registered after construction, before the background pass.
	l.RegisterHandler("lead", func(context.Context, Entry) error { executed.Add(1); return nil })

	require.NoError(t, l.Idle(ctx))
	if l.PendingCount() != 0 {
		// The startup pass raced the registration; a manual pass picks it up.
		_, _ = l.Sync(ctx)
	}
	assert.Equal(t, 0, l.PendingCount())
	assert.Equal(t, int32(1), executed.Load())
}

func TestSyncStatus_DefaultAndPersisted(t *testing.T) {
	store := kvstore.NewMemory()
	l := newLedger(t, store, connectivity.NewMonitor(true))
	ctx := context.Background()

	status := l.SyncStatus(ctx)
	assert.False(t, status.InProgress)
	assert.Nil(t, status.LastSync)
	assert.Zero(t, status.PendingChanges)
	assert.NotNil(t, status.Errors)

	_, ran := l.Sync(ctx)
	require.True(t, ran)

	var stored SyncStatus
	ok, err := kvstore.GetJSON(ctx, store, SyncStatusKey, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, stored.LastSync)

	raw, ok, err := store.Get(ctx, LastSyncKey)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, raw)
	require.NoError(t, err)
}

func TestEvents_NetworkAndSync(t *testing.T) {
	monitor := connectivity.NewMonitor(false)
	l := newLedger(t, kvstore.NewMemory(), monitor)
	ctx := context.Background()
	l.RegisterHandler("lead", func(context.Context, Entry) error { return nil })

	ch, cancel := l.Subscribe(16)
	defer cancel()

	_, err := l.AddEntry(ctx, KindCreate, "lead", nil)
	require.NoError(t, err)
	monitor.Set(true)
	require.NoError(t, l.Idle(ctx))

	var kinds []EventKind
	var completed *SyncStatus
	for len(kinds) < 4 {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
			if evt.Kind == EventSyncCompleted {
				completed = evt.Status
			}
			if evt.Kind == EventNetworkStatusChanged {
				assert.True(t, evt.Online)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	assert.Equal(t, []EventKind{EventEntryAdded, EventNetworkStatusChanged, EventSyncStarted, EventSyncCompleted}, kinds)
	require.NotNil(t, completed)
	assert.Zero(t, completed.PendingChanges)
}

func TestClear(t *testing.T) {
	store := kvstore.NewMemory()
	l := newLedger(t, store, connectivity.NewMonitor(true))
	ctx := context.Background()

	_, err := l.AddEntry(ctx, KindCreate, "unhandled", nil)
	require.NoError(t, err)
	require.NoError(t, l.Idle(ctx))
	_, _ = l.Sync(ctx)

	require.NoError(t, l.Clear(ctx))
	assert.Equal(t, 0, l.PendingCount())
	assert.Nil(t, l.SyncStatus(ctx).LastSync)

	for _, key := range []string{EntriesKey, SyncStatusKey, LastSyncKey} {
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestStorageFailure_Swallowed(t *testing.T) {
	store := kvstore.NewMemory()
	require.NoError(t, store.Close())
	l := newLedger(t, store, connectivity.NewMonitor(false))
	ctx := context.Background()

	_, err := l.AddEntry(ctx, KindCreate, "lead", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, l.PendingCount())

	l.RegisterHandler("lead", func(context.Context, Entry) error { return nil })
	l.observer.(*connectivity.Monitor).Set(true)
	require.NoError(t, l.Idle(ctx))
	assert.Equal(t, 0, l.PendingCount())
	assert.NotNil(t, l.SyncStatus(ctx).LastSync)
}

func TestHandlerPanic_CountsAsFailure(t *testing.T) {
	l := newLedger(t, kvstore.NewMemory(), connectivity.NewMonitor(true))
	ctx := context.Background()
	l.RegisterHandler("lead", func(context.Context, Entry) error { panic("boom") })

	_, err := l.AddEntry(ctx, KindCreate, "lead", nil)
	require.NoError(t, err)
	require.NoError(t, l.Idle(ctx))

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)
}

// gatedStore blocks the first write of key until release is closed.
type gatedStore struct {
	*kvstore.Memory
	key     string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Set(ctx context.Context, key, value string) error {
	if key == s.key {
		s.once.Do(func() {
			close(s.entered)
			<-s.release
		})
	}
	return s.Memory.Set(ctx, key, value)
}

func TestSync_InFlightUntilCompletionPublished(t *testing.T) {
	store := &gatedStore{
		Memory:  kvstore.NewMemory(),
		key:     SyncStatusKey,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	l := newLedger(t, store, connectivity.NewMonitor(true))
	ctx := context.Background()

	ch, cancel := l.Subscribe(16)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ran := l.Sync(ctx)
		assert.True(t, ran)
	}()

	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("pass never persisted its status")
	}
	assert.True(t, l.Syncing())
	_, ran := l.Sync(ctx)
	assert.False(t, ran, "a pass that is still persisting is in flight")

	close(store.release)
	<-done
	assert.False(t, l.Syncing())

	var kinds []EventKind
	for len(kinds) < 2 {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	assert.Equal(t, []EventKind{EventSyncStarted, EventSyncCompleted}, kinds)
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %v", evt.Kind)
	default:
	}
}

func TestPersistedShape(t *testing.T) {
	store := kvstore.NewMemory()
	l := newLedger(t, store, connectivity.NewMonitor(false))
	ctx := context.Background()
	l.RegisterHandler("lead", func(context.Context, Entry) error { return errors.New("rejected") })

	_, err := l.AddEntry(ctx, KindCreate, "lead", map[string]string{"name": "X"})
	require.NoError(t, err)
	l.observer.(*connectivity.Monitor).Set(true)
	require.NoError(t, l.Idle(ctx))

	assert.Equal(t, "@IRISeller:offlineData", EntriesKey)
	raw, ok, err := store.Get(ctx, EntriesKey)
	require.NoError(t, err)
	require.True(t, ok)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &entries))
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0]["attempts"])
	assert.Equal(t, "create", entries[0]["type"])

	raw, ok, err = store.Get(ctx, SyncStatusKey)
	require.NoError(t, err)
	require.True(t, ok)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &status))
	assert.Contains(t, status, "inProgress")
	assert.EqualValues(t, 1, status["pendingChanges"])
}
