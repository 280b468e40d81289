// Package ledger keeps the log of local mutations that still have to reach
// the backend and replays them through per-entity handlers.
//
// Entries are replayed oldest first, one at a time. A failing entry is
// retried on later passes and dropped once it has failed MaxAttempts times.
// Entries whose entity has no handler wait until one is registered.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaulonline/iriseller-mobile/internal/connectivity"
	"github.com/kaulonline/iriseller-mobile/internal/events"
	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
	"github.com/kaulonline/iriseller-mobile/internal/taskqueue"
)

// Store keys owned by the ledger.
const (
	EntriesKey    = "@IRISeller:offlineData"
	SyncStatusKey = "@IRISeller:syncStatus"
	LastSyncKey   = "@IRISeller:lastSync"
)

const syncKey = "ledger"

// DefaultMaxAttempts is the failure count at which an entry is abandoned.
const DefaultMaxAttempts = 3

// Config tunes the ledger.
type Config struct {
	MaxAttempts int
}

// Executor runs background sync passes.
type Executor interface {
	Submit(ctx context.Context, key string, job taskqueue.Job) error
	Barrier(ctx context.Context, key string) error
}

// Deps are the ledger's collaborators. Store and Observer are required.
type Deps struct {
	Store    kvstore.Store
	Observer connectivity.Observer
	Executor Executor
}

// Ledger records mutations and syncs them when online.
type Ledger struct {
	cfg      Config
	store    kvstore.Store
	observer connectivity.Observer
	exec     Executor
	ownsExec bool
	bus      *events.Bus[Event]
	log      zerolog.Logger

	mu       sync.Mutex
	entries  []Entry
	handlers map[string]Handler
	status   SyncStatus
	online   bool
	rerun    bool // entries were added while a pass was running

	syncing   atomic.Bool
	persistMu sync.Mutex

	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// New loads the persisted backlog and status and subscribes to connectivity
// changes. If the device is online with a backlog, a sync is scheduled.
func New(ctx context.Context, cfg Config, deps Deps, log zerolog.Logger) (*Ledger, error) {
	if deps.Store == nil {
		return nil, errors.New("ledger: store is required")
	}
	if deps.Observer == nil {
		return nil, errors.New("ledger: connectivity observer is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	l := &Ledger{
		cfg:      cfg,
		store:    deps.Store,
		observer: deps.Observer,
		exec:     deps.Executor,
		bus:      events.NewBus[Event](),
		log:      log.With().Str("component", "ledger").Logger(),
		handlers: make(map[string]Handler),
		status:   defaultStatus(),
	}
	if l.exec == nil {
		l.exec = taskqueue.New(taskqueue.Config{Shards: 1, Logger: l.log})
		l.ownsExec = true
	}
	l.baseCtx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))

	l.load(ctx)

	l.mu.Lock()
	l.online = l.observer.Online()
	online := l.online
	backlog := l.pendingLocked()
	l.mu.Unlock()

	l.unsubscribe = l.observer.Subscribe(l.onNetworkChange)

	if online && backlog > 0 {
		l.scheduleSync()
	}
	return l, nil
}

// RegisterHandler installs the replay handler for entity. A later
// registration replaces an earlier one; a nil handler removes it.
func (l *Ledger) RegisterHandler(entity string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h == nil {
		delete(l.handlers, entity)
		return
	}
	l.handlers[entity] = h
}

// AddEntry records a mutation and returns its ID. payload may be any value
// that encodes to JSON, including a json.RawMessage.
//
// The entry is visible to PendingCount before AddEntry returns. Persistence
// failures are logged, not returned. When online and idle a sync pass is
// scheduled in the background.
func (l *Ledger) AddEntry(ctx context.Context, kind Kind, entity string, payload any) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("ledger: unknown kind %q", kind)
	}
	if entity == "" {
		return "", errors.New("ledger: entity is required")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("ledger: encode payload: %w", err)
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Entity:    entity,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	trigger := false
	if l.syncing.Load() {
		l.rerun = true
	} else {
		trigger = l.observer.Online()
	}
	pendingGauge.Set(float64(l.pendingLocked()))
	l.mu.Unlock()

	entriesAddedTotal.WithLabelValues(entity, string(kind)).Inc()
	l.persistEntries(ctx)
	l.log.Debug().Str("id", entry.ID).Str("entity", entity).Str("kind", string(kind)).Msg("entry added")

	added := entry
	l.publish(Event{Kind: EventEntryAdded, Entry: &added})

	if trigger {
		l.scheduleSync()
	}
	return entry.ID, nil
}

// Sync runs one pass over the backlog. It returns false without doing
// anything when the device is offline or another pass is running.
func (l *Ledger) Sync(ctx context.Context) (SyncStatus, bool) {
	if !l.observer.Online() {
		return l.currentStatus(), false
	}
	if !l.syncing.CompareAndSwap(false, true) {
		return l.currentStatus(), false
	}
	l.publish(Event{Kind: EventSyncStarted})

	l.mu.Lock()
	pending := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if !e.Synced {
			pending = append(pending, e)
		}
	}
	handlers := make(map[string]Handler, len(l.handlers))
	for k, v := range l.handlers {
		handlers[k] = v
	}
	l.mu.Unlock()

	l.log.Info().Int("pending", len(pending)).Msg("starting sync")

	synced := make(map[string]struct{})
	failed := make(map[string]struct{})
	errs := []string{}
	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		h, ok := handlers[e.Entity]
		if !ok {
			l.log.Debug().Str("entity", e.Entity).Str("id", e.ID).Msg("no handler registered, leaving entry pending")
			continue
		}
		if err := invoke(ctx, h, e); err != nil {
			failed[e.ID] = struct{}{}
			errs = append(errs, fmt.Sprintf("Failed to sync %s %s: %v", e.Kind, e.Entity, err))
			replayFailuresTotal.WithLabelValues(e.Entity).Inc()
			l.log.Warn().Err(err).Str("id", e.ID).Str("entity", e.Entity).Str("kind", string(e.Kind)).Msg("sync failed for entry")
			continue
		}
		synced[e.ID] = struct{}{}
	}

	now := time.Now().UTC()

	l.mu.Lock()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if _, ok := synced[e.ID]; ok {
			continue
		}
		if _, ok := failed[e.ID]; ok {
			e.Attempts++
			if e.Attempts >= l.cfg.MaxAttempts {
				abandonedTotal.WithLabelValues(e.Entity).Inc()
				l.log.Warn().Str("id", e.ID).Str("entity", e.Entity).Int("attempts", e.Attempts).Msg("abandoning entry after max attempts")
				continue
			}
		}
		kept = append(kept, e)
	}
	clear(l.entries[len(kept):])
	l.entries = kept

	l.status = SyncStatus{
		LastSync:       &now,
		PendingChanges: l.pendingLocked(),
		Errors:         errs,
	}
	status := l.status.clone()
	pendingGauge.Set(float64(status.PendingChanges))
	l.mu.Unlock()

	syncPassesTotal.Inc()
	l.persistEntries(ctx)
	l.persistStatus(ctx, status)

	l.log.Info().Int("synced", len(synced)).Int("failed", len(failed)).Int("pending", status.PendingChanges).Msg("sync completed")
	completed := status.clone()
	l.publish(Event{Kind: EventSyncCompleted, Status: &completed})

	// The pass stays in flight until its completion is published. Clear the
	// flag while holding mu so a concurrent AddEntry either sees the pass
	// running and sets rerun, or sees it idle and triggers a sync itself.
	l.mu.Lock()
	rerun := l.rerun && l.pendingLocked() > 0
	l.rerun = false
	l.syncing.Store(false)
	l.mu.Unlock()

	if rerun && l.observer.Online() {
		l.scheduleSync()
	}
	return status, true
}

// SyncStatus returns the last persisted status with InProgress reflecting
// whether a pass is running right now. Before the first pass it returns an
// empty status.
func (l *Ledger) SyncStatus(ctx context.Context) SyncStatus {
	var stored SyncStatus
	ok, err := kvstore.GetJSON(ctx, l.store, SyncStatusKey, &stored)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to read sync status")
	}
	if err != nil || !ok {
		return l.currentStatus()
	}
	if stored.Errors == nil {
		stored.Errors = []string{}
	}
	stored.InProgress = l.syncing.Load()
	return stored
}

// LastSync returns the time the last pass finished.
func (l *Ledger) LastSync(ctx context.Context) (time.Time, bool) {
	raw, ok, err := l.store.Get(ctx, LastSyncKey)
	if err == nil && ok {
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			return t, true
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status.LastSync != nil {
		return *l.status.LastSync, true
	}
	return time.Time{}, false
}

// PendingCount is the number of unsynced entries.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingLocked()
}

// Entries returns a copy of the backlog, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// Clear drops every entry and the stored status.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.entries = nil
	l.status = defaultStatus()
	l.rerun = false
	l.mu.Unlock()
	pendingGauge.Set(0)

	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if err := l.store.Delete(ctx, EntriesKey, SyncStatusKey, LastSyncKey); err != nil {
		l.log.Error().Err(err).Msg("failed to clear offline data")
		return fmt.Errorf("ledger: clear: %w", err)
	}
	l.log.Info().Msg("offline data cleared")
	return nil
}

// Online reports the connectivity state last seen by the ledger.
func (l *Ledger) Online() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online
}

// Syncing reports whether a pass is running.
func (l *Ledger) Syncing() bool { return l.syncing.Load() }

// Subscribe returns a channel of ledger events and its cancel func.
func (l *Ledger) Subscribe(buffer int) (<-chan Event, func()) {
	return l.bus.Subscribe(buffer)
}

// Idle waits until every sync scheduled so far has finished.
func (l *Ledger) Idle(ctx context.Context) error {
	return l.exec.Barrier(ctx, syncKey)
}

// Close unsubscribes from connectivity, stops background work and closes
// every event subscription.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
		l.cancel()
		if exec, ok := l.exec.(*taskqueue.Executor); ok && l.ownsExec {
			exec.Stop()
		}
		l.bus.Close()
	})
	return nil
}

// ------------------------- internals -------------------------

func (l *Ledger) pendingLocked() int {
	n := 0
	for _, e := range l.entries {
		if !e.Synced {
			n++
		}
	}
	return n
}

func (l *Ledger) currentStatus() SyncStatus {
	l.mu.Lock()
	s := l.status.clone()
	l.mu.Unlock()
	s.InProgress = l.syncing.Load()
	return s
}

func (l *Ledger) onNetworkChange(online bool) {
	l.mu.Lock()
	l.online = online
	backlog := l.pendingLocked()
	l.mu.Unlock()

	l.publish(Event{Kind: EventNetworkStatusChanged, Online: online})
	if online && backlog > 0 {
		l.log.Info().Int("pending", backlog).Msg("back online, syncing pending changes")
		l.scheduleSync()
	}
}

func (l *Ledger) scheduleSync() {
	job := taskqueue.JobFunc(func(ctx context.Context) error {
		l.Sync(ctx)
		return nil
	})
	if err := l.exec.Submit(l.baseCtx, syncKey, job); err != nil {
		l.log.Warn().Err(err).Msg("could not schedule sync")
	}
}

func (l *Ledger) publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	l.bus.Publish(evt)
}

// persistEntries writes the current backlog; failures are logged and the
// in-memory backlog stays authoritative.
func (l *Ledger) persistEntries(ctx context.Context) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.mu.Lock()
	snapshot := slices.Clone(l.entries)
	l.mu.Unlock()
	if snapshot == nil {
		snapshot = []Entry{}
	}
	if err := kvstore.SetJSON(context.WithoutCancel(ctx), l.store, EntriesKey, snapshot); err != nil {
		l.log.Error().Stack().Err(err).Msg("failed to save offline data")
	}
}

func (l *Ledger) persistStatus(ctx context.Context, status SyncStatus) {
	ctx = context.WithoutCancel(ctx)
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	if err := kvstore.SetJSON(ctx, l.store, SyncStatusKey, status); err != nil {
		l.log.Error().Stack().Err(err).Msg("failed to save sync status")
	}
	if status.LastSync != nil {
		if err := l.store.Set(ctx, LastSyncKey, status.LastSync.Format(time.RFC3339Nano)); err != nil {
			l.log.Error().Stack().Err(err).Msg("failed to save last sync time")
		}
	}
}

func (l *Ledger) load(ctx context.Context) {
	var stored []Entry
	if _, err := kvstore.GetJSON(ctx, l.store, EntriesKey, &stored); err != nil {
		l.log.Error().Stack().Err(err).Msg("failed to load offline data")
		stored = nil
	}
	var status SyncStatus
	ok, err := kvstore.GetJSON(ctx, l.store, SyncStatusKey, &status)
	if err != nil {
		l.log.Error().Stack().Err(err).Msg("failed to load sync status")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = stored
	if err == nil && ok {
		status.InProgress = false
		if status.Errors == nil {
			status.Errors = []string{}
		}
		l.status = status
	}
	pendingGauge.Set(float64(l.pendingLocked()))
	if len(stored) > 0 {
		l.log.Info().Int("entries", len(stored)).Msg("offline data loaded")
	}
}

// invoke runs h, turning a panic into an error so one bad handler cannot
// stop the pass.
func invoke(ctx context.Context, h Handler, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid JSON")
		}
		return slices.Clone(v), nil
	default:
		return json.Marshal(v)
	}
}
