package ledger

import (
	"context"
	"encoding/json"
	"time"
)

// Kind is the mutation an Entry records.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Entry is one pending local mutation.
type Entry struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"type"`
	Entity    string          `json:"entity"`
	Payload   json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"timestamp"`
	Synced    bool            `json:"synced"`
	Attempts  int             `json:"attempts"`
}

// Handler replays one entry against the backend. A nil return marks the
// entry synced.
type Handler func(ctx context.Context, e Entry) error

// SyncStatus is the outcome of the most recent sync pass.
type SyncStatus struct {
	InProgress     bool       `json:"inProgress"`
	LastSync       *time.Time `json:"lastSync"`
	PendingChanges int        `json:"pendingChanges"`
	Errors         []string   `json:"errors"`
}

func defaultStatus() SyncStatus {
	return SyncStatus{Errors: []string{}}
}

func (s SyncStatus) clone() SyncStatus {
	out := s
	out.Errors = append([]string{}, s.Errors...)
	if s.LastSync != nil {
		t := *s.LastSync
		out.LastSync = &t
	}
	return out
}

// EventKind names a ledger notification.
type EventKind string

const (
	EventNetworkStatusChanged EventKind = "network_status_changed"
	EventEntryAdded           EventKind = "entry_added"
	EventSyncStarted          EventKind = "sync_started"
	EventSyncCompleted        EventKind = "sync_completed"
)

// Event is published on the ledger bus. Only the field matching Kind is set:
// Online for network changes, Entry for additions, Status for completions.
type Event struct {
	Kind   EventKind
	Online bool
	Entry  *Entry
	Status *SyncStatus
	At     time.Time
}
