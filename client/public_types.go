package client

import (
	"github.com/kaulonline/iriseller-mobile/internal/auth"
	"github.com/kaulonline/iriseller-mobile/internal/dashboard"
	"github.com/kaulonline/iriseller-mobile/internal/gateway"
	"github.com/kaulonline/iriseller-mobile/internal/ledger"
)

// Public type aliases so SDK consumers can import only the client package.
type (
	// Gateway
	Result        = gateway.Result
	Outcome       = gateway.Outcome
	QueuedRequest = gateway.QueuedRequest
	DrainReport   = gateway.DrainReport
	RequestOption = gateway.RequestOption

	// Ledger
	Entry      = ledger.Entry
	EntryKind  = ledger.Kind
	Handler    = ledger.Handler
	SyncStatus = ledger.SyncStatus
	Event      = ledger.Event
	EventKind  = ledger.EventKind

	// Auth
	User            = auth.User
	AuthResponse    = auth.AuthResponse
	LoginRequest    = auth.LoginRequest
	RegisterRequest = auth.RegisterRequest

	// Dashboard
	Overview           = dashboard.Overview
	PerformanceMetrics = dashboard.PerformanceMetrics
	Task               = dashboard.Task
	TaskStatus         = dashboard.TaskStatus
)

const (
	OutcomeCompleted = gateway.OutcomeCompleted
	OutcomeQueued    = gateway.OutcomeQueued

	KindCreate = ledger.KindCreate
	KindUpdate = ledger.KindUpdate
	KindDelete = ledger.KindDelete

	EventNetworkStatusChanged = ledger.EventNetworkStatusChanged
	EventEntryAdded           = ledger.EventEntryAdded
	EventSyncStarted          = ledger.EventSyncStarted
	EventSyncCompleted        = ledger.EventSyncCompleted
)

// Request options re-exported for direct gateway calls.
var (
	WithHeader   = gateway.WithHeader
	WithoutQueue = gateway.WithoutQueue
)
