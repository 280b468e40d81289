package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kaulonline/iriseller-mobile/internal/taskqueue"
)

// ErrQueued is returned when decoding a Result that was deferred to the
// offline queue. A queued call has no response body to decode.
var ErrQueued = errors.New("request queued for sync when online")

// IsQueued reports whether err is ErrQueued.
func IsQueued(err error) bool { return errors.Is(err, ErrQueued) }

// Outcome tags what happened to a gateway call that did not fail.
type Outcome int

const (
	// OutcomeCompleted means the backend answered with a 2xx/3xx status.
	OutcomeCompleted Outcome = iota
	// OutcomeQueued means the call was captured for replay once online.
	OutcomeQueued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a gateway call.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Body       []byte
	Header     http.Header
	QueueID    string // set when Outcome == OutcomeQueued
}

// Queued reports whether the call was deferred.
func (r *Result) Queued() bool { return r != nil && r.Outcome == OutcomeQueued }

// Decode parses the response body into v. It returns ErrQueued for deferred
// calls and leaves v untouched for empty bodies.
func (r *Result) Decode(v any) error {
	if r.Queued() {
		return ErrQueued
	}
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// DecodeResult is a convenience for typed callers:
//
//	user, err := gateway.DecodeResult[User](gw.Get(ctx, "/auth/session"))
func DecodeResult[T any](res *Result, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if err := res.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// QueuedRequest is one HTTP call captured while offline. It is pure data.
type QueuedRequest struct {
	ID        string            `json:"id"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Body      json.RawMessage   `json:"data,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"timestamp"`
}

// DrainReport summarises one pass over the offline queue.
type DrainReport struct {
	Attempted int
	Replayed  []string // IDs removed from the queue
	Failed    []string // IDs left in place for the next reconnect
}

// Credentials is the credential provider the gateway reads from and
// invalidates on 401.
type Credentials interface {
	// Token returns the bearer token, or "" when none is stored.
	Token(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Executor runs background drains.
type Executor interface {
	Submit(ctx context.Context, key string, job taskqueue.Job) error
	Barrier(ctx context.Context, key string) error
}

type nopCredentials struct{}

func (nopCredentials) Token(context.Context) (string, error)   { return "", nil }
func (nopCredentials) SaveToken(context.Context, string) error { return nil }
func (nopCredentials) ClearToken(context.Context) error        { return nil }

// RequestOption tunes a single call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	headers map[string]string
	noQueue bool
}

// WithHeader adds a header to the request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithoutQueue makes the call fail instead of being deferred while offline.
// Ledger handlers use it so a failed replay counts as a failed attempt.
func WithoutQueue() RequestOption {
	return func(o *requestOptions) { o.noQueue = true }
}

func applyOptions(opts []RequestOption) requestOptions {
	var o requestOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
