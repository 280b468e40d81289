// Package gateway is the single path the client uses to reach the backend.
//
// Every call gets the stored bearer credential, a fixed timeout and a bounded
// constant-delay retry. While the device is offline calls are captured in a
// persisted FIFO queue instead of failing; the queue is replayed in order
// when connectivity returns.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaulonline/iriseller-mobile/internal/apierr"
	"github.com/kaulonline/iriseller-mobile/internal/connectivity"
	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
	"github.com/kaulonline/iriseller-mobile/internal/taskqueue"
)

// QueueKey is the store key holding the serialized offline queue.
const QueueKey = "@IRISeller:offlineQueue"

// drainKey partitions gateway drains on the executor.
const drainKey = "gateway"

// Config holds the transport settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration

	// Transport replaces the default round tripper (tests, debug logging).
	Transport http.RoundTripper
}

// Deps are the collaborators the gateway is built from. Store and Observer
// are required.
type Deps struct {
	Store       kvstore.Store
	Observer    connectivity.Observer
	Credentials Credentials
	Executor    Executor

	// OnUnauthorized runs after a 401 cleared the credential.
	OnUnauthorized func(ctx context.Context)
}

// Gateway executes HTTP calls on behalf of the whole client.
type Gateway struct {
	cfg      Config
	http     *resty.Client
	store    kvstore.Store
	observer connectivity.Observer
	creds    Credentials
	exec     Executor
	ownsExec bool
	onUnauth func(ctx context.Context)
	log      zerolog.Logger

	mu         sync.Mutex
	queue      []QueuedRequest
	lastOnline bool

	persistMu sync.Mutex
	draining  atomic.Bool

	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// New builds a gateway, loads any queue persisted by a previous run and
// subscribes to connectivity changes. When the device is online and the
// loaded queue is non-empty a drain is scheduled right away.
func New(ctx context.Context, cfg Config, deps Deps, log zerolog.Logger) (*Gateway, error) {
	if deps.Store == nil {
		return nil, errors.New("gateway: store is required")
	}
	if deps.Observer == nil {
		return nil, errors.New("gateway: connectivity observer is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	log = log.With().Str("component", "gateway").Logger()

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetLogger(restyLogger{log: log}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Transport != nil {
		hc.SetTransport(cfg.Transport)
	}

	g := &Gateway{
		cfg:      cfg,
		http:     hc,
		store:    deps.Store,
		observer: deps.Observer,
		creds:    deps.Credentials,
		exec:     deps.Executor,
		onUnauth: deps.OnUnauthorized,
		log:      log,
	}
	if g.creds == nil {
		g.creds = nopCredentials{}
	}
	if g.exec == nil {
		g.exec = taskqueue.New(taskqueue.Config{Shards: 1, Logger: log})
		g.ownsExec = true
	}
	g.baseCtx, g.cancel = context.WithCancel(context.WithoutCancel(ctx))

	g.loadQueue(ctx)

	g.mu.Lock()
	g.lastOnline = g.observer.Online()
	backlog := len(g.queue)
	online := g.lastOnline
	g.mu.Unlock()

	g.unsubscribe = g.observer.Subscribe(g.onNetworkChange)

	if online && backlog > 0 {
		g.scheduleDrain()
	}
	return g, nil
}

// Get issues a GET.
func (g *Gateway) Get(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	return g.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST with body encoded as JSON.
func (g *Gateway) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Result, error) {
	return g.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT with body encoded as JSON.
func (g *Gateway) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Result, error) {
	return g.Do(ctx, http.MethodPut, path, body, opts...)
}

// Delete issues a DELETE.
func (g *Gateway) Delete(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	return g.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do executes one call. It returns a queued Result with a nil error when the
// call was deferred for later replay.
func (g *Gateway) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Result, error) {
	o := applyOptions(opts)
	method = strings.ToUpper(method)
	op := method + " " + path

	raw, err := encodeBody(body)
	if err != nil {
		requestsTotal.WithLabelValues(method, "failed").Inc()
		return nil, apierr.NewRequestError(op, err)
	}
	target, err := g.resolveURL(path)
	if err != nil {
		requestsTotal.WithLabelValues(method, "failed").Inc()
		return nil, apierr.NewRequestError(op, err)
	}

	if !o.noQueue && !g.observer.Online() {
		return g.enqueue(ctx, method, target, raw, g.captureHeaders(ctx, o.headers))
	}

	var (
		result  *Result
		attempt int
		queueIt bool
	)
	operation := func() error {
		attempt++
		res, err := g.send(ctx, method, target, raw, o.headers)
		if err == nil {
			result = res
			return nil
		}
		switch {
		case apierr.IsUnauthorized(err):
			g.handleUnauthorized(ctx)
			return backoff.Permanent(err)
		case apierr.IsNetwork(err) && !o.noQueue && !g.observer.Online():
			queueIt = true
			return backoff.Permanent(err)
		case apierr.IsIrrecoverable(err), ctx.Err() != nil:
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		retriesTotal.Inc()
		g.log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("retrying request")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.cfg.RetryDelay), uint64(g.cfg.RetryCount)),
		ctx,
	)
	err = backoff.RetryNotify(operation, policy, notify)
	if queueIt {
		g.log.Info().Str("op", op).Msg("connection lost during request, queueing")
		return g.enqueue(ctx, method, target, raw, g.captureHeaders(ctx, o.headers))
	}
	if err != nil {
		requestsTotal.WithLabelValues(method, "failed").Inc()
		g.log.Warn().Err(err).Str("op", op).Int("attempts", attempt).Msg("request failed")
		if _, ok := apierr.As(err); !ok {
			err = apierr.NewNetworkError(op, err)
		}
		return nil, err
	}
	requestsTotal.WithLabelValues(method, "completed").Inc()
	return result, nil
}

// SaveCredential stores a new bearer token.
func (g *Gateway) SaveCredential(ctx context.Context, token string) error {
	if err := g.creds.SaveToken(ctx, token); err != nil {
		g.log.Error().Err(err).Msg("failed to save credential")
		return err
	}
	return nil
}

// ClearCredential forgets the bearer token.
func (g *Gateway) ClearCredential(ctx context.Context) error {
	if err := g.creds.ClearToken(ctx); err != nil {
		g.log.Error().Err(err).Msg("failed to clear credential")
		return err
	}
	return nil
}

// Drain replays the offline queue front to back, one request at a time.
// Replayed requests are removed; failures stay queued for the next
// reconnect and do not stop the pass. It returns false without doing
// anything when another drain is already running.
func (g *Gateway) Drain(ctx context.Context) (DrainReport, bool) {
	if !g.draining.CompareAndSwap(false, true) {
		return DrainReport{}, false
	}
	defer g.draining.Store(false)

	g.mu.Lock()
	items := slices.Clone(g.queue)
	g.mu.Unlock()

	report := DrainReport{}
	if len(items) == 0 {
		return report, true
	}
	g.log.Info().Int("requests", len(items)).Msg("processing offline queue")

	replayed := make(map[string]struct{}, len(items))
	unauthorized := false
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		report.Attempted++
		headers := item.Headers
		if unauthorized {
			// The credential captured with the item was rejected earlier in
			// this pass and has been cleared.
			headers = withoutAuthorization(headers)
		}
		_, err := g.send(ctx, item.Method, item.URL, item.Body, headers)
		if err != nil {
			if apierr.IsUnauthorized(err) && !unauthorized {
				unauthorized = true
				g.handleUnauthorized(ctx)
			}
			replaysTotal.WithLabelValues("failed").Inc()
			report.Failed = append(report.Failed, item.ID)
			g.log.Warn().Err(err).Str("id", item.ID).Str("method", item.Method).Str("url", item.URL).Msg("failed to replay queued request")
			continue
		}
		replaysTotal.WithLabelValues("ok").Inc()
		replayed[item.ID] = struct{}{}
		report.Replayed = append(report.Replayed, item.ID)
	}

	if len(replayed) > 0 {
		g.mu.Lock()
		g.queue = slices.DeleteFunc(g.queue, func(q QueuedRequest) bool {
			_, ok := replayed[q.ID]
			return ok
		})
		g.mu.Unlock()
		g.persist(ctx)
	}
	g.log.Info().Int("replayed", len(report.Replayed)).Int("failed", len(report.Failed)).Msg("offline queue processed")
	return report, true
}

// Draining reports whether a drain pass is running.
func (g *Gateway) Draining() bool { return g.draining.Load() }

// Pending returns a copy of the offline queue in FIFO order.
func (g *Gateway) Pending() []QueuedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.queue)
}

// QueueLen returns the number of queued requests.
func (g *Gateway) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Idle waits until every drain scheduled so far has finished.
func (g *Gateway) Idle(ctx context.Context) error {
	return g.exec.Barrier(ctx, drainKey)
}

// Close unsubscribes from connectivity changes and stops background drains.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		if g.unsubscribe != nil {
			g.unsubscribe()
		}
		g.cancel()
		if exec, ok := g.exec.(*taskqueue.Executor); ok && g.ownsExec {
			exec.Stop()
		}
	})
	return nil
}

// ------------------------- internals -------------------------

func (g *Gateway) send(ctx context.Context, method, target string, raw []byte, headers map[string]string) (*Result, error) {
	op := method + " " + target
	req := g.http.R().SetContext(ctx).SetHeaders(headers)
	if token := g.token(ctx); token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}
	if len(raw) > 0 {
		req.SetBody(raw)
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return nil, apierr.NewNetworkError(op, err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, apierr.NewHTTPError(resp.StatusCode(), resp.Body(), op)
	}
	return &Result{
		Outcome:    OutcomeCompleted,
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Header:     resp.Header(),
	}, nil
}

func (g *Gateway) token(ctx context.Context) string {
	token, err := g.creds.Token(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("failed to read credential")
		return ""
	}
	return token
}

// captureHeaders snapshots the headers a replay needs.
func (g *Gateway) captureHeaders(ctx context.Context, extra map[string]string) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	for k, v := range extra {
		headers[k] = v
	}
	if token := g.token(ctx); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return headers
}

func withoutAuthorization(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		out[k] = v
	}
	return out
}

func (g *Gateway) enqueue(ctx context.Context, method, target string, raw []byte, headers map[string]string) (*Result, error) {
	item := QueuedRequest{
		ID:        uuid.NewString(),
		Method:    method,
		URL:       target,
		Body:      raw,
		Headers:   headers,
		CreatedAt: time.Now().UTC(),
	}

	g.mu.Lock()
	g.queue = append(g.queue, item)
	g.mu.Unlock()
	g.persist(ctx)

	requestsTotal.WithLabelValues(method, "queued").Inc()
	g.log.Info().Str("id", item.ID).Str("method", method).Str("url", target).Msg("request queued for sync when online")
	return &Result{Outcome: OutcomeQueued, QueueID: item.ID}, nil
}

// persist writes the current queue. Storage failures are logged; the
// in-memory queue stays authoritative.
func (g *Gateway) persist(ctx context.Context) {
	g.persistMu.Lock()
	defer g.persistMu.Unlock()

	g.mu.Lock()
	snapshot := slices.Clone(g.queue)
	g.mu.Unlock()
	queueDepth.Set(float64(len(snapshot)))

	if snapshot == nil {
		snapshot = []QueuedRequest{}
	}
	if err := kvstore.SetJSON(context.WithoutCancel(ctx), g.store, QueueKey, snapshot); err != nil {
		g.log.Error().Stack().Err(err).Msg("failed to save offline queue")
	}
}

func (g *Gateway) loadQueue(ctx context.Context) {
	var stored []QueuedRequest
	ok, err := kvstore.GetJSON(ctx, g.store, QueueKey, &stored)
	if err != nil {
		g.log.Error().Stack().Err(err).Msg("failed to load offline queue")
		return
	}
	if !ok {
		return
	}
	g.mu.Lock()
	g.queue = stored
	g.mu.Unlock()
	queueDepth.Set(float64(len(stored)))
	g.log.Debug().Int("requests", len(stored)).Msg("offline queue loaded")
}

func (g *Gateway) onNetworkChange(online bool) {
	g.mu.Lock()
	cameBack := online && !g.lastOnline
	g.lastOnline = online
	g.mu.Unlock()

	if cameBack {
		g.log.Info().Msg("back online, draining offline queue")
		g.scheduleDrain()
	}
}

func (g *Gateway) scheduleDrain() {
	job := taskqueue.JobFunc(func(ctx context.Context) error {
		g.Drain(ctx)
		return nil
	})
	if err := g.exec.Submit(g.baseCtx, drainKey, job); err != nil {
		g.log.Warn().Err(err).Msg("could not schedule offline queue drain")
	}
}

func (g *Gateway) handleUnauthorized(ctx context.Context) {
	unauthorizedTotal.Inc()
	g.log.Warn().Msg("received 401, clearing stored credential")
	if err := g.creds.ClearToken(context.WithoutCancel(ctx)); err != nil {
		g.log.Error().Err(err).Msg("failed to clear credential")
	}
	if g.onUnauth != nil {
		g.onUnauth(context.WithoutCancel(ctx))
	}
}

func (g *Gateway) resolveURL(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty request path")
	}
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path, nil
	}
	target := strings.TrimRight(g.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if _, err := url.ParseRequestURI(target); err != nil {
		return "", fmt.Errorf("invalid request url: %w", err)
	}
	return target, nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("request body is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("request body is not valid JSON")
		}
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return raw, nil
	}
}

// restyLogger routes resty's internal messages into zerolog at debug level;
// the gateway reports failures itself.
type restyLogger struct{ log zerolog.Logger }

func (l restyLogger) Errorf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
