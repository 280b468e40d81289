// Package client is the entry point for hosts embedding the iriseller sync
// core. New wires the store, connectivity signal, request gateway, mutation
// ledger, auth and dashboard services; every part is reachable from the
// returned Client and nothing is a package-level singleton.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaulonline/iriseller-mobile/internal/auth"
	"github.com/kaulonline/iriseller-mobile/internal/config"
	"github.com/kaulonline/iriseller-mobile/internal/connectivity"
	"github.com/kaulonline/iriseller-mobile/internal/dashboard"
	"github.com/kaulonline/iriseller-mobile/internal/endpoints"
	"github.com/kaulonline/iriseller-mobile/internal/gateway"
	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
	"github.com/kaulonline/iriseller-mobile/internal/ledger"
	"github.com/kaulonline/iriseller-mobile/internal/readcache"
	"github.com/kaulonline/iriseller-mobile/internal/taskqueue"
)

// --------------------------------------------------------------------
// Client core
// --------------------------------------------------------------------

type Client struct {
	cfg       *config.Config
	log       zerolog.Logger
	transport http.RoundTripper

	store     kvstore.Store
	ownsStore bool
	observer  connectivity.Observer
	exec      executor

	gateway   *gateway.Gateway
	ledger    *ledger.Ledger
	tokens    *auth.TokenStore
	auth      *auth.Service
	dashboard *dashboard.Service

	overrides []func(*config.Config)

	stopProber context.CancelFunc
	closedOnce uint32 // ensures Close is idempotent
}

// New constructs a Client. Without options it reads its configuration from
// IRISELLER_* environment variables, opens the configured store and assumes
// the device is online until told otherwise.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	c := &Client{log: zerolog.Nop()}

	// Auto-enable debug via env variable without changing code.
	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.cfg == nil {
		cfg, err := config.New(c.log)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		c.cfg = cfg
	}
	for _, apply := range c.overrides {
		apply(c.cfg)
	}
	if c.cfg.Debug {
		if _, wrapped := c.transport.(*debugTransport); !wrapped {
			c.transport = &debugTransport{base: c.transport, log: &c.log}
		}
	}

	if err := c.wire(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) wire(ctx context.Context) error {
	if c.store == nil {
		store, err := openStore(ctx, c.cfg)
		if err != nil {
			return err
		}
		c.store = store
		c.ownsStore = true
	}
	if c.observer == nil {
		c.observer = connectivity.NewMonitor(true)
	}
	if c.exec == nil {
		c.exec = taskqueue.New(taskqueue.Config{
			Shards: 2,
			Logger: c.log,
			ErrorHandler: func(err error) {
				c.log.Warn().Err(err).Msg("background job failed")
			},
		})
	}

	c.tokens = auth.NewTokenStore(c.store)

	gw, err := gateway.New(ctx, gateway.Config{
		BaseURL:    c.cfg.BaseURL,
		Timeout:    c.cfg.HTTPTimeout,
		RetryCount: c.cfg.RetryCount,
		RetryDelay: c.cfg.RetryDelay,
		Transport:  c.transport,
	}, gateway.Deps{
		Store:       c.store,
		Observer:    c.observer,
		Credentials: c.tokens,
		Executor:    c.exec,
		OnUnauthorized: func(ctx context.Context) {
			if c.auth != nil {
				c.auth.HandleUnauthorized(ctx)
			}
		},
	}, c.log)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	c.gateway = gw

	c.auth = auth.NewService(gw, c.tokens, c.store, c.log)
	if err := c.auth.LoadStored(ctx); err != nil {
		c.log.Warn().Err(err).Msg("starting signed out")
	}

	lg, err := ledger.New(ctx, ledger.Config{MaxAttempts: c.cfg.MaxSyncAttempts}, ledger.Deps{
		Store:    c.store,
		Observer: c.observer,
		Executor: c.exec,
	}, c.log)
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}
	c.ledger = lg

	c.dashboard = dashboard.NewService(gw, readcache.New(c.store, c.cfg.CacheTTL, c.log), c.log)
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (kvstore.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return kvstore.NewMemory(), nil
	case config.StoreSQLite, "":
		s, err := kvstore.Open(ctx, cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Config returns the resolved configuration.
func (c *Client) Config() config.Config { return *c.cfg }

// Gateway returns the request gateway for direct API calls.
func (c *Client) Gateway() *gateway.Gateway { return c.gateway }

// Ledger returns the mutation ledger.
func (c *Client) Ledger() *ledger.Ledger { return c.ledger }

// Auth returns the auth service.
func (c *Client) Auth() *auth.Service { return c.auth }

// Dashboard returns the dashboard service.
func (c *Client) Dashboard() *dashboard.Service { return c.dashboard }

// Online reports the current connectivity state.
func (c *Client) Online() bool { return c.observer.Online() }

// SetOnline feeds a platform connectivity callback into the client. It
// fails when the client was built with an external observer.
func (c *Client) SetOnline(online bool) error {
	m, ok := c.observer.(*connectivity.Monitor)
	if !ok {
		return errors.New("connectivity is driven by an external observer")
	}
	m.Set(online)
	return nil
}

// StartProber polls the backend health endpoint and updates connectivity
// until ctx ends or the client is closed. It requires the built-in Monitor.
func (c *Client) StartProber(ctx context.Context) error {
	m, ok := c.observer.(*connectivity.Monitor)
	if !ok {
		return errors.New("connectivity is driven by an external observer")
	}
	if c.stopProber != nil {
		return errors.New("prober already running")
	}
	pinger := connectivity.NewHTTPPinger(c.cfg.BaseURL, endpoints.HealthCheck, 5*time.Second)
	prober := connectivity.NewProber(pinger, m, c.log)

	ctx, cancel := context.WithCancel(ctx)
	c.stopProber = cancel
	go prober.Start(ctx, c.cfg.ProbeInterval)
	return nil
}

// Probe checks backend reachability once and records the result.
func (c *Client) Probe(ctx context.Context) (bool, error) {
	m, ok := c.observer.(*connectivity.Monitor)
	if !ok {
		return false, errors.New("connectivity is driven by an external observer")
	}
	pinger := connectivity.NewHTTPPinger(c.cfg.BaseURL, endpoints.HealthCheck, 5*time.Second)
	return connectivity.NewProber(pinger, m, c.log).Probe(ctx), nil
}

// --------------------------------------------------------------------
// Mutation shortcuts
// --------------------------------------------------------------------

// AddEntry records a local mutation for later sync.
func (c *Client) AddEntry(ctx context.Context, kind EntryKind, entity string, payload any) (string, error) {
	return c.ledger.AddEntry(ctx, kind, entity, payload)
}

// Sync runs a ledger pass now.
func (c *Client) Sync(ctx context.Context) (SyncStatus, bool) {
	return c.ledger.Sync(ctx)
}

// SyncStatus returns the last sync outcome.
func (c *Client) SyncStatus(ctx context.Context) SyncStatus {
	return c.ledger.SyncStatus(ctx)
}

// Drain replays the gateway's offline queue now.
func (c *Client) Drain(ctx context.Context) (DrainReport, bool) {
	return c.gateway.Drain(ctx)
}

// AwaitIdle blocks until every drain and sync scheduled so far has run.
func (c *Client) AwaitIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.gateway.Idle(ctx); err != nil {
		return err
	}
	if err := c.ledger.Idle(ctx); err != nil {
		return err
	}
	// A pass may schedule a rerun behind the first barrier.
	return c.ledger.Idle(ctx)
}

// Close stops background work and releases the store if the client opened
// it. Safe to call multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	if c.stopProber != nil {
		c.stopProber()
	}
	if c.ledger != nil {
		_ = c.ledger.Close()
	}
	if c.gateway != nil {
		_ = c.gateway.Close()
	}
	if c.exec != nil {
		c.exec.Stop()
	}
	if c.ownsStore {
		if closer, ok := c.store.(io.Closer); ok {
			return closer.Close()
		}
	}
	return nil
}
