package client

// This file defines functional options that configure the Client during
// construction. Keeping them in a standalone file avoids cluttering
// client.go and makes it easy to discover all available knobs at a glance.

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaulonline/iriseller-mobile/internal/config"
	"github.com/kaulonline/iriseller-mobile/internal/connectivity"
	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
)

// Option configures a Client during construction in New.
//
// Options run before any component is built, so they only record settings.
// Options that tune the configuration (timeouts, base URL) are applied on top
// of whichever configuration New ends up with, regardless of option order.
type Option func(*Client) error

// WithConfig supplies the configuration instead of reading the environment.
// The value is copied.
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) error {
		if cfg == nil {
			return fmt.Errorf("config must not be nil")
		}
		cp := *cfg
		if err := cp.ResolveDefaults(); err != nil {
			return err
		}
		c.cfg = &cp
		return nil
	}
}

// WithLogger sets the logger every component derives its logger from.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

// WithStore makes the client use store instead of opening one. The caller
// keeps ownership and closes it after Close.
func WithStore(store kvstore.Store) Option {
	return func(c *Client) error {
		if store == nil {
			return fmt.Errorf("store must not be nil")
		}
		c.store = store
		return nil
	}
}

// WithObserver plugs in an external connectivity signal. SetOnline and the
// prober are unavailable with an external observer.
func WithObserver(obs connectivity.Observer) Option {
	return func(c *Client) error {
		if obs == nil {
			return fmt.Errorf("observer must not be nil")
		}
		c.observer = obs
		return nil
	}
}

// WithInitialOnline sets the starting state of the built-in Monitor.
func WithInitialOnline(online bool) Option {
	return func(c *Client) error {
		c.observer = connectivity.NewMonitor(online)
		return nil
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if baseURL == "" {
			return fmt.Errorf("base url must not be empty")
		}
		trimmed := strings.TrimRight(baseURL, "/")
		c.overrides = append(c.overrides, func(cfg *config.Config) { cfg.BaseURL = trimmed })
		return nil
	}
}

// WithHTTPTimeout sets the per-attempt timeout for gateway requests.
//
// Prefer per-request context deadlines where possible; this timeout is a
// coarse safety net that bounds a single attempt. The value must be greater
// than zero.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.overrides = append(c.overrides, func(cfg *config.Config) { cfg.HTTPTimeout = d })
		return nil
	}
}

// WithRetryPolicy sets how many times a failed request is retried and the
// fixed delay between attempts.
func WithRetryPolicy(retries int, delay time.Duration) Option {
	return func(c *Client) error {
		if retries < 0 || delay < 0 {
			return fmt.Errorf("retry policy must be non-negative")
		}
		c.overrides = append(c.overrides, func(cfg *config.Config) {
			cfg.RetryCount = retries
			cfg.RetryDelay = delay
		})
		return nil
	}
}

// WithTransport sets the round tripper beneath the gateway.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) error {
		if rt == nil {
			return fmt.Errorf("transport must not be nil")
		}
		if dt, ok := c.transport.(*debugTransport); ok {
			dt.base = rt
			return nil
		}
		c.transport = rt
		return nil
	}
}

// WithDebugLogging wraps the gateway transport so each request/response is
// logged when enabled is true.
//
// Do not enable this option in production environments as it increases
// verbosity and dumps headers and bodies, bearer tokens included.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		if !enabled {
			return nil
		}
		if _, ok := c.transport.(*debugTransport); !ok {
			c.transport = &debugTransport{base: c.transport, log: &c.log}
		}
		return nil
	}
}
