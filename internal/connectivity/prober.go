package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// HealthPinger can be implemented by anything able to tell whether the
// backend is reachable. HealthPing must return nil when it is.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}

// HTTPPinger pings a health endpoint with a plain GET.
type HTTPPinger struct {
	client *resty.Client
	path   string
}

// NewHTTPPinger builds a pinger for baseURL+path with the given timeout.
func NewHTTPPinger(baseURL, path string, timeout time.Duration) *HTTPPinger {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &HTTPPinger{client: c, path: path}
}

// HealthPing implements HealthPinger. Any response below 500 counts as reachable.
func (p *HTTPPinger) HealthPing(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get(p.path)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("health: status %d", resp.StatusCode())
	}
	return nil
}

// Prober periodically pings the backend and feeds the result into a Monitor.
type Prober struct {
	pinger  HealthPinger
	monitor *Monitor
	log     zerolog.Logger
}

// NewProber wires a pinger to a monitor.
func NewProber(pinger HealthPinger, monitor *Monitor, log zerolog.Logger) *Prober {
	return &Prober{pinger: pinger, monitor: monitor, log: log}
}

// Probe pings once and updates the monitor. It returns the observed state.
func (p *Prober) Probe(ctx context.Context) bool {
	err := p.pinger.HealthPing(ctx)
	online := err == nil
	if p.monitor.Set(online) {
		if online {
			p.log.Info().Msg("network status: online")
		} else {
			p.log.Warn().Err(err).Msg("network status: offline")
		}
	}
	return online
}

// Start probes immediately and then every interval until ctx is done.
func (p *Prober) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
