package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/kaulonline/iriseller-mobile/client"
	"github.com/kaulonline/iriseller-mobile/internal/config"
	"github.com/kaulonline/iriseller-mobile/internal/logger"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type app struct {
	out    io.Writer
	logOut io.Writer

	apiURL    string
	storePath string
	offline   bool
	verbose   bool

	log zerolog.Logger
}

type route struct {
	entity     string
	collection string
}

// withClient builds a client that starts offline, optionally probes the
// backend, runs fn and closes the client.
func (a *app) withClient(ctx context.Context, connect bool, fn func(context.Context, *client.Client) error) error {
	log := logger.NewConsole("iriseller-sync", a.logOut).Level(zerolog.InfoLevel)
	cfg, err := config.New(log)
	if err != nil {
		return err
	}
	if a.storePath != "" {
		cfg.StoreDriver = config.StoreSQLite
		cfg.StorePath = a.storePath
	}
	level := logger.ParseLevel(cfg.LogLevel)
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.log = log.Level(level)

	opts := []client.Option{
		client.WithConfig(cfg),
		client.WithLogger(a.log),
		client.WithInitialOnline(false),
	}
	if a.apiURL != "" {
		opts = append(opts, client.WithBaseURL(a.apiURL))
	}
	c, err := client.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close client")
		}
	}()

	if connect {
		if err := a.connect(ctx, c); err != nil {
			return err
		}
	}
	return fn(ctx, c)
}

// connect probes the health endpoint unless --offline was given and waits for
// the replays a reconnect schedules.
func (a *app) connect(ctx context.Context, c *client.Client) error {
	if a.offline {
		return nil
	}
	online, err := c.Probe(ctx)
	if err != nil {
		return err
	}
	if !online {
		a.log.Warn().Msg("backend unreachable, working offline")
		return nil
	}
	return c.AwaitIdle(ctx)
}

func (a *app) runStatus(ctx context.Context, c *client.Client) error {
	status := c.SyncStatus(ctx)
	lastSync := "never"
	if t, ok := c.Ledger().LastSync(ctx); ok {
		lastSync = t.Local().Format(time.RFC3339)
	}
	session := "signed out"
	if c.Auth().IsAuthenticated(ctx) {
		session = "signed in"
		if u := c.Auth().CurrentUser(); u != nil && u.Email != "" {
			session += " as " + u.Email
		}
		if exp, ok := c.Auth().TokenExpiry(ctx); ok {
			session += ", token expires " + exp.Local().Format(time.RFC3339)
		}
	}

	fmt.Fprintf(a.out, "api:             %s\n", c.Config().BaseURL)
	fmt.Fprintf(a.out, "queued requests: %d\n", c.Gateway().QueueLen())
	fmt.Fprintf(a.out, "pending entries: %d\n", c.Ledger().PendingCount())
	fmt.Fprintf(a.out, "last sync:       %s\n", lastSync)
	fmt.Fprintf(a.out, "session:         %s\n", session)
	for _, msg := range status.Errors {
		fmt.Fprintf(a.out, "sync error:      %s\n", msg)
	}
	return nil
}

func (a *app) runQueueList(_ context.Context, c *client.Client) error {
	pending := c.Gateway().Pending()
	if len(pending) == 0 {
		fmt.Fprintln(a.out, "offline queue is empty")
		return nil
	}
	for _, q := range pending {
		fmt.Fprintf(a.out, "%s  %-6s %s  %s\n", q.CreatedAt.Local().Format(time.RFC3339), q.Method, q.URL, q.ID)
	}
	return nil
}

func (a *app) runDrain(ctx context.Context, c *client.Client) error {
	before := c.Gateway().QueueLen()
	if before == 0 {
		fmt.Fprintln(a.out, "offline queue is empty")
		return nil
	}
	if err := a.connect(ctx, c); err != nil {
		return err
	}
	if !c.Online() {
		return fmt.Errorf("backend unreachable: %d request(s) still queued", before)
	}
	if _, ran := c.Drain(ctx); !ran {
		a.log.Debug().Msg("drain already running")
	}
	if err := c.AwaitIdle(ctx); err != nil {
		return err
	}
	remaining := c.Gateway().QueueLen()
	fmt.Fprintf(a.out, "replayed %d of %d queued request(s), %d remaining\n", before-remaining, before, remaining)
	return nil
}

func (a *app) runSync(ctx context.Context, c *client.Client, routes []route) error {
	for _, r := range routes {
		c.RegisterRESTHandler(r.entity, r.collection)
	}
	before := c.Ledger().PendingCount()
	if before == 0 {
		fmt.Fprintln(a.out, "no pending entries")
		return nil
	}

	events, cancel := c.Ledger().Subscribe(16)
	defer cancel()
	if err := a.connect(ctx, c); err != nil {
		return err
	}
	if !c.Online() {
		return fmt.Errorf("backend unreachable: %d entries still pending", before)
	}
	// A reconnect already runs a pass; only sync explicitly if it did not.
	if !sawSyncCompleted(events) {
		c.Sync(ctx)
		if err := c.AwaitIdle(ctx); err != nil {
			return err
		}
	}

	status := c.SyncStatus(ctx)
	remaining := c.Ledger().PendingCount()
	fmt.Fprintf(a.out, "synced %d of %d entries, %d pending\n", before-remaining, before, remaining)
	for _, msg := range status.Errors {
		fmt.Fprintf(a.out, "  %s\n", msg)
	}
	return nil
}

func sawSyncCompleted(events <-chan client.Event) bool {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			if evt.Kind == client.EventSyncCompleted {
				return true
			}
		default:
			return false
		}
	}
}

func (a *app) runLedgerAdd(ctx context.Context, c *client.Client, kind, entity, data string) error {
	k := client.EntryKind(kind)
	if !k.Valid() {
		return fmt.Errorf("unknown kind %q: want create, update or delete", kind)
	}
	if !json.Valid([]byte(data)) {
		return errors.New("--data must be valid JSON")
	}
	id, err := c.AddEntry(ctx, k, entity, json.RawMessage(data))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "recorded %s %s entry %s\n", k, entity, id)
	return nil
}

func (a *app) runLedgerList(_ context.Context, c *client.Client) error {
	entries := c.Ledger().Entries()
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "no pending entries")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s  %-6s %-12s attempts=%d  %s\n", e.ID, e.Kind, e.Entity, e.Attempts, e.Payload)
	}
	return nil
}

func (a *app) runLedgerClear(ctx context.Context, c *client.Client) error {
	n := c.Ledger().PendingCount()
	if err := c.Ledger().Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ledger cleared, %d entries dropped\n", n)
	return nil
}

func (a *app) runLogin(ctx context.Context, c *client.Client, email, password string, remember bool) error {
	resp, err := c.Auth().Login(ctx, client.LoginRequest{
		Email:      email,
		Password:   password,
		RememberMe: &remember,
	})
	if err != nil {
		return errors.New(client.UserMessage(err))
	}
	name := resp.User.Email
	if name == "" {
		name = email
	}
	fmt.Fprintf(a.out, "signed in as %s\n", name)
	return nil
}

func (a *app) runLogout(ctx context.Context, c *client.Client) error {
	if err := c.Auth().Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func (a *app) runDashboard(ctx context.Context, c *client.Client, refresh bool) error {
	overview := c.Dashboard().Overview(ctx, refresh)
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(overview)
}

func (a *app) promptPassword() (string, error) {
	fmt.Fprint(a.logOut, "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.logOut)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

func parseRoutes(specs []string) ([]route, error) {
	routes := make([]route, 0, len(specs))
	for _, s := range specs {
		entity, collection, ok := strings.Cut(s, "=")
		entity = strings.TrimSpace(entity)
		collection = strings.TrimSpace(collection)
		if !ok || entity == "" || !strings.HasPrefix(collection, "/") {
			return nil, fmt.Errorf("invalid route %q: want entity=/collection", s)
		}
		routes = append(routes, route{entity: entity, collection: collection})
	}
	return routes, nil
}
