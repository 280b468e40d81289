// Command iriseller-sync inspects and drives the offline sync state of an
// iriseller client from a terminal: the gateway's request queue, the
// mutation ledger and the stored session.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaulonline/iriseller-mobile/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	a := &app{out: out, logOut: logOut}

	rootCmd := &cobra.Command{
		Use:           "iriseller-sync",
		Short:         "Inspect and replay the iriseller offline queue and mutation ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&a.apiURL, "api", "a", "", "API base URL (overrides IRISELLER_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&a.storePath, "store", "", "SQLite store path (overrides IRISELLER_STORE_PATH)")
	rootCmd.PersistentFlags().BoolVar(&a.offline, "offline", false, "skip the health probe and stay offline")
	rootCmd.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "log at debug level")

	rootCmd.AddCommand(
		a.statusCmd(),
		a.queueCmd(),
		a.drainCmd(),
		a.syncCmd(),
		a.ledgerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.dashboardCmd(),
	)
	return rootCmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue depth, ledger backlog and session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), false, a.runStatus)
		},
	}
}

func (a *app) queueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline request queue",
	}
	queueCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued requests in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), false, a.runQueueList)
		},
	})
	return queueCmd
}

func (a *app) drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay the offline request queue against the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), false, a.runDrain)
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	var routes []string
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay pending ledger entries through REST routes",
		Long: "Replay pending ledger entries. Each --route entity=/collection maps an entity's\n" +
			"create, update and delete entries to POST, PUT and DELETE on that collection.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseRoutes(routes)
			if err != nil {
				return err
			}
			return a.withClient(cmd.Context(), false, func(ctx context.Context, c *client.Client) error {
				return a.runSync(ctx, c, parsed)
			})
		},
	}
	syncCmd.Flags().StringArrayVarP(&routes, "route", "r", nil, "entity=/collection mapping (repeatable)")
	return syncCmd
}

func (a *app) ledgerCmd() *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Record, list or clear pending local mutations",
	}

	var kind, entity, data string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Record a mutation for later sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), false, func(ctx context.Context, c *client.Client) error {
				return a.runLedgerAdd(ctx, c, kind, entity, data)
			})
		},
	}
	addCmd.Flags().StringVarP(&kind, "kind", "k", "create", "mutation kind: create, update or delete")
	addCmd.Flags().StringVarP(&entity, "entity", "e", "", "entity name (required)")
	addCmd.Flags().StringVarP(&data, "data", "d", "{}", "JSON payload")
	_ = addCmd.MarkFlagRequired("entity")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), false, a.runLedgerList)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending entry and the stored sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), false, a.runLedgerClear)
		},
	}

	ledgerCmd.AddCommand(addCmd, listCmd, clearCmd)
	return ledgerCmd
}

func (a *app) loginCmd() *cobra.Command {
	var email string
	var remember bool
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.promptPassword()
			if err != nil {
				return err
			}
			return a.withClient(cmd.Context(), true, func(ctx context.Context, c *client.Client) error {
				return a.runLogin(ctx, c, email, password, remember)
			})
		},
	}
	loginCmd.Flags().StringVarP(&email, "email", "e", "", "account email (required)")
	loginCmd.Flags().BoolVar(&remember, "remember", true, "keep the session across restarts")
	_ = loginCmd.MarkFlagRequired("email")
	return loginCmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), true, a.runLogout)
		},
	}
}

func (a *app) dashboardCmd() *cobra.Command {
	var refresh bool
	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print the dashboard overview, served from cache when offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd.Context(), true, func(ctx context.Context, c *client.Client) error {
				return a.runDashboard(ctx, c, refresh)
			})
		},
	}
	dashboardCmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache")
	return dashboardCmd
}
