// Daybreak CLI - serve and inspect the daily progression engine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumlife/daybreak/internal/api"
	"github.com/quantumlife/daybreak/internal/arcs"
	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/dailyrun"
	"github.com/quantumlife/daybreak/internal/ledger"
)

var (
	// Config
	configPath string
	dataDir    string

	// Version
	version = "0.1.0-alpha"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "daybreak",
		Short: "Daybreak - daily progression engine",
		Long: `Daybreak runs a player's day: time allocation, storylets and
optional activities, multi-day story arcs, and the resource economy
underneath them. Every decision lands in a hash-chained ledger.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.json)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")

	root.AddCommand(serveCmd())
	root.AddCommand(catalogCmd())
	root.AddCommand(runCmd())
	root.AddCommand(arcsCmd())
	root.AddCommand(ledgerCmd())
	root.AddCommand(migrationsCmd())
	root.AddCommand(versionCmd())
	return root
}

// serveCmd runs the HTTP API
func serveCmd() *cobra.Command {
	var port int
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			cat, err := a.seedCatalog(cmd.Context(), catalogPath)
			if err != nil {
				return fmt.Errorf("failed to seed catalog: %w", err)
			}
			a.log.Info("catalog ready with %d arcs", len(cat.Arcs))

			if port == 0 {
				port = a.cfg.Server.Port
			}
			srv := api.New(api.Config{
				Host:           a.cfg.Server.Host,
				Port:           port,
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				Daily:          a.daily,
				Arcs:           a.arcs,
				Ledger:         a.ledger,
				Capabilities:   a.caps,
				Clock:          a.clock,
				Log:            a.log,
			})

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigCh:
				a.log.Info("shutting down")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides config)")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "arc catalog YAML (default: bundled catalog)")
	return cmd
}

// catalogCmd manages the arc catalog
func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the arc catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "load [file]",
		Short: "Validate and seed an arc catalog (bundled catalog if no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := a.seedCatalog(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Loaded %d arcs\n", len(cat.Arcs))
			for _, arc := range cat.Arcs {
				state := ""
				if !arc.Definition.Enabled {
					state = " (disabled)"
				}
				fmt.Fprintf(out, "   • %s - %s, %d steps%s\n",
					arc.Definition.Key, arc.Definition.Title, len(arc.Steps), state)
			}
			return nil
		},
	})

	return cmd
}

// runCmd prints a user's daily run
func runCmd() *cobra.Command {
	var userID, date string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Show a user's daily run for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			when := a.clock.Now()
			if date != "" {
				when, err = time.Parse(core.DateLayout, date)
				if err != nil {
					return fmt.Errorf("date must look like %s: %w", core.DateLayout, err)
				}
			}

			dr, err := a.daily.GetOrCreateDailyRun(cmd.Context(), core.UserID(userID), when, dailyrun.Options{
				Capabilities: a.caps,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, dr)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().StringVar(&date, "date", "", "calendar date, YYYY-MM-DD (default today)")
	cmd.MarkFlagRequired("user")
	return cmd
}

// arcsCmd prints a user's arc state
func arcsCmd() *cobra.Command {
	var userID string
	var day int

	cmd := &cobra.Command{
		Use:   "arcs",
		Short: "Show a user's arc offers and instances for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if day < 1 {
				return fmt.Errorf("--day must be at least 1")
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.arcs.GetTodayArcState(cmd.Context(), core.UserID(userID), day, arcs.Signals{})
			if err != nil {
				return err
			}
			return printJSON(cmd, state)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().IntVar(&day, "day", 1, "logical day index")
	cmd.MarkFlagRequired("user")
	return cmd
}

// ledgerCmd inspects the ChoiceLog
func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the decision ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the ledger hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			count, err := a.ledger.Count(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.ledger.VerifyChain(cmd.Context()); err != nil {
				var chainErr *ledger.ChainError
				if errors.As(err, &chainErr) {
					return fmt.Errorf("❌ ledger tampered (%s at entry %d): %w", chainErr.Type, chainErr.EntryNum, err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Ledger chain valid (%d entries)\n", count)
			return nil
		},
	})

	return cmd
}

// migrationsCmd lists applied schema migrations. Opening the app applies
// any pending ones first.
func migrationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrations",
		Short: "List applied schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := a.db.AppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range applied {
				fmt.Fprintf(out, "%s  %s  %s\n", m.Name, m.Checksum[:12], m.AppliedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// versionCmd shows version info
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "daybreak %s\n", version)
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
