package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/torc-hpc/torc/pkg/api"
	"github.com/torc-hpc/torc/pkg/artifacts"
	"github.com/torc-hpc/torc/pkg/auth"
	"github.com/torc-hpc/torc/pkg/claim"
	"github.com/torc-hpc/torc/pkg/config"
	"github.com/torc-hpc/torc/pkg/engine"
	"github.com/torc-hpc/torc/pkg/events"
	"github.com/torc-hpc/torc/pkg/log"
	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/reconciler"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/tracker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the torc API server",
	Long: `Run the torc API server.

The server owns the workflow database and serves the HTTP API that
compute nodes and the CLI talk to. Configuration is layered: built-in
defaults, /etc/torc/config.toml, $XDG_CONFIG_HOME/torc/config.toml,
./torc.toml, TORC_* environment variables, then flags.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().String("listen", "", "Listen address (default 127.0.0.1:8080)")
	serverCmd.Flags().String("db", "", "Database file path (default torc.db)")
	serverCmd.Flags().String("auth-file", "", "htpasswd file with bcrypt entries; empty disables auth")
	serverCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	serverCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(serverCmd)
}

func serverConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	l := &config.Loader{Paths: config.DefaultPaths(), File: file}
	l.BindFlag("server.listen", cmd.Flags().Lookup("listen"))
	l.BindFlag("database.path", cmd.Flags().Lookup("db"))
	l.BindFlag("server.auth_file", cmd.Flags().Lookup("auth-file"))
	l.BindFlag("server.log_level", cmd.Flags().Lookup("log-level"))
	l.BindFlag("server.log_json", cmd.Flags().Lookup("log-json"))
	return l.Load()
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := serverConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Server.LogLevel),
		JSONOutput: cfg.Server.LogJSON,
	})
	metrics.SetVersion(Version)

	var verifier *auth.Verifier
	if cfg.Server.AuthFile != "" {
		verifier, err = auth.LoadFile(cfg.Server.AuthFile)
		if err != nil {
			return fmt.Errorf("failed to load auth file: %v", err)
		}
	}

	store, err := storage.NewBoltStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	fmt.Printf("✓ Database open: %s\n", cfg.Database.Path)

	broker := events.NewBroker()
	broker.Start()

	eng := engine.New(store, broker)
	coord := claim.New(eng, cfg.Claim.WaitTimeout)

	recon := reconciler.New(store, eng, reconciler.Config{
		Interval:    cfg.Reconciler.Interval,
		NodeTimeout: cfg.Reconciler.NodeTimeout,
	})
	recon.Start()
	fmt.Println("✓ Reconciler started")

	srv := api.New(api.Config{
		Listen:         cfg.Server.Listen,
		Verifier:       verifier,
		MetricsEnabled: cfg.Metrics.Enabled,
	}, api.Deps{
		Store:    store,
		Engine:   eng,
		Claims:   coord,
		Tracker:  tracker.New(store, broker),
		Resolver: artifacts.New(store),
		Broker:   broker,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	fmt.Printf("✓ API listening on %s", cfg.Server.Listen)
	if verifier == nil {
		fmt.Print(" (anonymous mode)")
	}
	fmt.Println()
	fmt.Println()
	fmt.Println("Server is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// Drain long-poll claims before closing anything they depend on.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Claim.WaitTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: HTTP shutdown: %v\n", err)
	}
	recon.Stop()
	broker.Stop()
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close database: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
