package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"toolshare/internal/config"
	"toolshare/internal/identity"
	"toolshare/lending"
)

const defaultConfigFile = "toolshare.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "toolshare",
		Short:        "Neighborhood tool lending",
		Long:         "ToolShare keeps a neighborhood's tool catalog, reservations and tool requests.\nRun without a subcommand to start the interactive shell.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return newShell(a, cmd.InOrStdin(), cmd.OutOrStdout()).run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigFile, "path to YAML configuration")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides config)")
	root.AddCommand(newServeCmd(flags), newUsersCmd(flags))
	return root
}

func (f *rootFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	lvl, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return cfg, nil
}

// app bundles the wired components the shell talks to.
type app struct {
	db       *lending.Database
	store    *lending.Store
	identity *identity.Provider
	session  *lending.SessionAdapter

	stop func()
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := lending.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	idp := identity.NewProvider(db)
	store := lending.NewStore(
		lending.WithPersister(db),
		lending.WithSessionInvalidator(idp),
		lending.WithSnapshot(snap),
	)
	session := lending.NewSessionAdapter(store, idp)

	runCtx, cancel := context.WithCancel(ctx)
	events, unsubscribe := idp.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Run(runCtx, events); err != nil && runCtx.Err() == nil {
			slog.Error("Session adapter stopped", "error", err)
		}
	}()

	return &app{
		db:       db,
		store:    store,
		identity: idp,
		session:  session,
		stop: func() {
			cancel()
			unsubscribe()
			<-done
		},
	}, nil
}

func (a *app) Close() error {
	a.stop()
	return a.db.Close()
}
