// Command InsureGuide runs the health insurance intake and recommendation
// assistant.
//
// By default it serves the conversation API over HTTP. With -console it chats
// on the terminal instead, and with -ingest it loads a directory of policy
// documents into the vector store and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/InsureGuide/internal/config"
	"github.com/BTreeMap/InsureGuide/internal/lockfile"
	"github.com/BTreeMap/InsureGuide/internal/store"
)

const (
	// DefaultDBFileName is the SQLite session database inside the state directory.
	DefaultDBFileName = "insureguide.db"
	// DefaultVectorDirName holds the persisted chromem collections.
	DefaultVectorDirName = "vectors"
)

// Flags holds command line flag values.
type Flags struct {
	configPath string
	stateDir   string
	dbDSN      string
	apiAddr    string
	logLevel   string
	ingestDir  string
	console    bool
	ephemeral  bool
}

func main() {
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "InsureGuide: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "InsureGuide: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, flags)
	initializeLogger(cfg.SlogLevel())

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flags); err != nil {
		slog.Error("InsureGuide failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("InsureGuide exited successfully")
}

func run(ctx context.Context, cfg *config.Config, flags Flags) error {
	if usesStateDir(cfg) {
		lock, err := lockfile.Acquire(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	slog.Info("Bootstrapping InsureGuide", "model", cfg.LLM.Model, "retrieval", cfg.Retrieval.Backend, "dsn_set", cfg.Store.DSN != "")
	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	switch {
	case flags.ingestDir != "":
		return app.ingest(ctx, flags.ingestDir)
	case flags.console:
		stopJobs := app.startJobs(ctx)
		err := runConsole(ctx, app.engine, os.Stdin, os.Stdout)
		app.engine.Wait()
		stopJobs()
		return err
	default:
		sched, err := app.scheduleMaintenance()
		if err != nil {
			return err
		}
		stopJobs := app.startJobs(ctx)
		err = app.server().Run(ctx, cfg.API.Addr)
		sched.Stop()
		app.engine.Wait()
		stopJobs()
		return err
	}
}

// initializeLogger sets up structured logging at the configured level.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// parseCommandLineFlags parses args into Flags. Unset flags leave the
// configuration untouched.
func parseCommandLineFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	var f Flags
	fs.StringVar(&f.configPath, "config", os.Getenv("INSUREGUIDE_CONFIG"), "path to a YAML config file (overrides $INSUREGUIDE_CONFIG)")
	fs.StringVar(&f.stateDir, "state-dir", "", "state directory for sessions and vectors (overrides $INSUREGUIDE_STATE_DIR)")
	fs.StringVar(&f.dbDSN, "db-dsn", "", "session store DSN, a postgres URL or SQLite path (overrides $INSUREGUIDE_DB_DSN)")
	fs.StringVar(&f.apiAddr, "api-addr", "", "API server address (overrides $INSUREGUIDE_ADDR)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides $INSUREGUIDE_LOG_LEVEL)")
	fs.StringVar(&f.ingestDir, "ingest", "", "ingest policy documents from this directory and exit")
	fs.BoolVar(&f.console, "console", false, "chat on the terminal instead of serving HTTP")
	fs.BoolVar(&f.ephemeral, "ephemeral", false, "keep sessions and vectors in memory only")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.console && f.ingestDir != "" {
		return Flags{}, errors.New("-console and -ingest are mutually exclusive")
	}
	return f, nil
}

// applyFlags layers the flags over cfg and fills in the file locations
// derived from the state directory.
func applyFlags(cfg *config.Config, f Flags) {
	if f.stateDir != "" {
		cfg.StateDir = f.stateDir
	}
	if f.dbDSN != "" {
		cfg.Store.DSN = f.dbDSN
	}
	if f.apiAddr != "" {
		cfg.API.Addr = f.apiAddr
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	if f.ephemeral {
		cfg.Store.DSN = ""
		cfg.Retrieval.PersistPath = ""
		return
	}
	if cfg.Store.DSN == "" && cfg.StateDir != "" {
		cfg.Store.DSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	if cfg.Retrieval.Backend == "chromem" && cfg.Retrieval.PersistPath == "" && cfg.StateDir != "" {
		cfg.Retrieval.PersistPath = filepath.Join(cfg.StateDir, DefaultVectorDirName)
	}
}

// usesStateDir reports whether a file-backed store writes under the state
// directory, which then needs the single-instance lock.
func usesStateDir(cfg *config.Config) bool {
	if cfg.StateDir == "" {
		return false
	}
	if cfg.Store.DSN != "" && store.DetectDSNType(cfg.Store.DSN) == "sqlite3" && within(cfg.StateDir, cfg.Store.DSN) {
		return true
	}
	return cfg.Retrieval.Backend == "chromem" && cfg.Retrieval.PersistPath != "" && within(cfg.StateDir, cfg.Retrieval.PersistPath)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
