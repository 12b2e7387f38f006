package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/config"
	"github.com/BTreeMap/InsureGuide/internal/flow"
	"github.com/BTreeMap/InsureGuide/internal/store"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("InsureGuide", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseCommandLineFlags(t *testing.T) {
	t.Setenv("INSUREGUIDE_CONFIG", "/etc/insureguide.yaml")
	f, err := parseCommandLineFlags(newFlagSet(), []string{"-api-addr", ":9090", "-console"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f.configPath != "/etc/insureguide.yaml" || f.apiAddr != ":9090" || !f.console {
		t.Errorf("unexpected flags %+v", f)
	}

	if _, err := parseCommandLineFlags(newFlagSet(), []string{"-console", "-ingest", "docs"}); err == nil {
		t.Error("-console with -ingest should be rejected")
	}
	if _, err := parseCommandLineFlags(newFlagSet(), []string{"-bogus"}); err == nil {
		t.Error("unknown flag should be rejected")
	}
}

func TestApplyFlagsDerivesStatePaths(t *testing.T) {
	cfg := config.DefaultConfig()
	applyFlags(cfg, Flags{stateDir: "/tmp/ig", logLevel: "debug"})

	if cfg.Store.DSN != filepath.Join("/tmp/ig", DefaultDBFileName) {
		t.Errorf("unexpected DSN %q", cfg.Store.DSN)
	}
	if cfg.Retrieval.PersistPath != filepath.Join("/tmp/ig", DefaultVectorDirName) {
		t.Errorf("unexpected persist path %q", cfg.Retrieval.PersistPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level not applied: %q", cfg.LogLevel)
	}
	if !usesStateDir(cfg) {
		t.Error("SQLite under the state directory needs the lock")
	}
}

func TestApplyFlagsKeepsExplicitDSN(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retrieval.Backend = "pgvector"
	applyFlags(cfg, Flags{dbDSN: "postgres://u:p@db/insureguide", apiAddr: ":7000"})

	if cfg.Store.DSN != "postgres://u:p@db/insureguide" || cfg.API.Addr != ":7000" {
		t.Errorf("flags not applied: %+v %+v", cfg.Store, cfg.API)
	}
	if cfg.Retrieval.PersistPath != "" {
		t.Errorf("pgvector backend should not get a persist path, got %q", cfg.Retrieval.PersistPath)
	}
	if usesStateDir(cfg) {
		t.Error("postgres-only deployment should not lock the state directory")
	}
}

func TestApplyFlagsEphemeral(t *testing.T) {
	cfg := config.DefaultConfig()
	applyFlags(cfg, Flags{ephemeral: true})
	if cfg.Store.DSN != "" || cfg.Retrieval.PersistPath != "" {
		t.Errorf("ephemeral run should not persist: %+v %+v", cfg.Store, cfg.Retrieval)
	}
	if usesStateDir(cfg) {
		t.Error("ephemeral run should not lock the state directory")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/var/lib/ig", "/var/lib/ig/insureguide.db", true},
		{"/var/lib/ig", "/var/lib/ig/vectors/", true},
		{"/var/lib/ig", "/var/lib/other.db", false},
		{"/var/lib/ig", "/var/lib/ig2/x.db", false},
		{"/var/lib/ig", "relative.db", false},
	}
	for _, tt := range tests {
		if got := within(tt.dir, tt.path); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

type scriptedEngine struct {
	replies []string
	doneAt  int
}

func (e *scriptedEngine) Start(ctx context.Context) (flow.Turn, error) {
	return flow.Turn{SessionID: "c1", Prompt: "Hello! How can I help?"}, nil
}

func (e *scriptedEngine) Resume(ctx context.Context, sessionID, reply string) (flow.Turn, error) {
	e.replies = append(e.replies, reply)
	return flow.Turn{
		SessionID: sessionID,
		Messages:  []string{"noted " + reply},
		Prompt:    "anything else?",
		Done:      len(e.replies) == e.doneAt,
	}, nil
}

func TestRunConsole(t *testing.T) {
	eng := &scriptedEngine{doneAt: 2}
	var out bytes.Buffer
	in := strings.NewReader("I want a plan\n\n  for my family  \nnever read\n")

	if err := runConsole(context.Background(), eng, in, &out); err != nil {
		t.Fatalf("runConsole failed: %v", err)
	}
	if len(eng.replies) != 2 || eng.replies[1] != "for my family" {
		t.Errorf("unexpected replies %q", eng.replies)
	}
	for _, want := range []string{"Hello! How can I help?", "noted I want a plan", "noted for my family"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunConsoleQuit(t *testing.T) {
	eng := &scriptedEngine{}
	var out bytes.Buffer
	if err := runConsole(context.Background(), eng, strings.NewReader("/quit\nhello\n"), &out); err != nil {
		t.Fatalf("runConsole failed: %v", err)
	}
	if len(eng.replies) != 0 {
		t.Errorf("nothing should reach the engine after /quit, got %q", eng.replies)
	}
}

func TestScheduleMaintenance(t *testing.T) {
	cfg := config.DefaultConfig()
	a := &app{cfg: cfg}

	sched, err := a.scheduleMaintenance()
	if err != nil {
		t.Fatalf("scheduleMaintenance failed: %v", err)
	}
	sched.Stop()

	cfg.Flow.SweepSchedule = "every so often"
	if _, err := a.scheduleMaintenance(); err == nil {
		t.Error("invalid sweep schedule should be rejected")
	}

	cfg.Flow.SessionTTL = 0
	sched, err = a.scheduleMaintenance()
	if err != nil {
		t.Fatalf("disabled sweep should not fail: %v", err)
	}
	sched.Stop()
}

func TestStartJobsDrainsOnStop(t *testing.T) {
	st := store.NewInMemoryStore()
	a := &app{cfg: config.DefaultConfig(), store: st, jobs: store.NewJobRunner(st, store.WithPollInterval(time.Hour))}
	var ran []string
	a.jobs.Register("note", func(ctx context.Context, payload string) error {
		ran = append(ran, payload)
		return nil
	})
	if _, err := st.EnqueueJob("note", time.Now().Add(-time.Second), "hello", ""); err != nil {
		t.Fatal(err)
	}

	stop := a.startJobs(context.Background())
	stop()
	if len(ran) != 1 || ran[0] != "hello" {
		t.Errorf("due job should run on stop, ran %v", ran)
	}
}
