// Command warden runs a single cybersecurity triage against the local
// knowledge base and prints the summary line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/kv/sqlitekv"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/rules"
	"github.com/linnemanlabs/warden/internal/triage"
	"github.com/linnemanlabs/warden/internal/triage/kvstore"
	"github.com/linnemanlabs/warden/internal/triage/memstore"
)

const defaultInput = "HIGH_SEVERITY_ALERT: Source=Rapid7 SIEM, User=Alice"

type options struct {
	kvPath  string
	agentID string
	input   string
}

func (o *options) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.kvPath, "kv-path", "./data/warden.db", "SQLite file backing the knowledge base")
	fs.StringVar(&o.agentID, "agent-id", triage.DefaultAgentID, "agent id stamped on the recorded fact")
	fs.StringVar(&o.input, "input", defaultInput, "task input to triage")
}

func (o *options) validate() error {
	var errs []error
	if o.kvPath == "" {
		errs = append(errs, errors.New("KV_PATH is required"))
	}
	if o.input == "" {
		errs = append(errs, errors.New("INPUT is required"))
	}
	return errors.Join(errs...)
}

func main() {
	var (
		opts   options
		logCfg log.Config
	)
	opts.registerFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	cfg.FillFromEnv(flag.CommandLine, "WARDEN_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(opts.validate(), logCfg.Validate()); err != nil {
		fmt.Fprintln(os.Stderr, "configuration validation failed:", err)
		os.Exit(2)
	}

	lg, err := log.New(logCfg.ToOptions("warden"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx, lg.With("component", "cli"))

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// run triages opts.input once and writes the summary to out. A knowledge
// base that cannot be opened degrades to defaults inside the engine, so the
// only error is a failed write to out.
func run(ctx context.Context, opts options, out io.Writer) error {
	L := log.FromContext(ctx)

	var summary string
	db, err := sqlitekv.Open(ctx, opts.kvPath)
	if err != nil {
		L.Warn(ctx, "knowledge base unavailable, triaging with defaults", "path", opts.kvPath, "error", err)
		summary = triage.NewEngine(unavailable{}, nopRules{}, unavailable{}, memstore.New(), opts.agentID, L, triage.EngineHooks{}).Run(ctx, opts.input)
	} else {
		defer func() { _ = db.Close() }()
		e := triage.NewEngine(
			policy.NewStore(db, L, nil),
			rules.NewStore(db, L, nil),
			db, kvstore.New(db, L), opts.agentID, L, triage.EngineHooks{},
		)
		summary = e.Run(ctx, opts.input)
	}

	_, err = fmt.Fprintln(out, summary)
	return err
}

// unavailable stands in for a knowledge base that failed to open.
type unavailable struct{}

func (unavailable) Load(context.Context) policy.Snapshot { return policy.Default() }

func (unavailable) GenerateID(context.Context) (uint64, error) {
	return 0, errors.New("knowledge base unavailable")
}

type nopRules struct{}

func (nopRules) Write(context.Context, rules.Rule) {}
