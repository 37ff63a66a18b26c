// Warden serves the cybersecurity triage agent over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/warden/internal/agentapi"
	wc "github.com/linnemanlabs/warden/internal/cfg"
	"github.com/linnemanlabs/warden/internal/kv"
	"github.com/linnemanlabs/warden/internal/kv/memkv"
	"github.com/linnemanlabs/warden/internal/kv/sqlitekv"
	"github.com/linnemanlabs/warden/internal/notify/slack"
	"github.com/linnemanlabs/warden/internal/policy"
	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/rules"
	"github.com/linnemanlabs/warden/internal/triage"
	"github.com/linnemanlabs/warden/internal/triage/kvstore"
	"github.com/linnemanlabs/warden/internal/triage/memstore"
	"github.com/linnemanlabs/warden/internal/triage/pgstore"
)

const appName = "warden"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		appCfg    wc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline wins over WARDEN_* env vars
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}
	cfg.FillFromEnv(flag.CommandLine, "WARDEN_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"agent_id", appCfg.AgentID,
		"kv_backend", kvBackendName(appCfg.KVPath),
		"fact_log", factLogName(appCfg.DatabaseURL, appCfg.KVPath),
		"slack_enabled", appCfg.SlackWebhookURL != "",
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// profiling first so the whole process lifetime is covered
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf == nil {
		stopProf = func() {}
	}
	defer stopProf()

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOtelx(context.Background()) }()

	// tag spans with pyroscope profile ids so traces link to flame graphs
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)
	triageMetrics := triage.NewMetrics(m.Registry())
	registerQueryMetrics(m.Registry())

	db, closeKB, err := openKnowledgeBase(ctx, appCfg.KVPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeKB(); err != nil {
			L.Error(context.Background(), err, "knowledge base close")
		}
	}()

	facts, closeFacts, err := openFactStore(ctx, appCfg.DatabaseURL, appCfg.KVPath, db)
	if err != nil {
		return err
	}
	defer closeFacts()

	policies := policy.NewStore(db, L, triageMetrics.Degraded())
	ruleStore := rules.NewStore(db, L, triageMetrics.Degraded())
	engine := triage.NewEngine(policies, ruleStore, db, facts, appCfg.AgentID, L, triageMetrics.Hooks())

	var notifier triage.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL, L)
	}
	svc := triage.NewService(engine, policies, ruleStore, facts, notifier, L)

	// readiness fails once shutdown starts so the load balancer drains us
	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	h := buildHandler(L, m.Middleware, httpmwCfg, agentapi.New(L, svc),
		health.HealthzHandler(liveness), health.ReadyzHandler(readiness))

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start agent api http listener")
		return err
	}
	defer func() {
		if err := apiHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop agent api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		// systemd kills us after its own timeout if this really mattered
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	drain(L, time.Duration(appCfg.DrainSeconds)*time.Second)

	shutdownAll(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, []stopFn{
		{"agent api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	})
	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// openKnowledgeBase returns the sqlite store at path, or an in-memory store
// when path is empty.
func openKnowledgeBase(ctx context.Context, path string) (kv.Store, func() error, error) {
	L := log.FromContext(ctx)
	if path == "" {
		L.Warn(ctx, "using in-memory knowledge base (no kv-path configured), state is lost on restart")
		return memkv.New(), func() error { return nil }, nil
	}
	s, err := sqlitekv.Open(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("open knowledge base: %w", err)
	}
	L.Info(ctx, "using sqlite knowledge base", "path", s.Path())
	return s, s.Close, nil
}

// openFactStore picks the fact log: postgres when databaseURL is set, else the
// facts partition of a durable knowledge base, else memory.
func openFactStore(ctx context.Context, databaseURL, kvPath string, db kv.Store) (triage.FactStore, func(), error) {
	L := log.FromContext(ctx)
	if databaseURL == "" {
		if kvPath != "" {
			L.Info(ctx, "using knowledge base fact log", "partition", kvstore.Partition)
			return kvstore.New(db, L), func() {}, nil
		}
		L.Info(ctx, "using in-memory fact log (no database-url or kv-path configured)")
		return memstore.New(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres fact log")
	return s, pool.Close, nil
}

func registerQueryMetrics(reg prometheus.Registerer) {
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_db_query_duration_seconds",
		Help:    "Duration of individual fact log queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	reg.MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, outcome).Observe(dur.Seconds())
		},
	))
}

// buildHandler assembles the public router and its middleware chain. The
// outermost wrapper sees the raw request first and the response last.
func buildHandler(L log.Logger, metricsMW func(http.Handler) http.Handler, mwCfg httpmw.Config, api *agentapi.API, healthy, ready http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", healthy)
	r.Get("/-/ready", ready)
	api.RegisterRoutes(r)

	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute renames the span to the chi route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = metricsMW(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: mwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}

// drain waits d for in-flight requests and the load balancer, or until a
// second signal arrives.
func drain(L log.Logger, d time.Duration) {
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", d.Seconds())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)
	select {
	case <-time.After(d):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

type stopFn struct {
	name string
	fn   func(context.Context) error
}

// shutdownAll stops each component with an equal slice of budget.
func shutdownAll(L log.Logger, budget time.Duration, fns []stopFn) {
	if len(fns) == 0 {
		return
	}
	perComponent := budget / time.Duration(len(fns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range fns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}
}

func kvBackendName(path string) string {
	if path == "" {
		return "memory"
	}
	return "sqlite"
}

func factLogName(databaseURL, kvPath string) string {
	switch {
	case databaseURL != "":
		return "postgres"
	case kvPath != "":
		return "kv"
	default:
		return "memory"
	}
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set when systemd started us with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
