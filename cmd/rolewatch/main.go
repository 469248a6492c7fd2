package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/rolewatch/config"
	"github.com/alejandrodnm/rolewatch/internal/adapters/evm"
	"github.com/alejandrodnm/rolewatch/internal/adapters/notify"
	"github.com/alejandrodnm/rolewatch/internal/adapters/storage"
	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/monitor"
	"github.com/alejandrodnm/rolewatch/internal/reconcile"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	roleID := flag.String("role", "", "role ID to monitor (0x-prefixed, 32 bytes)")
	identity := flag.String("identity", "", "connected account address (defaults to the signing key's address)")
	once := flag.Bool("once", false, "evaluate readiness once, print the schedule, and exit")
	auto := flag.Bool("auto", false, "arm auto-execution (with -once: execute ready payments before exiting)")
	feed := flag.Bool("feed", false, "reconcile and print the transaction feed, then exit")
	report := flag.Bool("report", false, "print the local execution-attempt journal, then exit")
	completed := flag.String("completed", "", "print mirrored completed payments for this recipient, then exit")
	table := flag.Bool("table", false, "print feed updates as full tables (default: compact 1-line)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *roleID == "" && *report {
		slog.Error("-report requires -role")
		os.Exit(1)
	}
	if *roleID == "" && *completed == "" {
		slog.Error("a role ID is required: pass -role")
		os.Exit(1)
	}

	client, err := evm.NewClient(evm.Config{
		RPCURL:         cfg.Chain.RPCURL,
		Contract:       cfg.Chain.Contract,
		ChainID:        cfg.Chain.ChainID,
		PrivateKeyHex:  cfg.Chain.PrivateKeyHex,
		LookbackBlocks: cfg.Chain.LookbackBlocks,
	})
	if err != nil {
		slog.Error("failed to connect to chain", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	journal, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open journal", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer journal.Close()

	console := notify.NewConsoleWriter(os.Stdout, *table)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *completed != "":
		runCompleted(ctx, journal, console, *completed)
		return
	case *report:
		runReport(ctx, journal, console, *roleID)
		return
	case *feed:
		runFeed(ctx, client, console, *roleID)
		return
	}

	cache := monitor.NewSnapshotCache(client, cfg.CacheTTL())
	coord := monitor.NewCoordinator(cache, client, journal)

	if *once {
		runOnce(ctx, cache, coord, console, *roleID, *auto)
		return
	}

	who := *identity
	if who == "" {
		who = client.Sender()
	}

	slog.Info("rolewatch starting",
		"config", *configPath,
		"role", *roleID,
		"identity", who,
		"poll", cfg.PollInterval(),
		"feed", cfg.FeedInterval(),
		"auto_execute", *auto || cfg.Monitor.AutoExecute,
	)

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen)
	}

	rec := reconcile.New(client)
	mon := monitor.New(*roleID, who, cache, coord, rec, console, monitor.Config{
		PollInterval:  cfg.PollInterval(),
		FeedInterval:  cfg.FeedInterval(),
		DegradedAfter: cfg.Monitor.DegradedAfter,
	})

	if err := mon.Start(ctx); err != nil {
		slog.Error("monitor refused to start", "err", err)
		os.Exit(1)
	}
	if *auto || cfg.Monitor.AutoExecute {
		mon.ToggleAutoExecute()
	}
	console.PrintStatus(*roleID, mon.Status())

	<-ctx.Done()
	mon.Stop()
	slog.Info("rolewatch stopped cleanly")
}

// runOnce fetches the role once, prints its schedule with readiness markers,
// and — when asked — executes the ready payments before exiting.
func runOnce(ctx context.Context, cache *monitor.SnapshotCache, coord *monitor.Coordinator, console *notify.Console, roleID string, execute bool) {
	snap, err := cache.Get(ctx, roleID)
	if err != nil {
		slog.Error("failed to fetch role", "role", roleID, "err", err)
		os.Exit(1)
	}

	now := time.Now()
	ready := domain.ReadyPayments(snap, now)
	console.PrintSchedule(snap, ready, now)

	if !execute {
		return
	}
	if len(ready) == 0 {
		slog.Info("nothing ready to execute", "role", roleID)
		return
	}

	out, err := coord.ExecuteReady(ctx, roleID)
	switch out.Class {
	case monitor.OutcomeExecuted:
		_ = console.ExecutionSucceeded(ctx, roleID, out.TxRef, out.Executed)
	case monitor.OutcomeAlreadyExecuted:
		slog.Info("payments already executed by another party", "role", roleID)
	case monitor.OutcomeRejected:
		_ = console.ExecutionFailed(ctx, roleID, out.Reason)
		os.Exit(1)
	default:
		slog.Error("execution failed", "outcome", string(out.Class), "err", err)
		os.Exit(1)
	}
}

func runFeed(ctx context.Context, client *evm.Client, console *notify.Console, roleID string) {
	events, partial, err := reconcile.New(client).Reconcile(ctx, roleID)
	if err != nil {
		slog.Error("feed reconciliation failed", "role", roleID, "err", err)
		os.Exit(1)
	}
	console.PrintFeed(roleID, events, partial)
}

func runReport(ctx context.Context, journal *storage.SQLiteJournal, console *notify.Console, roleID string) {
	attempts, err := journal.Attempts(ctx, roleID, 50)
	if err != nil {
		slog.Error("failed to read attempt journal", "err", err)
		os.Exit(1)
	}
	console.PrintAttempts(roleID, attempts)
}

func runCompleted(ctx context.Context, journal *storage.SQLiteJournal, console *notify.Console, recipient string) {
	payments, err := journal.CompletedByRecipient(ctx, recipient)
	if err != nil {
		slog.Error("failed to read completed mirror", "err", err)
		os.Exit(1)
	}

	if len(payments) == 0 {
		slog.Info("no mirrored payments for recipient", "recipient", recipient)
		return
	}
	for _, p := range payments {
		slog.Info("completed payment",
			"role", p.RoleName,
			"amount", p.Amount,
			"executed_at", p.ExecutedAt.Format(time.RFC3339),
			"tx", p.TxRef,
		)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
