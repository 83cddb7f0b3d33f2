package agentrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rzbill/beacon/internal/breaker"
	cfgpkg "github.com/rzbill/beacon/internal/config"
	"github.com/rzbill/beacon/internal/deadletter"
	"github.com/rzbill/beacon/internal/filter"
	"github.com/rzbill/beacon/internal/pipeline"
	"github.com/rzbill/beacon/internal/queue"
	"github.com/rzbill/beacon/internal/retry"
	httpserver "github.com/rzbill/beacon/internal/server/http"
	pebblestore "github.com/rzbill/beacon/internal/storage/pebble"
	"github.com/rzbill/beacon/internal/transport"
	logpkg "github.com/rzbill/beacon/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type Options struct {
	HTTPAddr string
	Config   cfgpkg.Config
}

// Run opens the durable store, assembles the pipeline, serves the
// diagnostics API, and blocks until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}

	logCfg := &logpkg.Config{
		Level:  getenvDefault("BEACON_LOG_LEVEL", "info"),
		Format: getenvDefault("BEACON_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		procLogger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Pebble and net/http log through the stdlib logger
	logpkg.RedirectStdLog(procLogger)

	storeDir := filepath.Join(cfg.DataDir, "store")
	db, recovered, err := pebblestore.OpenRecover(pebblestore.Options{
		DataDir: storeDir,
		Fsync:   pebblestore.FsyncModeAlways,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if recovered {
		procLogger.Warn("store was corrupt, moved aside and reinitialized",
			logpkg.Str("dir", storeDir))
	}

	store, err := queue.Open(db, cfg.MaxQueueSize)
	if err != nil {
		return err
	}
	dlq, err := deadletter.Open(db, cfg.MaxDeadLetterSize)
	if err != nil {
		return err
	}
	openDur := time.Duration(cfg.BreakerOpenDurationMs) * time.Millisecond
	brk, err := breaker.New(db, breaker.Options{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenDuration:     openDur,
		MaxOpenDuration:  8 * openDur,
	})
	if err != nil {
		return err
	}
	flt, err := filter.New(cfg.FilterExpr)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Options{
		Store:       store,
		DeadLetters: dlq,
		Breaker:     brk,
		Transport:   transport.NewHTTP(cfg.Endpoint, time.Duration(cfg.SendTimeoutMs)*time.Millisecond),
		Retry: retry.Policy{
			BaseDelay: time.Duration(cfg.BaseRetryDelayMs) * time.Millisecond,
			MaxDelay:  time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond,
		},
		Filter:        flt,
		Logger:        procLogger,
		DB:            db,
		BatchMaxCount: cfg.BatchMaxCount,
		BatchMaxBytes: cfg.BatchMaxBytes,
		MaxRetries:    cfg.MaxRetries,
		FlushInterval: time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
		HighWaterMark: cfg.EffectiveHighWaterMark(),
	})
	if err != nil {
		return err
	}

	procLogger.Info("starting beacon agent",
		logpkg.Str("endpoint", cfg.Endpoint),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Int("queue_depth", store.Size()),
		logpkg.Int("dead_letters", dlq.Depth()),
		logpkg.Str("circuit", brk.State().String()),
	)

	p.Start()
	defer p.Stop()
	dlq.StartPurger(time.Hour, time.Duration(cfg.DeadLetterMaxAgeHours)*time.Hour)
	defer dlq.StopPurger()

	// drain internal errors into the log so hosts see drops and IO faults
	go func() {
		for err := range p.Errors() {
			procLogger.Warn("pipeline error", logpkg.Err(err))
		}
	}()

	hsrv := httpserver.New(p)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server error", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	hsrv.Close()
	wg.Wait()
	return nil
}
