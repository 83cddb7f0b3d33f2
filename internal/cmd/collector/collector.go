package collectorrun

import (
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rzbill/beacon/internal/event"
	logpkg "github.com/rzbill/beacon/pkg/log"
)

// Options configures the development collector.
type Options struct {
	Addr string
	// FailRate is the probability in [0,1] that a batch is rejected with
	// FailStatus, for exercising retry and breaker behavior.
	FailRate   float64
	FailStatus int
	Seed       int64
}

// Collector is a development sink for telemetry batches. It deduplicates
// by event id so agent-side at-least-once replays do not inflate counts,
// and can inject failures to exercise the agent's retry path.
type Collector struct {
	logger     logpkg.Logger
	failRate   float64
	failStatus int

	mu     sync.Mutex
	rng    *rand.Rand
	seen   map[string]struct{}
	events []event.Event

	srv *http.Server
	lis net.Listener
}

func New(opts Options, logger logpkg.Logger) *Collector {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if opts.FailStatus == 0 {
		opts.FailStatus = http.StatusServiceUnavailable
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	c := &Collector{
		logger:     logger.WithComponent("collector"),
		failRate:   opts.FailRate,
		failStatus: opts.FailStatus,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		seen:       make(map[string]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handleIngest)
	mux.HandleFunc("/v1/events", c.handleEvents)
	c.srv = &http.Server{Handler: mux}
	return c
}

// Handler exposes the mux for tests.
func (c *Collector) Handler() http.Handler { return c.srv.Handler }

func (c *Collector) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var batch []event.Event
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	if c.failRate > 0 && c.rng.Float64() < c.failRate {
		c.mu.Unlock()
		c.logger.Info("injected failure", logpkg.Int("status", c.failStatus), logpkg.Int("batch", len(batch)))
		w.WriteHeader(c.failStatus)
		return
	}
	accepted, dupes := 0, 0
	for _, ev := range batch {
		id := ev.ID.String()
		if _, ok := c.seen[id]; ok {
			dupes++
			continue
		}
		c.seen[id] = struct{}{}
		c.events = append(c.events, ev)
		accepted++
	}
	c.mu.Unlock()
	c.logger.Info("batch received",
		logpkg.Int("accepted", accepted), logpkg.Int("duplicates", dupes))
	w.WriteHeader(http.StatusOK)
}

func (c *Collector) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c.mu.Lock()
	out := append([]event.Event(nil), c.events...)
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Events returns a copy of everything accepted so far.
func (c *Collector) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.events...)
}

func (c *Collector) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	c.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- c.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (c *Collector) Close() {
	if c.lis != nil {
		_ = c.lis.Close()
	}
}

// Run serves the collector until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: "info", Format: "text"})
	if err != nil {
		logger = logpkg.NewLogger()
	}
	logger.Info("starting development collector",
		logpkg.Str("addr", opts.Addr),
		logpkg.Any("fail_rate", opts.FailRate),
	)
	c := New(opts, logger)
	return c.ListenAndServe(sctx, opts.Addr)
}
