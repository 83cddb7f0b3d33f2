package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/beacon/internal/pipeline"
)

// Server is the local diagnostics surface of a running agent. It binds to
// loopback and exposes queue/breaker stats, dead-letter inspection, and a
// track endpoint for host processes that prefer HTTP over linking the
// pipeline directly.
type Server struct {
	p   *pipeline.Pipeline
	srv *http.Server
	lis net.Listener
}

func New(p *pipeline.Pipeline) *Server {
	mux := http.NewServeMux()
	s := &Server{p: p, srv: &http.Server{Handler: mux}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/track", s.handleTrack)
	mux.HandleFunc("/v1/deadletters", s.handleDeadLetters)
	mux.HandleFunc("/v1/deadletters/purge", s.handlePurge)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound address, useful when listening on :0.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.p.Stats())
}

type trackReq struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req trackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// fire-and-forget: drops and overflow are absorbed by the pipeline
	s.p.Track(req.Type, req.Payload)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries := s.p.DeadLetters().List(limit)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"depth":   s.p.DeadLetters().Depth(),
		"entries": entries,
	})
}

type purgeReq struct {
	MaxAgeHours int `json:"maxAgeHours"`
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req purgeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaxAgeHours < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cutoff := time.Now().Add(-time.Duration(req.MaxAgeHours) * time.Hour).UnixMilli()
	purged, err := s.p.DeadLetters().PurgeOlderThan(r.Context(), cutoff, 256)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"purged": purged})
}
