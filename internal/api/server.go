package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"surveysched/internal/activation"
	"surveysched/internal/notifier"
	rtsup "surveysched/internal/runtime/supervisor"
	"surveysched/internal/task/scheduler"
	"surveysched/pkg/logx"
)

// Config controls the HTTP listener and the on-demand reconcile limit.
type Config struct {
	Addr string
	// ReconcileRatePerSec and ReconcileBurst shape the token bucket in front
	// of POST /schedule/reconcile. Zero rate means 1; zero burst means 3.
	ReconcileRatePerSec int
	ReconcileBurst      int
	Pprof               bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// TriggerInfo is the part of the periodic trigger the status endpoint shows.
type TriggerInfo interface {
	Snapshot() scheduler.Snapshot
}

// NotifierInfo reports notification counters.
type NotifierInfo interface {
	Enabled() bool
	Stats() notifier.Stats
}

// Deps are the components the handlers call. Trigger and Notifier are
// optional.
// EventsInfo reports events lost to full subscriber buffers.
type EventsInfo interface {
	Dropped() uint64
}

type Deps struct {
	Activation *activation.Service
	Trigger    TriggerInfo
	Notifier   NotifierInfo
	Events     EventsInfo
}

type Server struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	started time.Time

	handler http.Handler
	ln      net.Listener
	srv     *http.Server
	sup     *rtsup.Supervisor
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		log:     log.With(logx.String("comp", "api")),
		deps:    deps,
		started: time.Now(),
	}
	s.cfg = normalize(cfg)
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.ReconcileRatePerSec), s.cfg.ReconcileBurst)
	s.handler = instrument(s.log, s.routes(s.cfg.Pprof))
	return s
}

func normalize(cfg Config) Config {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.ReconcileRatePerSec <= 0 {
		cfg.ReconcileRatePerSec = 1
	}
	if cfg.ReconcileBurst <= 0 {
		cfg.ReconcileBurst = 3
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return cfg
}

// Apply updates the reconcile rate limit in place. Listener settings only
// take effect on the next Start.
func (s *Server) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter.SetLimit(rate.Limit(cfg.ReconcileRatePerSec))
	s.limiter.SetBurst(cfg.ReconcileBurst)
	if cfg.Addr != s.cfg.Addr || cfg.Pprof != s.cfg.Pprof {
		s.log.Warn("http listener change needs a restart", logx.String("addr", cfg.Addr), logx.Bool("pprof", cfg.Pprof))
	}
	s.cfg.ReconcileRatePerSec = cfg.ReconcileRatePerSec
	s.cfg.ReconcileBurst = cfg.ReconcileBurst
}

// Handler returns the routed and instrumented handler, for tests and for
// embedding.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes(pprof bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /schedule/{entityId}", s.handleSetSchedule)
	mux.HandleFunc("GET /schedule/{entityId}", s.handleGetSchedule)
	mux.HandleFunc("POST /schedule/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /schedule/reconcile/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	if pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

// Start binds the listener and serves in the background until Stop or ctx
// ends. Bind errors are returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	cfg := s.cfg

	if !isLoopbackAddr(cfg.Addr) {
		s.log.Warn("api bound to a non-loopback address without authentication", logx.String("addr", cfg.Addr))
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.ln, s.srv = ln, srv
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.Go("http.serve", func(ctx context.Context) error {
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	s.sup.Go0("http.shutdown_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})
	s.log.Info("api started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cfg.Pprof))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	if werr := sup.Stop(ctx); err == nil {
		err = werr
	}
	s.log.Info("api stopped")
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
