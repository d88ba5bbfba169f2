package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/osbits/statuswatch/internal/runner"
	"github.com/osbits/statuswatch/internal/store"
)

const (
	statusOK       = "ok"
	statusWarn     = "warn"
	statusCritical = "critical"

	defaultLimit = 10
	maxLimit     = 100
)

// StateSource exposes the scheduler snapshot.
type StateSource interface {
	State() runner.Snapshot
}

// Options wires the API. State and Store are required; History is optional.
type Options struct {
	State          StateSource
	Store          store.Store
	History        store.HistoryReader
	AllowedCIDRs   []string
	TrustedProxies []string
	// Grace is how late a scheduled check may be before health degrades.
	Grace  time.Duration
	Logger *slog.Logger
	Clock  func() time.Time
}

// Server serves /healthz and /status.
type Server struct {
	state     StateSource
	store     store.Store
	history   store.HistoryReader
	allowlist *Allowlist
	trusted   []*net.IPNet
	grace     time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func New(opts Options) (*Server, error) {
	if opts.State == nil {
		return nil, errors.New("statusapi: state source is required")
	}
	if opts.Store == nil {
		return nil, errors.New("statusapi: store is required")
	}
	allowlist, err := NewAllowlist(opts.AllowedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("build allowlist: %w", err)
	}
	trusted, err := ParseCIDRs(opts.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		state:     opts.State,
		store:     opts.Store,
		history:   opts.History,
		allowlist: allowlist,
		trusted:   trusted,
		grace:     opts.Grace,
		logger:    opts.Logger,
		now:       opts.Clock,
	}
	if s.grace <= 0 {
		s.grace = 15 * time.Minute
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "statusapi")
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Routes returns the handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.ipAllowMiddleware)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown status api: %w", err)
		}
		return nil
	}
}

func (s *Server) ipAllowMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, s.trusted)
		if !s.allowlist.Allowed(ip) {
			s.logger.Warn("rejected status api request", "client_ip", ip.String(), "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	State       string    `json:"state"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	snap := s.state.State()
	resp := healthResponse{Status: statusOK, State: string(snap.State), GeneratedAt: now}

	switch {
	case snap.State == runner.StateStopped:
		resp.Status = statusCritical
		resp.Detail = "watcher stopped"
	case !snap.NextRunAt.IsZero() && now.After(snap.NextRunAt.Add(s.grace)):
		resp.Status = statusWarn
		resp.Detail = "next check overdue"
	case snap.Cycles > 0 && snap.LastAttempts > 0 && !snap.LastSuccess:
		resp.Status = statusWarn
		resp.Detail = "last check failed"
	}

	code := http.StatusOK
	if resp.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statusResponse struct {
	GeneratedAt   time.Time            `json:"generated_at"`
	Runner        runner.Snapshot      `json:"runner"`
	Record        *recordDetail        `json:"record"`
	RecordError   string               `json:"record_error,omitempty"`
	Runs          []checkRunDetail     `json:"recent_runs,omitempty"`
	Notifications []notificationDetail `json:"recent_notifications,omitempty"`
	HistoryError  string               `json:"history_error,omitempty"`
}

type recordDetail struct {
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

type checkRunDetail struct {
	RunID      string    `json:"run_id"`
	Success    bool      `json:"success"`
	Attempts   int       `json:"attempts"`
	Status     string    `json:"status,omitempty"`
	Event      string    `json:"event,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	LatencyMs  float64   `json:"latency_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

type notificationDetail struct {
	NotifierID string    `json:"notifier_id"`
	RunID      string    `json:"run_id"`
	Previous   string    `json:"previous"`
	Current    string    `json:"current"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLimit)
	}

	resp := statusResponse{GeneratedAt: s.now().UTC(), Runner: s.state.State()}

	rec, ok, err := s.store.Load(ctx)
	switch {
	case err != nil:
		resp.RecordError = err.Error()
	case ok:
		resp.Record = &recordDetail{Status: rec.Status, ObservedAt: rec.ObservedAt}
	}

	if s.history != nil {
		runs, err := s.history.RecentCheckRuns(ctx, limit)
		if err != nil {
			resp.HistoryError = err.Error()
		}
		for _, run := range runs {
			resp.Runs = append(resp.Runs, checkRunDetail{
				RunID:      run.RunID,
				Success:    run.Success,
				Attempts:   run.Attempts,
				Status:     run.Status,
				Event:      run.Event,
				Reason:     run.Reason,
				LatencyMs:  float64(run.Latency.Milliseconds()),
				OccurredAt: run.OccurredAt,
			})
		}
		logs, err := s.history.RecentNotifications(ctx, limit)
		if err != nil {
			resp.HistoryError = err.Error()
		}
		for _, entry := range logs {
			resp.Notifications = append(resp.Notifications, notificationDetail(entry))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
