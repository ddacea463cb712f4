package httpapi

// Manual-trigger API for operators: kick a decision cycle, sweep, settlement
// or cohort start without waiting for the schedule, and read the standings.

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrodnm/arena/internal/application/engine"
)

// Server exposes the engine over HTTP.
type Server struct {
	engine *engine.Engine
	http   *http.Server
}

// NewServer builds the router and binds it to addr.
func NewServer(addr string, eng *engine.Engine) *Server {
	s := &Server{engine: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/leaderboard", s.handleLeaderboard)
	r.Get("/api/agents/{agentID}/decisions", s.handleDecisions)
	r.Post("/api/cycle", s.handleCycle)
	r.Post("/api/snapshot", s.handleSnapshot)
	r.Post("/api/settle", s.handleSettle)
	r.Post("/api/cohorts", s.handleStartCohort)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	slog.Info("http api listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.engine.Leaderboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		writeJSON(w, http.StatusOK, map[string]any{"rows": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// decisionView is the wire shape of one audit row. The verbatim model
// request/response stay out of the listing; they can be megabytes per row.
type decisionView struct {
	ID           string   `json:"id"`
	Action       string   `json:"action"`
	MarketID     string   `json:"market_id,omitempty"`
	Side         string   `json:"side,omitempty"`
	Amount       float64  `json:"amount,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
	RetryCount   int      `json:"retry_count"`
	LatencyMS    int64    `json:"latency_ms"`
	ErrorDetail  string   `json:"error_detail,omitempty"`
	RejectReason string   `json:"reject_reason,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	agentID, err := strconv.ParseInt(chi.URLParam(r, "agentID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid agent id"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	decisions, err := s.engine.RecentDecisions(r.Context(), agentID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]decisionView, 0, len(decisions))
	for _, d := range decisions {
		views = append(views, decisionView{
			ID:           d.ID,
			Action:       string(d.Action),
			MarketID:     d.MarketID,
			Side:         d.Side,
			Amount:       d.Amount,
			Confidence:   d.Confidence,
			Reasoning:    d.Reasoning,
			RetryCount:   d.RetryCount,
			LatencyMS:    d.LatencyMS,
			ErrorDetail:  d.ErrorDetail,
			RejectReason: d.RejectReason,
			CreatedAt:    d.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": views})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.RunDecisionCycle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":    stats.Agents,
		"bets":      stats.Bets,
		"sells":     stats.Sells,
		"holds":     stats.Holds,
		"rejected":  stats.Rejected,
		"errors":    stats.Errors,
		"timed_out": stats.TimedOut,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.RunSnapshotSweep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":    stats.Agents,
		"snapshots": stats.Snapshots,
		"skipped":   stats.Skipped,
		"fallbacks": stats.Fallbacks,
		"errors":    stats.Errors,
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.RunSettlement(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets":           stats.Markets,
		"settled":           stats.Settled,
		"brier_rows":        stats.BrierRows,
		"bankruptcies":      stats.Bankruptcies,
		"cohorts_completed": stats.CohortsCompleted,
		"errors":            stats.Errors,
	})
}

func (s *Server) handleStartCohort(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	cohort, agents, skip, err := s.engine.StartCohort(r.Context(), force)
	if err != nil {
		writeError(w, err)
		return
	}
	if skip != "" {
		writeJSON(w, http.StatusOK, map[string]any{"started": false, "reason": skip})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"started": true,
		"cohort":  cohort.Number,
		"agents":  len(agents),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
