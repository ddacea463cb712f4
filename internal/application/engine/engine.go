package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/arena/internal/domain"
	"github.com/alejandrodnm/arena/internal/ports"
)

// Config holds the engine's policy parameters. The risk limits are policy,
// not constants: the cohort methodology owns the production values.
type Config struct {
	InitialBalance   float64       // seed capital per agent
	MinBetUSD        float64       // bets below this are rejected
	MaxBetFraction   float64       // bets above cash×fraction are capped, not rejected
	DecisionRetries  int           // re-requests to the model on transient failures
	DecisionTimeout  time.Duration // wall-clock budget for one decision cycle
	SnapshotInterval time.Duration // sweep cadence, also the snapshot bucket size
	MarketLimit      int           // eligible markets offered per decision
	Methodology      string        // stamped on new cohorts
}

// DefaultConfig returns the illustrative policy defaults.
func DefaultConfig() Config {
	return Config{
		InitialBalance:   10_000,
		MinBetUSD:        10,
		MaxBetFraction:   0.30,
		DecisionRetries:  2,
		DecisionTimeout:  5 * time.Minute,
		SnapshotInterval: 10 * time.Minute,
		MarketLimit:      20,
		Methodology:      "v1",
	}
}

// Engine runs the cohort & portfolio simulation: decision cycles, snapshot
// sweeps, settlement passes and cohort lifecycle transitions. All collaborators
// are injected at construction.
type Engine struct {
	cfg      Config
	store    ports.Storage
	markets  ports.MarketData
	decider  ports.Decider
	notifier ports.Notifier // optional
	nowFn    func() time.Time
}

// New wires an Engine. notifier may be nil.
func New(cfg Config, store ports.Storage, markets ports.MarketData, decider ports.Decider, notifier ports.Notifier) *Engine {
	if cfg.MinBetUSD <= 0 {
		cfg.MinBetUSD = 10
	}
	if cfg.MaxBetFraction <= 0 || cfg.MaxBetFraction > 1 {
		cfg.MaxBetFraction = 0.30
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 10 * time.Minute
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = 5 * time.Minute
	}
	if cfg.MarketLimit <= 0 {
		cfg.MarketLimit = 20
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		markets:  markets,
		decider:  decider,
		notifier: notifier,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) now() time.Time {
	return e.nowFn()
}

// RecentDecisions returns an agent's latest decision audit rows, newest first.
func (e *Engine) RecentDecisions(ctx context.Context, agentID int64, limit int) ([]domain.Decision, error) {
	return e.store.DecisionsByAgent(ctx, agentID, limit)
}

// syncMarkets refreshes the local mirror: currently active markets plus every
// market still referenced by an unsettled position (those may have left the
// feed's active listing when they closed or resolved).
func (e *Engine) syncMarkets(ctx context.Context) error {
	active, err := e.markets.FetchActiveMarkets(ctx, e.cfg.MarketLimit*5)
	if err != nil {
		return err
	}
	if err := e.store.UpsertMarkets(ctx, active); err != nil {
		return err
	}

	held, err := e.store.MarketIDsWithExposure(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(active))
	for _, m := range active {
		seen[m.ID] = true
	}
	var missing []string
	for _, id := range held {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	refreshed, err := e.markets.FetchMarketsByIDs(ctx, missing)
	if err != nil {
		return err
	}
	return e.store.UpsertMarkets(ctx, refreshed)
}

// syncMarketsBestEffort logs instead of failing: a feed outage degrades to
// trading on the last mirrored prices.
func (e *Engine) syncMarketsBestEffort(ctx context.Context) {
	if err := e.syncMarkets(ctx); err != nil {
		slog.Warn("market sync failed, using last mirrored prices", "err", err)
	}
}

func (e *Engine) notifyRun(ctx context.Context, s ports.RunSummary) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyRun(ctx, s); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}
