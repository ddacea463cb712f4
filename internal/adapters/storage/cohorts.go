package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/arena/internal/domain"
)

// UpsertModels inserts new models and refreshes name/provider/active on
// existing ones. Models are never deleted.
func (s *SQLiteStorage) UpsertModels(ctx context.Context, models []domain.Model) error {
	if len(models) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO models (id, name, provider, active, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name     = excluded.name,
				provider = excluded.provider,
				active   = excluded.active
		`)
		if err != nil {
			return fmt.Errorf("storage.UpsertModels: prepare: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, m := range models {
			created := m.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := stmt.ExecContext(ctx, m.ID, m.Name, m.Provider, boolToInt(m.Active), created); err != nil {
				return fmt.Errorf("storage.UpsertModels: %q: %w", m.ID, err)
			}
		}
		return nil
	})
}

// ActiveModels returns all models currently eligible for new cohorts.
func (s *SQLiteStorage) ActiveModels(ctx context.Context) ([]domain.Model, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, provider, active, created_at
		FROM models WHERE active = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.ActiveModels: %w", err)
	}
	defer rows.Close()

	var models []domain.Model
	for rows.Next() {
		var m domain.Model
		var active int
		if err := rows.Scan(&m.ID, &m.Name, &m.Provider, &active, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.ActiveModels: scan: %w", err)
		}
		m.Active = active != 0
		models = append(models, m)
	}
	return models, rows.Err()
}

// CreateCohort assigns the next sequential number and creates the cohort plus
// one agent per model, all in one transaction.
func (s *SQLiteStorage) CreateCohort(ctx context.Context, cohort domain.Cohort, models []domain.Model) (domain.Cohort, []domain.Agent, error) {
	var agents []domain.Agent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(number), 0) + 1 FROM cohorts`,
		).Scan(&cohort.Number); err != nil {
			return fmt.Errorf("next cohort number: %w", err)
		}

		cohort.Status = domain.CohortActive
		res, err := tx.ExecContext(ctx, `
			INSERT INTO cohorts (number, started_at, status, methodology, initial_balance)
			VALUES (?, ?, ?, ?, ?)
		`, cohort.Number, cohort.StartedAt, cohort.Status, cohort.Methodology, cohort.InitialBalance)
		if err != nil {
			return fmt.Errorf("insert cohort: %w", err)
		}
		cohort.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("cohort id: %w", err)
		}

		for _, m := range models {
			a := domain.Agent{
				CohortID:  cohort.ID,
				ModelID:   m.ID,
				Cash:      cohort.InitialBalance,
				Status:    domain.AgentActive,
				CreatedAt: cohort.StartedAt,
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO agents (cohort_id, model_id, cash, status, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, a.CohortID, a.ModelID, a.Cash, a.Status, a.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert agent %q: %w", m.ID, err)
			}
			if a.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("agent id: %w", err)
			}
			agents = append(agents, a)
		}
		return nil
	})
	if err != nil {
		return domain.Cohort{}, nil, fmt.Errorf("storage.CreateCohort: %w", err)
	}
	return cohort, agents, nil
}

// ActiveCohorts returns all cohorts still in the active state.
func (s *SQLiteStorage) ActiveCohorts(ctx context.Context) ([]domain.Cohort, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, started_at, status, completed_at, methodology, initial_balance
		FROM cohorts WHERE status = ? ORDER BY number
	`, domain.CohortActive)
	if err != nil {
		return nil, fmt.Errorf("storage.ActiveCohorts: %w", err)
	}
	defer rows.Close()

	var cohorts []domain.Cohort
	for rows.Next() {
		c, err := scanCohort(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ActiveCohorts: %w", err)
		}
		cohorts = append(cohorts, c)
	}
	return cohorts, rows.Err()
}

// LatestCohort returns the highest-numbered cohort, or nil when none exist.
func (s *SQLiteStorage) LatestCohort(ctx context.Context) (*domain.Cohort, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, started_at, status, completed_at, methodology, initial_balance
		FROM cohorts ORDER BY number DESC LIMIT 1
	`)
	c, err := scanCohort(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.LatestCohort: %w", err)
	}
	return &c, nil
}

// CompleteCohort transitions active → completed, stamping completed_at once.
// The status guard makes repeat invocations a no-op (returns false).
func (s *SQLiteStorage) CompleteCohort(ctx context.Context, cohortID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cohorts SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, domain.CohortCompleted, at, cohortID, domain.CohortActive)
	if err != nil {
		return false, fmt.Errorf("storage.CompleteCohort: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.CompleteCohort: rows: %w", err)
	}
	return n > 0, nil
}

// AgentsByCohort returns the cohort's agents ordered by model.
func (s *SQLiteStorage) AgentsByCohort(ctx context.Context, cohortID int64) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cohort_id, model_id, cash, status, created_at
		FROM agents WHERE cohort_id = ? ORDER BY model_id
	`, cohortID)
	if err != nil {
		return nil, fmt.Errorf("storage.AgentsByCohort: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.CohortID, &a.ModelID, &a.Cash, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.AgentsByCohort: scan: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Agent returns one agent by id, or nil when it does not exist.
func (s *SQLiteStorage) Agent(ctx context.Context, agentID int64) (*domain.Agent, error) {
	var a domain.Agent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cohort_id, model_id, cash, status, created_at
		FROM agents WHERE id = ?
	`, agentID).Scan(&a.ID, &a.CohortID, &a.ModelID, &a.Cash, &a.Status, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.Agent: %w", err)
	}
	return &a, nil
}

// UpdateAgentStatus flips an agent's status (active → bankrupt).
func (s *SQLiteStorage) UpdateAgentStatus(ctx context.Context, agentID int64, status domain.AgentStatus) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ? WHERE id = ?`, status, agentID,
	); err != nil {
		return fmt.Errorf("storage.UpdateAgentStatus: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCohort(r rowScanner) (domain.Cohort, error) {
	var c domain.Cohort
	var completed sql.NullTime
	if err := r.Scan(&c.ID, &c.Number, &c.StartedAt, &c.Status, &completed, &c.Methodology, &c.InitialBalance); err != nil {
		return domain.Cohort{}, err
	}
	if completed.Valid {
		t := completed.Time
		c.CompletedAt = &t
	}
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
