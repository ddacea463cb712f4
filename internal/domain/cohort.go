package domain

import "time"

// CohortStatus is monotonic: active → completed, never back.
type CohortStatus string

const (
	CohortActive    CohortStatus = "active"
	CohortCompleted CohortStatus = "completed"
)

// Cohort is one independently-scored competition instance: one agent per
// active model, all seeded with the same initial balance.
type Cohort struct {
	ID             int64
	Number         int // sequential, unique
	StartedAt      time.Time
	Status         CohortStatus
	CompletedAt    *time.Time // set exactly once, when status becomes completed
	Methodology    string
	InitialBalance float64
}

// Model is a competing configuration. Append-only: models are deactivated,
// never deleted.
type Model struct {
	ID        string // e.g. "gpt-5", doubles as the provider model name
	Name      string // display name
	Provider  string
	Active    bool
	CreatedAt time.Time
}

// AgentStatus marks agents that can no longer act.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentBankrupt AgentStatus = "bankrupt"
)

// Agent is a model's trading identity within one cohort. Unique per
// (cohort, model). Cash is mutated only by trade execution and settlement.
type Agent struct {
	ID        int64
	CohortID  int64
	ModelID   string
	Cash      float64
	Status    AgentStatus
	CreatedAt time.Time
}
