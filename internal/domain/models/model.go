package models

import "time"

// ModelMetadata describes a persisted classifier.
type ModelMetadata struct {
	Name            string    `json:"name"`
	ModelType       string    `json:"model_type"`
	Version         int64     `json:"version"`
	FeatureColumns  []string  `json:"feature_columns"`
	LabelOutcomes   []int     `json:"label_outcomes"` // label i predicts outcome LabelOutcomes[i]
	TrainedAt       time.Time `json:"trained_at"`
	TrainAccuracy   float64   `json:"train_accuracy"`
	TrainingSamples int       `json:"training_samples"`
}

// StrategyPhase is the phase of a trigger-window strategy.
type StrategyPhase string

const (
	PhaseInactive StrategyPhase = "inactive"
	PhaseArmed    StrategyPhase = "armed"
	PhaseActive   StrategyPhase = "active"
)

// StrategyState is persisted under strategy:<name>:state.
type StrategyState struct {
	Phase     StrategyPhase `json:"phase"`
	Consec    int           `json:"consec,omitempty"`
	Remaining int           `json:"remaining,omitempty"`
	Trigger   int           `json:"trigger,omitempty"`
	Targets   []int         `json:"targets,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Active reports whether the strategy contributes its targets.
func (s StrategyState) Active() bool {
	return s.Phase == PhaseActive && s.Remaining > 0
}

// Stats is a snapshot of the evaluation counters.
type Stats struct {
	TotalSpins     int64            `json:"total_spins"`
	TotalEvaluated int64            `json:"total_evaluated"`
	Wins           int64            `json:"wins"`
	Losses         int64            `json:"losses"`
	GroupTotals    map[string]int64 `json:"group_totals"`
	GroupWins      map[string]int64 `json:"group_wins"`
	Pending        int              `json:"pending"`
}
