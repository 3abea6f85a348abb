package models

import "time"

// RequestKind selects the producer used by the ensemble.
type RequestKind string

const (
	KindModel       RequestKind = "model"
	KindEnsemble    RequestKind = "ensemble"
	KindStatistical RequestKind = "statistical"
	KindBasic       RequestKind = "basic"
)

// Valid reports whether k is a known request kind.
func (k RequestKind) Valid() bool {
	switch k {
	case KindModel, KindEnsemble, KindStatistical, KindBasic:
		return true
	}
	return false
}

// Model labels recorded in Prediction.ModelUsed.
const (
	LabelModel       = "model"
	LabelEnsemble    = "ensemble"
	LabelStatistical = "statistical"
	LabelBasic       = "basic"
)

// Prediction status values.
const (
	StatusPending = "pending"
	StatusScored  = "scored"
)

// Prediction is one produced forecast.
type Prediction struct {
	ID               string           `json:"prediction_id"`
	Timestamp        time.Time        `json:"timestamp"`
	LastNumber       *int             `json:"last_number"`
	Probabilities    []float64        `json:"probabilities"`
	PredictedNumbers []int            `json:"predicted_numbers"`
	Groups           map[string][]int `json:"prediction_groups"`
	Type             RequestKind      `json:"prediction_type"`
	Confidence       float64          `json:"confidence"`
	Reasoning        string           `json:"reasoning"`
	ModelUsed        string           `json:"model_used"`
	Status           string           `json:"status"`
}

// Clone returns a shallow copy; slices and maps are shared.
func (p *Prediction) Clone() *Prediction {
	cp := *p
	return &cp
}

// GroupScore is the result of one group against the realized outcome.
type GroupScore struct {
	Group string `json:"group"`
	Size  int    `json:"size"`
	Win   bool   `json:"win"`
}

// ScoredResult is stored under result:<id>.
type ScoredResult struct {
	PredictionID string       `json:"prediction_id"`
	Actual       int          `json:"actual"`
	Groups       []GroupScore `json:"groups"`
	WinningCount int          `json:"winning_groups"`
	TotalCount   int          `json:"total_groups"`
	IsWin        bool         `json:"is_win"`
	ModelUsed    string       `json:"model_used"`
	Confidence   float64      `json:"confidence"`
	ScoredAt     time.Time    `json:"scored_at"`
}

// ScoreCommit is the write set of scoring one prediction.
type ScoreCommit struct {
	Result ScoredResult
	// Counters are incremented by one inside the scoring transaction.
	Counters []string
}
