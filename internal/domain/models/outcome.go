package models

import "time"

// Attributes are the fixed properties derived from an outcome number.
type Attributes struct {
	Number      int    `json:"number"`
	Color       string `json:"color"`
	Dozen       int    `json:"dozen"`
	Column      int    `json:"column"`
	Parity      string `json:"parity"`
	Range       string `json:"range"`
	Sector      int    `json:"sector"`
	MacroSector string `json:"macro_sector"`
}

// OutcomeEvent is one accepted outcome.
type OutcomeEvent struct {
	Number    int       `json:"number"`
	Timestamp time.Time `json:"timestamp"`
	SpinID    int64     `json:"spin_id"`
}

// DetailedEntry is the roulette:history_detailed element.
type DetailedEntry struct {
	Attributes
	SpinID    int64  `json:"spin_id"`
	Gap       *int   `json:"gap"`
	Timestamp string `json:"timestamp"`
}

// NewDataFlag signals that a prediction should be produced for SpinID.
type NewDataFlag struct {
	Number          int    `json:"number"`
	SpinID          int64  `json:"spin_id"`
	Timestamp       string `json:"timestamp"`
	NeedsPrediction bool   `json:"needs_prediction"`
}

// OutcomeCommit is the full write set of one accepted outcome.
type OutcomeCommit struct {
	Number     int
	At         time.Time
	Attributes Attributes
	// Counters are incremented by one inside the ingest transaction.
	Counters []string
}

// CommitResult is what the store decided while applying an OutcomeCommit.
type CommitResult struct {
	Event     OutcomeEvent
	Gap       int
	HasGap    bool
	Duplicate bool
	// Replayed is set with Duplicate when the stored head matches the
	// same outcome and timestamp.
	Replayed bool
}

// IngestStatus is the producer-visible verdict.
type IngestStatus string

const (
	IngestAccepted IngestStatus = "accepted"
	IngestRejected IngestStatus = "rejected"
	// IngestBuffered means the store was down and the outcome is queued
	// for replay in arrival order. The producer must not resend it.
	IngestBuffered IngestStatus = "buffered"
)

// RejectReason explains an IngestRejected verdict.
type RejectReason string

const (
	RejectInvalid   RejectReason = "Invalid"
	RejectDuplicate RejectReason = "Duplicate"
)

// IngestResult is returned to producers.
type IngestResult struct {
	Status IngestStatus  `json:"status"`
	Reason RejectReason  `json:"reason,omitempty"`
	Event  *OutcomeEvent `json:"event,omitempty"`
}

func Accepted(ev OutcomeEvent) IngestResult {
	return IngestResult{Status: IngestAccepted, Event: &ev}
}

func Rejected(reason RejectReason) IngestResult {
	return IngestResult{Status: IngestRejected, Reason: reason}
}

func Buffered() IngestResult {
	return IngestResult{Status: IngestBuffered}
}

// IsAccepted reports whether the outcome entered the store.
func (r IngestResult) IsAccepted() bool { return r.Status == IngestAccepted }

// FeatureEntry is one training sample in roulette:ml_features.
type FeatureEntry struct {
	Features  map[string]float64 `json:"features"`
	Target    int                `json:"target"`
	Timestamp int64              `json:"timestamp"`
}
