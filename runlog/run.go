// Package runlog keeps a history of conversion and preprocess runs in a
// bbolt database, one compressed JSON record per run.
package runlog

import (
	"time"
)

// Kind names the operation a run performed.
type Kind string

const (
	KindConvert    Kind = "convert"
	KindPreprocess Kind = "preprocess"
)

// Outcome summarises how a run ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Item is the result for one input of a run.
type Item struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Run is one recorded invocation.
type Run struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	Input     string        `json:"input"`
	Output    string        `json:"output,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Outcome   Outcome       `json:"outcome"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Error     string        `json:"error,omitempty"`
	Items     []Item        `json:"items,omitempty"`
}

// OutcomeOf classifies a run from its counts and terminal error.
func OutcomeOf(total, succeeded int, err error, cancelled bool) Outcome {
	switch {
	case cancelled:
		return OutcomeCancelled
	case err != nil || (total > 0 && succeeded == 0):
		return OutcomeFailed
	case succeeded < total:
		return OutcomePartial
	default:
		return OutcomeSuccess
	}
}
