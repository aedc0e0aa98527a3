package scraper

import (
	"time"

	"imgscraper/pkg/searchkey"
)

// StopReason explains why a key job ended
type StopReason string

const (
	ReasonQuotaReached          StopReason = "quota-reached"
	ReasonMissedThreshold       StopReason = "missed-threshold"
	ReasonNoMoreContent         StopReason = "no-more-content"
	ReasonScrollBudgetExhausted StopReason = "scroll-budget-exhausted"
	ReasonFailed                StopReason = "failed"
	ReasonCancelled             StopReason = "cancelled"
)

// JobState is the mutable per-key progress of one run
type JobState struct {
	SavedCount           int
	ConsecutiveMissCount int
	MissedCount          int
	FileCounter          int
	ScrollIndex          int
}

// Outcome is the final report of one key job
type Outcome struct {
	Key          searchkey.Key
	SavedCount   int
	MissedCount  int
	ScrollCycles int
	Reason       StopReason
	Err          error
	Files        []string
	Duration     time.Duration
}

// Failed reports whether the job ended on a per-key fatal error
func (o Outcome) Failed() bool {
	return o.Reason == ReasonFailed
}

// FailedOutcome builds the outcome of a job that could not run at all
func FailedOutcome(key searchkey.Key, err error) Outcome {
	return Outcome{Key: key, Reason: ReasonFailed, Err: err}
}
