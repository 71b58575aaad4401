package domain

import (
	"fmt"
	"strings"
	"time"
)

// RevenueEvent is consumed exactly once per EventID.
type RevenueEvent struct {
	EventID    string    `json:"event_id"`
	ProjectID  string    `json:"project_id"`
	Amount     Money     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e RevenueEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" || strings.TrimSpace(e.ProjectID) == "" {
		return fmt.Errorf("%w: revenue event id and project id are required", ErrInvalidInput)
	}
	if e.Amount < 0 {
		return fmt.Errorf("%w: revenue %s is negative", ErrInvalidAmount, e.Amount)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: revenue event timestamp is required", ErrInvalidInput)
	}
	return nil
}

// CheckWindow rejects events stamped more than skew after now or more than
// maxAge before it. Zero durations disable the matching bound.
func (e RevenueEvent) CheckWindow(now time.Time, maxAge, skew time.Duration) error {
	if skew > 0 && e.OccurredAt.After(now.Add(skew)) {
		return fmt.Errorf("%w: revenue event %s occurred_at %s is in the future", ErrInvalidInput, e.EventID, e.OccurredAt.UTC().Format(time.RFC3339))
	}
	if maxAge > 0 && e.OccurredAt.Before(now.Add(-maxAge)) {
		return fmt.Errorf("%w: revenue event %s occurred_at %s is older than %s", ErrInvalidInput, e.EventID, e.OccurredAt.UTC().Format(time.RFC3339), maxAge)
	}
	return nil
}

// RevenueAllocation is the stored outcome of distributing one event.
type RevenueAllocation struct {
	EventID     string     `json:"event_id"`
	ProjectID   string     `json:"project_id"`
	Amount      Money      `json:"amount"`
	Allocation  Allocation `json:"allocation"`
	OccurredAt  time.Time  `json:"occurred_at"`
	ProcessedAt time.Time  `json:"processed_at"`
}
