package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"
)

// FailurePolicy decides what happens after a failed step call.
type FailurePolicy string

const (
	// FailurePolicyFailFast stops the sequence at the first failed call.
	// Remaining steps are reported as can_not_proceed.
	FailurePolicyFailFast FailurePolicy = "fail_fast"

	// FailurePolicyContinue runs every step in both environments and only
	// compares pairs where both calls succeeded.
	FailurePolicyContinue FailurePolicy = "continue"
)

// Validate checks if the failure policy is valid.
func (p FailurePolicy) Validate() error {
	switch p {
	case FailurePolicyFailFast, FailurePolicyContinue:
		return nil
	default:
		return fmt.Errorf("invalid failure policy: %s", p)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (p *FailurePolicy) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*p = FailurePolicyFailFast
		return nil
	}
	*p = FailurePolicy(str)
	return p.Validate()
}

// Default inter-step delay bounds.
const (
	DefaultDelayMin = 1 * time.Second
	DefaultDelayMax = 3 * time.Second
)

// Delay is a uniform random delay range.
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// Next returns a duration drawn uniformly from [Min, Max].
func (d Delay) Next() time.Duration {
	if d.Max <= d.Min {
		if d.Min < 0 {
			return 0
		}
		return d.Min
	}
	return d.Min + rand.N(d.Max-d.Min+1)
}

// TimerSleeper sleeps on a timer and wakes early when the context is done.
type TimerSleeper struct{}

// Sleep implements Sleeper.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
