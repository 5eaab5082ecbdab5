package task

import (
	"math"
	"slices"
	"time"
)

// Backoff describes an exponential delay curve.
type Backoff struct {
	Base       time.Duration `json:"base"`
	Max        time.Duration `json:"max"`
	Multiplier float64       `json:"multiplier"`
}

// RetryConfig is the retry policy handed to the executor. Nothing in this
// module mutates it; it travels with the task so the executor can resume
// after a restart with the policy the batch was started under.
type RetryConfig struct {
	MaxRetries int `json:"max_retries"`
	// RetryableStatuses are transient HTTP statuses (rate limits, gateway errors).
	RetryableStatuses []int `json:"retryable_statuses"`
	// BlockingStatuses stop the whole batch (authentication, permissions).
	BlockingStatuses []int `json:"blocking_statuses"`
	// FailFastCodes are business error codes that fail only the task at hand.
	FailFastCodes []string `json:"fail_fast_codes"`
	Backoff       Backoff  `json:"backoff"`
}

type RetryDecision string

const (
	RetryNone      RetryDecision = "none"
	RetryAgain     RetryDecision = "retry"
	RetryStopTask  RetryDecision = "stop_task"
	RetryStopBatch RetryDecision = "stop_batch"
)

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		RetryableStatuses: []int{408, 429, 500, 502, 503, 504},
		BlockingStatuses:  []int{401, 403},
		Backoff: Backoff{
			Base:       time.Second,
			Max:        30 * time.Second,
			Multiplier: 2,
		},
	}
}

// Classify maps a failed call to what the executor should do next.
// Blocking statuses win over fail-fast codes, which win over retryable statuses.
func (c RetryConfig) Classify(httpStatus int, code string) RetryDecision {
	switch {
	case slices.Contains(c.BlockingStatuses, httpStatus):
		return RetryStopBatch
	case code != "" && slices.Contains(c.FailFastCodes, code):
		return RetryStopTask
	case slices.Contains(c.RetryableStatuses, httpStatus):
		return RetryAgain
	case httpStatus >= 400:
		return RetryStopTask
	default:
		return RetryNone
	}
}

// ShouldRetry reports whether another attempt is allowed after retryCount attempts.
func (c RetryConfig) ShouldRetry(retryCount int) bool {
	return retryCount < c.MaxRetries
}

// Delay returns the wait before the given attempt (0-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := c.Backoff.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.Backoff.Base) * math.Pow(mult, float64(attempt))
	if c.Backoff.Max > 0 && d > float64(c.Backoff.Max) {
		return c.Backoff.Max
	}
	return time.Duration(d)
}

func (c RetryConfig) Clone() RetryConfig {
	out := c
	out.RetryableStatuses = slices.Clone(c.RetryableStatuses)
	out.BlockingStatuses = slices.Clone(c.BlockingStatuses)
	out.FailFastCodes = slices.Clone(c.FailFastCodes)
	return out
}
