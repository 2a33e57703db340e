package stepchain

import (
	"time"

	"github.com/petrijr/stepchain/pkg/taskpool"
)

// RetryPolicy controls how individual work units are retried. It is
// applied per engine via taskpool.WithRetryPolicy.
type RetryPolicy = taskpool.RetryPolicy

// RetryBuilder assembles a RetryPolicy value by value; each method returns
// a new builder, so partial policies can be reused safely.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry starts a builder allowing up to maxAttempts executions of a work
// unit, the initial attempt included. Anything below 1 collapses to a
// single attempt, i.e. no retries.
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{
		policy: RetryPolicy{
			MaxAttempts: maxAttempts,
		},
	}
}

// WithExponentialBackoff waits initial before the first retry and then
// multiplies the delay by multiplier after each failed attempt. When max
// is positive it caps the delay; a multiplier of zero or less falls back
// to doubling.
//
//	stepchain.Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = initial
	p.MaxBackoff = max
	if multiplier <= 0 {
		multiplier = 2.0
	}
	p.BackoffMultiplier = multiplier
	return RetryBuilder{policy: p}
}

// WithConstantBackoff waits the same delay between every retry.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = delay
	p.MaxBackoff = 0
	p.BackoffMultiplier = 1.0
	return RetryBuilder{policy: p}
}

// Immediate retries with no delay at all between attempts. The attempt
// budget from Retry still applies.
func (r RetryBuilder) Immediate() RetryBuilder {
	p := r.policy
	p.InitialBackoff = 0
	p.MaxBackoff = 0
	p.BackoffMultiplier = 0
	return RetryBuilder{policy: p}
}

// Policy returns the assembled RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
