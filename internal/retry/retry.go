// Package retry runs operations that can fail transiently with exponential
// backoff and full jitter.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultBase is the base delay of the first retry.
	DefaultBase = time.Second
	// DefaultFactor is the growth factor between retries.
	DefaultFactor = 2.0
	// DefaultMaxAttempts bounds the number of attempts including the first one.
	DefaultMaxAttempts = 10
	// DefaultMaxDelay caps a single delay.
	DefaultMaxDelay = 5 * time.Minute
)

// Policy describes how a transient failure is retried. The n-th retry
// (n starting at 1) waits Base * Factor^n * U[0,1), capped at MaxDelay.
type Policy struct {
	Base   time.Duration
	Factor float64
	// MaxAttempts is the total number of attempts. 0 retries until the
	// operation succeeds or the context is done.
	MaxAttempts int
	MaxDelay    time.Duration

	random func() float64
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		Base:        DefaultBase,
		Factor:      DefaultFactor,
		MaxAttempts: DefaultMaxAttempts,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Ceiling returns the upper bound of the delay before retry n.
func (p Policy) Ceiling(n int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.Base) * math.Pow(factor, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// BackOff returns a fresh backoff.BackOff that follows p.
func (p Policy) BackOff() backoff.BackOff {
	random := p.random
	if random == nil {
		random = rand.Float64
	}
	return &jitterBackOff{policy: p, random: random}
}

type jitterBackOff struct {
	policy Policy
	random func() float64
	n      int
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(float64(b.policy.Ceiling(b.n)) * b.random())
}

func (b *jitterBackOff) Reset() {
	b.n = 0
}

// NotifyFunc is called before retry n with the delay and the error that caused it.
type NotifyFunc func(n int, delay time.Duration, err error)

// Do runs op until it succeeds, fails with an error transient rejects, the
// attempts are exhausted or ctx is done. It returns the last error of op, or
// the context cause when ctx ends while waiting.
func Do(ctx context.Context, p Policy, transient func(error) bool, notify NotifyFunc, op func(context.Context) error) error {
	var retries int
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			err := op(ctx)
			if err != nil && !transient(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 0))),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			retries++
			if notify != nil {
				notify(retries, delay, err)
			}
		}),
	)

	// The last attempt returns a permanent error still wrapped.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}
