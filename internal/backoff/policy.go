package backoff

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrRetriesExhausted is returned when the maximum number of retries has been reached.
var ErrRetriesExhausted = errors.New("retries exhausted")

type (
	// RetryPolicy defines the interface for retry policies.
	RetryPolicy interface {
		// ComputeNextInterval computes the next interval based on the retry policy.
		// Returns the duration to wait before the next retry, or an error if no
		// more retries should be attempted.
		ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error)
	}

	// Retrier manages the state of retry operations.
	Retrier interface {
		// Next computes the next retry interval and updates internal state.
		Next(err error) (time.Duration, error)
		// Reset resets the retrier to its initial state.
		Reset()
	}
)

var (
	noMaximumAttempts = 0

	defaultBackoffFactor = 2.0
	defaultMaxInterval   = 10 * time.Second
	defaultMaxRetries    = noMaximumAttempts
)

// NewExponentialBackoffPolicy creates a new ExponentialBackoffPolicy with the specified parameters.
func NewExponentialBackoffPolicy(initialInterval time.Duration) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{
		InitialInterval: initialInterval,
		BackoffFactor:   defaultBackoffFactor,
		MaxInterval:     defaultMaxInterval,
		MaxRetries:      defaultMaxRetries,
	}
}

// ExponentialBackoffPolicy is a retry policy that implements exponential backoff.
type ExponentialBackoffPolicy struct {
	// InitialInterval is the initial interval before the first retry.
	InitialInterval time.Duration
	// BackoffFactor is the factor by which the interval increases after each retry.
	BackoffFactor float64
	// MaxInterval is the maximum interval cap for exponential backoff.
	MaxInterval time.Duration
	// MaxRetries is the maximum number of retries allowed. 0 means unlimited retries.
	MaxRetries int
}

// ComputeNextInterval computes the next retry interval using exponential backoff.
func (p *ExponentialBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}

	interval := float64(p.InitialInterval) * math.Pow(p.BackoffFactor, float64(retryCount))
	if interval > float64(p.MaxInterval) {
		interval = float64(p.MaxInterval)
	}

	return time.Duration(interval), nil
}

// ConstantBackoffPolicy is a retry policy that uses a constant interval between retries.
type ConstantBackoffPolicy struct {
	// Interval is the constant interval between retries.
	Interval time.Duration
	// MaxRetries is the maximum number of retries allowed. 0 means unlimited retries.
	MaxRetries int
}

// NewConstantBackoffPolicy creates a new ConstantBackoffPolicy with the specified interval.
func NewConstantBackoffPolicy(interval time.Duration) *ConstantBackoffPolicy {
	return &ConstantBackoffPolicy{
		Interval:   interval,
		MaxRetries: defaultMaxRetries,
	}
}

// ComputeNextInterval returns a constant interval for each retry.
func (p *ConstantBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}

	return p.Interval, nil
}

// JitterType selects how computed intervals are randomised.
type JitterType int

const (
	// NoJitter leaves intervals unchanged.
	NoJitter JitterType = iota
	// FullJitter picks a random interval in [0, computed).
	FullJitter
	// EqualJitter keeps half the computed interval and randomises the rest.
	EqualJitter
)

// WithJitter wraps a policy so that computed intervals are randomised to
// avoid thundering-herd retries.
func WithJitter(policy RetryPolicy, jitter JitterType) RetryPolicy {
	return &jitterPolicy{policy: policy, jitter: jitter}
}

type jitterPolicy struct {
	policy RetryPolicy
	jitter JitterType
}

func (p *jitterPolicy) ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error) {
	interval, computeErr := p.policy.ComputeNextInterval(retryCount, elapsedTime, err)
	if computeErr != nil {
		return 0, computeErr
	}
	if interval <= 0 {
		return interval, nil
	}

	switch p.jitter {
	case FullJitter:
		return time.Duration(rand.Int63n(int64(interval) + 1)), nil
	case EqualJitter:
		half := interval / 2
		return half + time.Duration(rand.Int63n(int64(half)+1)), nil
	default:
		return interval, nil
	}
}

// NewRetrier creates a new Retrier instance with the specified retry policy.
func NewRetrier(retryPolicy RetryPolicy) Retrier {
	return &retrierImpl{
		retryPolicy: retryPolicy,
		retryCount:  0,
	}
}

type retrierImpl struct {
	retryPolicy RetryPolicy
	retryCount  int
	startTime   time.Time
	mu          sync.Mutex
}

// Next computes the next retry interval and updates internal state.
func (r *retrierImpl) Next(err error) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startTime.IsZero() {
		r.startTime = time.Now()
	}

	interval, computeErr := r.retryPolicy.ComputeNextInterval(r.retryCount, time.Since(r.startTime), err)
	if computeErr != nil {
		return 0, computeErr
	}

	r.retryCount++
	return interval, nil
}

// Reset resets the retrier to its initial state.
func (r *retrierImpl) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryCount = 0
	r.startTime = time.Time{}
}
