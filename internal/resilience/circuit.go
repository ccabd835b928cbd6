package resilience

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen allows a single probe to determine recovery.
	HalfOpen
)

// Breaker is a failure-ratio circuit breaker guarding outbound gateway calls.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	total       int
	minRequests int
	failureRate float64
	openFor     time.Duration
	openedAt    time.Time
}

// NewBreaker constructs a breaker that opens once at least minRequests calls
// have been observed and the failure ratio reaches failureRate, staying open
// for openFor before probing.
func NewBreaker(minRequests int, failureRate float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRate <= 0 || failureRate > 1 {
		failureRate = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{minRequests: minRequests, failureRate: failureRate, openFor: openFor}
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) >= b.openFor {
			b.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		return false
	}
	return true
}

// Report records the outcome of an allowed request.
func (b *Breaker) Report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		if success {
			b.reset()
		} else {
			b.trip()
		}
		return
	}
	b.total++
	if !success {
		b.failures++
	}
	if b.total >= b.minRequests && float64(b.failures)/float64(b.total) >= b.failureRate {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.failures = 0
	b.total = 0
}

func (b *Breaker) reset() {
	b.state = Closed
	b.failures = 0
	b.total = 0
}

// Backoff returns the jittered exponential delay for the given attempt.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if jitter > 0 {
		d += d * jitter * rand.Float64()
	}
	return time.Duration(d)
}
