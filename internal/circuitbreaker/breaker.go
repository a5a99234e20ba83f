// Package circuitbreaker implements a three-state circuit breaker with
// count- or time-based sliding windows, exponential backoff on repeated
// trips, bounded half-open probing, and a process-wide registry.
//
// Grounded on the teacher's infrastructure/resilience/circuit_breaker.go
// three-state machine, generalized with the windowed failure/slow-call
// rate detection, exponential backoff, and half-open concurrency limits
// the runtime's reliability requirements call for; the backoff math
// absorbs the teacher's infrastructure/fallback retry-delay calculation.
package circuitbreaker

import (
	"context"
	"math"
	"sync"
	"time"

	cberrors "github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/errors"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/metrics"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// gaugeValue maps a state to the fixed numeric value pkg/metrics publishes
// for it.
func (s State) gaugeValue() float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// WindowKind selects how outcomes are aggregated.
type WindowKind string

const (
	WindowCountBased WindowKind = "count"
	WindowTimeBased  WindowKind = "time"
)

// HalfOpenCloseMode controls how HalfOpen decides to close.
type HalfOpenCloseMode string

const (
	CloseModeStrict HalfOpenCloseMode = "strict" // consecutive successes
	CloseModeRate   HalfOpenCloseMode = "rate"   // success rate over minimum probes
)

// HalfOpenOpenMode controls how HalfOpen decides to re-open on failure.
type HalfOpenOpenMode string

const (
	OpenModeStrict  HalfOpenOpenMode = "strict"  // any failure reopens
	OpenModeLenient HalfOpenOpenMode = "lenient" // reopens after a failure threshold
)

// Config parameterizes a Breaker's thresholds and windowing.
type Config struct {
	ConsecutiveFailureThreshold int
	FailureRateThreshold        float64
	SlowCallRateThreshold       float64
	MinimumRequests             int
	SlowCallDurationThreshold   time.Duration

	WindowKind WindowKind
	WindowSize int           // count-based
	WindowSpan time.Duration // time-based

	OpenTimeout         time.Duration
	ExponentialBackoff  bool
	BackoffMultiplier   float64
	MaxBackoff          time.Duration

	HalfOpenMaxConcurrent    int
	HalfOpenCloseMode        HalfOpenCloseMode
	HalfOpenSuccessThreshold int
	HalfOpenSuccessRate      float64
	HalfOpenMinimumProbes    int
	HalfOpenOpenMode         HalfOpenOpenMode
	HalfOpenFailureThreshold int

	CallTimeout time.Duration
}

// DefaultConfig returns the "default" preset from spec §6.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailureThreshold: 5,
		FailureRateThreshold:        0.5,
		SlowCallRateThreshold:       0.5,
		MinimumRequests:             10,
		SlowCallDurationThreshold:   time.Second,
		WindowKind:                  WindowCountBased,
		WindowSize:                  20,
		OpenTimeout:                 30 * time.Second,
		ExponentialBackoff:          false,
		BackoffMultiplier:           2.0,
		MaxBackoff:                  5 * time.Minute,
		HalfOpenMaxConcurrent:       3,
		HalfOpenCloseMode:           CloseModeStrict,
		HalfOpenSuccessThreshold:    2,
		HalfOpenSuccessRate:         0.8,
		HalfOpenMinimumProbes:       3,
		HalfOpenOpenMode:            OpenModeStrict,
		HalfOpenFailureThreshold:    1,
		CallTimeout:                 5 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.ConsecutiveFailureThreshold <= 0 {
		c.ConsecutiveFailureThreshold = 5
	}
	if c.WindowKind == "" {
		c.WindowKind = WindowCountBased
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.WindowSpan <= 0 {
		c.WindowSpan = 60 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.HalfOpenMaxConcurrent <= 0 {
		c.HalfOpenMaxConcurrent = 1
	}
	if c.HalfOpenCloseMode == "" {
		c.HalfOpenCloseMode = CloseModeStrict
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		c.HalfOpenSuccessThreshold = 1
	}
	if c.HalfOpenOpenMode == "" {
		c.HalfOpenOpenMode = OpenModeStrict
	}
	if c.HalfOpenFailureThreshold <= 0 {
		c.HalfOpenFailureThreshold = 1
	}
	return c
}

// CallError is the sentinel error family Call/Execute can return.
type CallError struct {
	Kind string // "CircuitOpen" | "TooManyProbes" | "Timeout" | "OperationFailed"
	Err  error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return e.Kind + ": " + e.Err.Error()
	}
	return e.Kind
}

func (e *CallError) Unwrap() error { return e.Err }

func errCircuitOpen(name string) error {
	return &CallError{Kind: "CircuitOpen", Err: cberrors.CircuitOpen(name)}
}

func errTooManyProbes(name string) error {
	return &CallError{Kind: "TooManyProbes", Err: cberrors.RateLimited(name)}
}

func errTimeout(name string) error {
	return &CallError{Kind: "Timeout", Err: cberrors.Timeout(name)}
}

func errOperationFailed(err error) error {
	return &CallError{Kind: "OperationFailed", Err: err}
}

// Breaker is a single named circuit breaker instance.
type Breaker struct {
	name   string
	config Config
	log    *logger.Logger

	mu             sync.RWMutex
	state          State
	stateEnteredAt time.Time
	window         window
	halfOpenProbes int
	tripCount      int
	backoffAttempt int

	subMu       sync.Mutex
	subscribers []Subscriber
}

// New creates a Breaker with the given name and configuration.
func New(name string, cfg Config, log *logger.Logger) *Breaker {
	cfg = cfg.normalized()
	b := &Breaker{
		name:           name,
		config:         cfg,
		log:            log,
		state:          StateClosed,
		stateEnteredAt: time.Now(),
	}
	b.window = b.newWindow()
	return b
}

func (b *Breaker) newWindow() window {
	if b.config.WindowKind == WindowTimeBased {
		return newTimeWindow(b.config.WindowSpan)
	}
	return newCountWindow(b.config.WindowSize)
}

// Name returns the breaker's registry key.
func (b *Breaker) Name() string { return b.name }

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Subscribe registers a subscriber invoked synchronously, under the state
// lock, on every transition and call outcome. Subscribers must not block.
func (b *Breaker) Subscribe(s Subscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

func (b *Breaker) emit(ev Event) {
	ev.Breaker = b.name
	ev.Timestamp = time.Now()
	b.subMu.Lock()
	subs := append([]Subscriber(nil), b.subscribers...)
	b.subMu.Unlock()
	for _, s := range subs {
		s(ev)
	}
}

// Execute runs fn under the breaker's protection using the default call
// timeout, with no fallback.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.Call(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// Call runs fn under the breaker's protection and returns its result.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := b.admit(); err != nil {
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.config.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.config.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	resultCh := make(chan struct {
		val interface{}
		err error
	}, 1)

	go func() {
		v, err := fn(callCtx)
		resultCh <- struct {
			val interface{}
			err error
		}{v, err}
	}()

	select {
	case <-callCtx.Done():
		duration := time.Since(start)
		b.record(false, duration)
		b.release()
		return nil, errTimeout(b.name)
	case res := <-resultCh:
		duration := time.Since(start)
		success := res.err == nil
		b.record(success, duration)
		b.release()
		if !success {
			return nil, errOperationFailed(res.err)
		}
		return res.val, nil
	}
}

// CallWithFallback behaves like Call, but returns fb's result instead of
// CircuitOpen/TooManyProbes when the call is rejected before execution.
func (b *Breaker) CallWithFallback(ctx context.Context, fn func(context.Context) (interface{}, error), fb func(context.Context) (interface{}, error)) (interface{}, error) {
	v, err := b.Call(ctx, fn)
	if err == nil {
		return v, nil
	}
	var cerr *CallError
	if e, ok := err.(*CallError); ok {
		cerr = e
	}
	if cerr != nil && (cerr.Kind == "CircuitOpen" || cerr.Kind == "TooManyProbes") {
		b.emit(Event{Kind: EventFallbackExecuted, Reason: cerr.Kind})
		fv, ferr := fb(ctx)
		return fv, ferr
	}
	return v, err
}

// admit performs the admission check (step 1 of the call contract) and, if
// the breaker is Open and its backoff has elapsed, transitions it to
// HalfOpen under the state lock.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.stateEnteredAt) >= b.backoffDuration() {
			b.setStateLocked(StateHalfOpen, "backoff elapsed")
			b.halfOpenProbes = 1
			return nil
		}
		if b.log != nil {
			b.log.WithField("breaker", b.name).Debug("rejecting call: circuit open")
		}
		metrics.RecordCircuitBreakerRejection(b.name, "open")
		b.emit(Event{Kind: EventRequestRejected, Reason: "CircuitOpen"})
		return errCircuitOpen(b.name)
	case StateHalfOpen:
		if b.halfOpenProbes >= b.config.HalfOpenMaxConcurrent {
			metrics.RecordCircuitBreakerRejection(b.name, "too_many_probes")
			b.emit(Event{Kind: EventRequestRejected, Reason: "TooManyProbes"})
			return errTooManyProbes(b.name)
		}
		b.halfOpenProbes++
	}
	return nil
}

// release decrements the in-flight half-open probe counter; it is a no-op
// outside HalfOpen.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenProbes > 0 {
		b.halfOpenProbes--
	}
}

func (b *Breaker) backoffDuration() time.Duration {
	if !b.config.ExponentialBackoff {
		return b.config.OpenTimeout
	}
	d := float64(b.config.OpenTimeout) * math.Pow(b.config.BackoffMultiplier, float64(b.backoffAttempt))
	if d > float64(b.config.MaxBackoff) {
		d = float64(b.config.MaxBackoff)
	}
	return time.Duration(d)
}

// record updates the window with a call outcome and re-evaluates the
// state machine's transition thresholds.
func (b *Breaker) record(success bool, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.window.record(outcome{at: time.Now(), success: success, duration: duration})
	b.emit(Event{Kind: EventRequestExecuted, State: b.state, Success: success, Duration: duration})

	switch b.state {
	case StateHalfOpen:
		if success {
			if b.halfOpenShouldClose() {
				b.setStateLocked(StateClosed, "half-open probes succeeded")
			}
		} else {
			if b.halfOpenShouldReopen() {
				b.setStateLocked(StateOpen, "half-open probe failed")
			}
		}
	case StateClosed:
		if !success && b.shouldTrip() {
			b.setStateLocked(StateOpen, "failure threshold exceeded")
		}
	}
}

func (b *Breaker) halfOpenShouldClose() bool {
	stats := b.window.stats(b.config.SlowCallDurationThreshold)
	switch b.config.HalfOpenCloseMode {
	case CloseModeRate:
		return stats.Total >= b.config.HalfOpenMinimumProbes && stats.SuccessRate() >= b.config.HalfOpenSuccessRate
	default:
		return stats.ConsecutiveOK >= b.config.HalfOpenSuccessThreshold
	}
}

func (b *Breaker) halfOpenShouldReopen() bool {
	stats := b.window.stats(b.config.SlowCallDurationThreshold)
	switch b.config.HalfOpenOpenMode {
	case OpenModeLenient:
		return stats.ConsecutiveFails >= b.config.HalfOpenFailureThreshold
	default:
		return true
	}
}

func (b *Breaker) shouldTrip() bool {
	stats := b.window.stats(b.config.SlowCallDurationThreshold)
	if stats.ConsecutiveFails >= b.config.ConsecutiveFailureThreshold {
		return true
	}
	if stats.Total < b.config.MinimumRequests {
		return false
	}
	if b.config.FailureRateThreshold > 0 && stats.FailureRate() >= b.config.FailureRateThreshold {
		return true
	}
	if b.config.SlowCallRateThreshold > 0 && stats.SlowCallRate() >= b.config.SlowCallRateThreshold {
		return true
	}
	return false
}

// setStateLocked transitions the breaker. Callers must hold b.mu.
func (b *Breaker) setStateLocked(to State, reason string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.stateEnteredAt = time.Now()
	b.halfOpenProbes = 0

	switch {
	case to == StateOpen && from == StateClosed:
		b.tripCount++
		b.backoffAttempt = 0
	case to == StateOpen && from == StateHalfOpen:
		b.tripCount++
		b.backoffAttempt++ // do not reset: this is what grows the wait
	case to == StateClosed:
		b.backoffAttempt = 0
		b.window.reset()
	}

	if b.log != nil {
		b.log.WithFields(map[string]interface{}{
			"breaker": b.name,
			"from":    from.String(),
			"to":      to.String(),
			"reason":  reason,
		}).Warn("circuit breaker state changed")
	}
	metrics.RecordCircuitBreakerTransition(b.name, from.String(), to.String(), to.gaugeValue())
	b.emit(Event{Kind: EventStateTransition, From: from, To: to, Reason: reason})
}

// Snapshot is a point-in-time view of a breaker's counters, used by the
// registry's SnapshotAll and by metrics scraping.
type Snapshot struct {
	Name           string
	State          State
	StateEnteredAt time.Time
	TripCount      int
	BackoffAttempt int
	Stats          windowStats
}

// Snapshot returns the breaker's current counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Name:           b.name,
		State:          b.state,
		StateEnteredAt: b.stateEnteredAt,
		TripCount:      b.tripCount,
		BackoffAttempt: b.backoffAttempt,
		Stats:          b.window.stats(b.config.SlowCallDurationThreshold),
	}
}

// Reset forces the breaker back to Closed and clears its window and
// backoff counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.stateEnteredAt = time.Now()
	b.halfOpenProbes = 0
	b.backoffAttempt = 0
	b.window.reset()
}
