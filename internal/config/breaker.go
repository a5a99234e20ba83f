package config

import (
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/circuitbreaker"
)

// ToBreakerConfig converts a BreakerPreset into the circuitbreaker.Config
// the registry consumes, using a count-based window and lenient half-open
// reopen semantics.
func (p BreakerPreset) ToBreakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		ConsecutiveFailureThreshold: p.ConsecutiveFailureThreshold,
		FailureRateThreshold:        p.FailureRateThreshold,
		SlowCallRateThreshold:       p.SlowCallRateThreshold,
		MinimumRequests:             p.MinimumRequests,
		SlowCallDurationThreshold:   time.Duration(p.SlowCallDurationMillis) * time.Millisecond,

		WindowKind: circuitbreaker.WindowCountBased,
		WindowSize: p.MinimumRequests,

		OpenTimeout:        time.Duration(p.OpenTimeoutSeconds) * time.Second,
		ExponentialBackoff: p.ExponentialBackoff,
		BackoffMultiplier:  p.BackoffMultiplier,
		MaxBackoff:         time.Duration(p.MaxBackoffSeconds) * time.Second,

		HalfOpenMaxConcurrent:    p.HalfOpenMaxConcurrent,
		HalfOpenCloseMode:        circuitbreaker.CloseModeRate,
		HalfOpenSuccessThreshold: p.HalfOpenSuccessThreshold,
		HalfOpenSuccessRate:      p.HalfOpenSuccessRate,
		HalfOpenMinimumProbes:    p.HalfOpenMinimumProbes,
		HalfOpenOpenMode:         circuitbreaker.OpenModeLenient,
		HalfOpenFailureThreshold: p.HalfOpenFailureThreshold,

		CallTimeout: time.Duration(p.CallTimeoutSeconds) * time.Second,
	}
}
