package circuitbreaker

import "time"

// EventKind enumerates the circuit breaker lifecycle events subscribers
// can observe.
type EventKind string

const (
	EventStateTransition  EventKind = "StateTransition"
	EventRequestExecuted  EventKind = "RequestExecuted"
	EventRequestRejected  EventKind = "RequestRejected"
	EventFallbackExecuted EventKind = "FallbackExecuted"
)

// Event is the payload delivered to subscribers. Only the fields relevant
// to Kind are populated.
type Event struct {
	Kind      EventKind
	Breaker   string
	From      State
	To        State
	Reason    string
	State     State
	Success   bool
	Duration  time.Duration
	Timestamp time.Time
}

// Subscriber receives breaker events. Implementations must not block:
// subscribers are invoked synchronously, under the breaker's state lock,
// with the event passed by value.
type Subscriber func(Event)
