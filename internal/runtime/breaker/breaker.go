package breaker

import (
	"time"
)

// State is the position of a circuit breaker.
type State string

const (
	// StateClosed lets calls through and counts outcomes.
	StateClosed State = "CLOSED"
	// StateOpen rejects calls immediately.
	StateOpen State = "OPEN"
	// StateHalfOpen lets a single trial call through after the recovery timeout.
	StateHalfOpen State = "HALF_OPEN"
)

// Settings tunes when a breaker trips and how it recovers. Zero values fall
// back to the defaults.
type Settings struct {
	// FailureThreshold is the minimum number of failures within the
	// monitoring period before the breaker can trip. Default 5.
	FailureThreshold int
	// RecoveryTimeout is how long an open breaker rejects calls before
	// allowing a trial. Default 60s.
	RecoveryTimeout time.Duration
	// MonitoringPeriod is the tumbling window over which request outcomes
	// are counted. Default 60s.
	MonitoringPeriod time.Duration
	// MinimumThroughput is the number of requests the window must contain
	// before the failure rate is considered. Default 10.
	MinimumThroughput int
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = time.Minute
	}
	if s.MonitoringPeriod <= 0 {
		s.MonitoringPeriod = time.Minute
	}
	if s.MinimumThroughput <= 0 {
		s.MinimumThroughput = 10
	}
	return s
}

// Metrics is a snapshot of a breaker's window counters.
type Metrics struct {
	Service               string    `json:"service"`
	Operation             string    `json:"operation"`
	State                 State     `json:"state"`
	Requests              int64     `json:"requests"`
	Failures              int64     `json:"failures"`
	Successes             int64     `json:"successes"`
	Rejected              int64     `json:"rejected"`
	FailureRate           float64   `json:"failure_rate"`
	AverageResponseTimeMs float64   `json:"average_response_time_ms"`
	LastFailure           time.Time `json:"last_failure,omitempty"`
	LastTransition        time.Time `json:"last_transition,omitempty"`
}

// breaker is a view over the stored record for one (service, operation)
// pair. It carries no state of its own; every decision is an atomic
// read-modify-write against the store.
type breaker struct {
	key      Key
	settings Settings
	now      func() time.Time
	store    StateStore
}

// allow decides whether a call may proceed. It returns false when the call
// must be rejected, and reports whether the permitted call is a half-open
// trial.
func (b *breaker) allow() (proceed, trial bool) {
	now := b.now()
	b.store.Update(b.key, func(rec *Record) {
		b.prepare(rec, now)

		switch rec.State {
		case StateClosed:
			proceed = true
		case StateOpen:
			recovery := b.settings.RecoveryTimeout
			if rec.RecoveryOverride > 0 {
				recovery = rec.RecoveryOverride
			}
			if now.Sub(rec.OpenedAt) < recovery {
				rec.Rejected++
				return
			}
			b.transition(rec, StateHalfOpen, now)
			rec.Probing = true
			proceed, trial = true, true
		case StateHalfOpen:
			if rec.Probing {
				rec.Rejected++
				return
			}
			rec.Probing = true
			proceed, trial = true, true
		}
	})
	return proceed, trial
}

// record feeds a call outcome back into the state machine. Successful calls
// feed the window's average response time; a negative elapsed means the call
// was never timed and is left out of it.
func (b *breaker) record(success, trial bool, elapsed time.Duration) {
	now := b.now()
	b.store.Update(b.key, func(rec *Record) {
		b.prepare(rec, now)

		rec.Requests++
		if success {
			rec.Successes++
			if elapsed >= 0 {
				rec.TimedCalls++
				rec.TotalDurationNs += elapsed.Nanoseconds()
			}
		} else {
			rec.Failures++
			rec.LastFailure = now
		}

		if trial {
			rec.Probing = false
			if success {
				// A single successful trial closes the breaker.
				b.resetCounters(rec, now)
				b.transition(rec, StateClosed, now)
			} else {
				rec.OpenedAt = now
				b.transition(rec, StateOpen, now)
			}
			return
		}

		if rec.State == StateClosed && b.shouldTrip(rec) {
			rec.OpenedAt = now
			b.transition(rec, StateOpen, now)
		}
	})
}

// prepare initialises a fresh record and rotates the tumbling window.
func (b *breaker) prepare(rec *Record, now time.Time) {
	if rec.State == "" {
		rec.State = StateClosed
		rec.WindowStart = now
	}
	if now.Sub(rec.WindowStart) >= b.settings.MonitoringPeriod {
		b.resetCounters(rec, now)
	}
}

func (b *breaker) shouldTrip(rec *Record) bool {
	if rec.Requests < int64(b.settings.MinimumThroughput) {
		return false
	}
	if rec.Failures < int64(b.settings.FailureThreshold) {
		return false
	}
	return float64(rec.Failures)/float64(rec.Requests) >= 0.5
}

func (b *breaker) resetCounters(rec *Record, now time.Time) {
	rec.WindowStart = now
	rec.Requests = 0
	rec.Failures = 0
	rec.Successes = 0
	rec.TimedCalls = 0
	rec.TotalDurationNs = 0
}

func (b *breaker) transition(rec *Record, next State, now time.Time) {
	if rec.State == next {
		return
	}
	rec.State = next
	rec.LastTransition = now
	if next != StateHalfOpen {
		rec.Probing = false
	}
	if next != StateOpen {
		rec.RecoveryOverride = 0
	}
	observeTransition(b.key.Service, b.key.Operation, next)
}

// forceState pushes the breaker into next regardless of the counters.
// A positive recovery replaces the configured recovery timeout while the
// breaker stays open.
func (b *breaker) forceState(next State, recovery time.Duration) {
	now := b.now()
	b.store.Update(b.key, func(rec *Record) {
		b.prepare(rec, now)
		if next == StateOpen {
			rec.OpenedAt = now
			rec.RecoveryOverride = recovery
		}
		if next == StateClosed {
			b.resetCounters(rec, now)
		}
		b.transition(rec, next, now)
	})
}

func (b *breaker) snapshot() Metrics {
	rec, _ := b.store.Get(b.key)
	return metricsFromRecord(b.key, rec)
}

func metricsFromRecord(k Key, rec Record) Metrics {
	m := Metrics{
		Service:        k.Service,
		Operation:      k.Operation,
		State:          rec.State,
		Requests:       rec.Requests,
		Failures:       rec.Failures,
		Successes:      rec.Successes,
		Rejected:       rec.Rejected,
		LastFailure:    rec.LastFailure,
		LastTransition: rec.LastTransition,
	}
	if m.State == "" {
		m.State = StateClosed
	}
	if rec.Requests > 0 {
		m.FailureRate = float64(rec.Failures) / float64(rec.Requests)
	}
	if rec.TimedCalls > 0 {
		m.AverageResponseTimeMs = float64(rec.TotalDurationNs) / float64(rec.TimedCalls) / float64(time.Millisecond)
	}
	return m
}
