package logging

import (
	"strconv"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// Provider adds a cloud provider field.
func Provider(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("provider", id)
	}
}

// Target adds the protected target a breaker or limiter is keyed by.
func Target(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("target", name)
	}
}

// Tier adds a cache tier field.
func Tier(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("tier", name)
	}
}

// Key adds a cache key field. Long keys are shortened.
func Key(key string) Field {
	return func(e *bolt.Event) *bolt.Event {
		if len(key) > 96 {
			key = key[:96] + "..."
		}
		return e.Str("key", key)
	}
}

// TaskID adds an orchestrator task ID field.
func TaskID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("task_id", id)
	}
}

// ReportID adds an analysis report ID field.
func ReportID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("report_id", id)
	}
}

// Host adds a remote host field.
func Host(host string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("host", host)
	}
}

// FromState adds a from_state field for transitions.
func FromState(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("from_state", s)
	}
}

// ToState adds a to_state field for transitions.
func ToState(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("to_state", s)
	}
}

// Attempt adds a retry attempt number.
func Attempt(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("attempt", n)
	}
}

// Count adds a named integer count.
func Count(key string, n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int(key, n)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// Delay adds a backoff delay field in milliseconds.
func Delay(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("delay_ms", d.Milliseconds())
	}
}

// Float adds a float field formatted with the given precision.
func Float(key string, v float64, prec int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, strconv.FormatFloat(v, 'f', prec, 64))
	}
}

// Cached adds a cached field.
func Cached(cached bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool("cached", cached)
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Operation adds an operation field.
func Operation(op string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("operation", op)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}
