package quake

import "fmt"

// ValidationError marks a payload that can never be accepted: missing or
// unparseable required fields, out-of-range coordinates. The message is
// dropped and the pipeline moves on.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: field %q: %s", e.Field, e.Reason)
}

// ImplausibleTimeError is a validation failure caused by an occurred_at far
// in the future or implausibly far in the past. It is kept distinct from
// plain ValidationError so operators can audit feed quality separately.
type ImplausibleTimeError struct {
	ValidationError
	Drift string // "future" or "past"
}

func (e *ImplausibleTimeError) Error() string {
	return fmt.Sprintf("implausible event time (%s): field %q: %s", e.Drift, e.Field, e.Reason)
}

// PersistenceError wraps a transient store failure. The pipeline retries a
// bounded number of times before dropping the event with a log entry.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigError marks an unrecoverable startup problem (malformed endpoint,
// unknown provider). Unlike connection errors it is never retried; the
// controller enters Failed and waits for an operator.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}
