// Package xtime provides JSON-serializable timestamps for wire events
// (status reports, sender/feeder status, command issue times).
package xtime

import (
	"encoding/json"
	"time"
)

// Milli is a time.Time that marshals to/from Unix milliseconds.
type Milli time.Time

// Now returns the current time as Milli.
func Now() Milli { return Milli(time.Now()) }

// Time returns the underlying time.Time.
func (m Milli) Time() time.Time { return time.Time(m) }

// Before reports whether m is before t.
func (m Milli) Before(t Milli) bool { return time.Time(m).Before(time.Time(t)) }

// After reports whether m is after t.
func (m Milli) After(t Milli) bool { return time.Time(m).After(time.Time(t)) }

// IsZero reports whether m is the zero instant.
func (m Milli) IsZero() bool { return time.Time(m).IsZero() }

// Sub returns the duration m-t.
func (m Milli) Sub(t Milli) time.Duration { return time.Time(m).Sub(time.Time(t)) }

// Add returns m+d.
func (m Milli) Add(d time.Duration) Milli { return Milli(time.Time(m).Add(d)) }

// MarshalJSON implements json.Marshaler. The zero time marshals to 0 rather
// than the (large negative) Unix millis of Go's zero instant, so "not yet
// finished"-style fields round-trip as 0 the way callers expect.
func (m Milli) MarshalJSON() ([]byte, error) {
	if time.Time(m).IsZero() {
		return json.Marshal(int64(0))
	}
	return json.Marshal(time.Time(m).UnixMilli())
}

// UnmarshalJSON implements json.Unmarshaler. 0 round-trips back to the zero
// time rather than the Unix epoch.
func (m *Milli) UnmarshalJSON(b []byte) error {
	var t int64
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	if t == 0 {
		*m = Milli(time.Time{})
		return nil
	}
	*m = Milli(time.UnixMilli(t))
	return nil
}
