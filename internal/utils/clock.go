// internal/utils/clock.go
package utils

import "time"

// Clock abstracts wall-clock reads so time-based logic (nonce expiry,
// co-auth TTL evaluation) can be tested with a fixed instant.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the production clock (UTC).
func RealClock() Clock { return realClock{} }

// FixedClock always reports the same instant. Test helper.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time { return c.Instant }
