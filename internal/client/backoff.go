package client

import (
	"math"
	"time"
)

const (
	backoffMin    = time.Second
	backoffMax    = 60 * time.Second
	backoffFactor = 1.5
)

// backoff produces the retry delays used by the connection and registration
// loops: 1s minimum, 60s maximum, growing by half and rounded up to whole
// seconds.
type backoff struct {
	delay time.Duration
}

func newBackoff() *backoff {
	return &backoff{delay: backoffMin}
}

// next returns the current delay and advances to the following one.
func (b *backoff) next() time.Duration {
	cur := b.delay
	grown := math.Ceil(b.delay.Seconds() * backoffFactor)
	b.delay = time.Duration(grown) * time.Second
	if b.delay > backoffMax {
		b.delay = backoffMax
	}
	return cur
}

// reset rewinds to the minimum delay after a success.
func (b *backoff) reset() {
	b.delay = backoffMin
}
