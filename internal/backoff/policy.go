// Package backoff computes retry delays and runs retry loops for calls to
// upstream model APIs.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes exponential backoff with jitter.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration `yaml:"initial"`
	// Max caps any single delay.
	Max time.Duration `yaml:"max"`
	// Factor multiplies the delay after every attempt.
	Factor float64 `yaml:"factor"`
	// Jitter adds up to this fraction of the delay at random.
	Jitter float64 `yaml:"jitter"`
}

// DefaultPolicy starts at 500ms and doubles up to 8s with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     8 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the wait after the given failed attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 {
		total = math.Min(total, float64(p.Max))
	}
	return time.Duration(total)
}
