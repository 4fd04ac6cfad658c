package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Default reopen schedule.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 60 * time.Second
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25
)

// BackoffConfig describes the delay before each reopen attempt. Zero fields
// take the defaults.
type BackoffConfig struct {
	// Initial is the delay before the first attempt after a loss.
	Initial time.Duration `yaml:"initial" toml:"initial"`

	// Max caps every delay, jitter included.
	Max time.Duration `yaml:"max" toml:"max"`

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64 `yaml:"multiplier" toml:"multiplier"`

	// Jitter is the spread applied to each delay as a fraction of it.
	Jitter float64 `yaml:"jitter" toml:"jitter"`
}

// DefaultBackoffConfig returns the default schedule.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	return c
}

// Delay returns the unjittered delay before attempt n, counting from 1.
func (c BackoffConfig) Delay(n int) time.Duration {
	c = c.normalized()
	d := c.Initial
	for i := 1; i < n && d < c.Max; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
	}
	if d > c.Max {
		d = c.Max
	}
	return d
}

// Backoff hands out reopen delays for one device and counts the attempts
// made since the device was last live. With a budget it gives up after that
// many attempts and starts over, so the next loss gets the full budget and
// the initial delay again.
type Backoff struct {
	mu sync.Mutex

	cfg      BackoffConfig
	budget   int
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates an unbounded schedule with the default delays.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig(), 0)
}

// NewBackoffWithConfig creates a schedule allowing budget attempts per loss.
// A budget of zero or less never gives up.
func NewBackoffWithConfig(cfg BackoffConfig, budget int) *Backoff {
	if budget < 0 {
		budget = 0
	}
	return &Backoff{
		cfg:    cfg.normalized(),
		budget: budget,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next starts the next attempt and returns the delay to wait before it. It
// returns false, and resets, once the budget is spent.
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.budget > 0 && b.attempts >= b.budget {
		b.attempts = 0
		return 0, false
	}
	b.attempts++
	return b.jitter(b.cfg.Delay(b.attempts)), true
}

// Reset forgets the attempts made so far. Call it once the device is live.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Attempts returns the attempts started since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Remaining returns the attempts left in the budget, or -1 when unbounded.
func (b *Backoff) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.budget == 0 {
		return -1
	}
	return b.budget - b.attempts
}

// jitter spreads d upward while that stays under the cap and downward from
// the cap otherwise, so Max is never exceeded and capped retries of several
// devices still spread out.
func (b *Backoff) jitter(d time.Duration) time.Duration {
	if b.cfg.Jitter == 0 {
		return d
	}
	spread := time.Duration(float64(d) * b.cfg.Jitter * b.rng.Float64())
	if d+spread > b.cfg.Max {
		return b.cfg.Max - spread
	}
	return d + spread
}
