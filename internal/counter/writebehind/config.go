package writebehind

import "time"

// Config controls the drain cadence and the retry policy for durable writes.
type Config struct {
	// FlushInterval is how often pending deltas are drained to the store.
	FlushInterval time.Duration
	// MaxAttempts bounds how many times one key's write is tried per cycle.
	MaxAttempts int
	// RetryInitialDelay is the wait before the first retry; each further
	// retry doubles it.
	RetryInitialDelay time.Duration
	// RetryMaxJitter is the upper bound of the random extra wait added to
	// every retry delay.
	RetryMaxJitter time.Duration
	// PersistTimeout bounds a single durable write.
	PersistTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FlushInterval:     3 * time.Second,
		MaxAttempts:       4,
		RetryInitialDelay: time.Second,
		RetryMaxJitter:    500 * time.Millisecond,
		PersistTimeout:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = def.RetryInitialDelay
	}
	if c.RetryMaxJitter < 0 {
		c.RetryMaxJitter = def.RetryMaxJitter
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = def.PersistTimeout
	}
	return c
}
