package browser

import "time"

// Config configures the shared browser layer.
type Config struct {
	ChromePath  string
	Headless    bool
	ProfileRoot string
	Timeout     time.Duration

	// StableInterval is the polling interval for generation
	// stability; StableTimeout bounds the whole wait.
	StableInterval time.Duration
	StableTimeout  time.Duration
}

func (c Config) timeoutOrDefault() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 120 * time.Second
}

func (c Config) stableIntervalOrDefault() time.Duration {
	if c.StableInterval > 0 {
		return c.StableInterval
	}
	return 2 * time.Second
}

func (c Config) stableTimeoutOrDefault() time.Duration {
	if c.StableTimeout > 0 {
		return c.StableTimeout
	}
	return 180 * time.Second
}
