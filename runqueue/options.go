package runqueue

import (
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hupe1980/eve/logging"
)

// Config defines tuning parameters for the pool.
type Config struct {
	// Target is the number of workers allowed in the running set. Zero means
	// max(runtime.NumCPU(), MinCores).
	Target int

	// MinCores is the floor applied to the detected core count.
	MinCores int

	// ReserveSize caps the number of idle workers kept warm. Zero means Target.
	ReserveSize int

	// ScanInterval is the initial delay between pool scans.
	ScanInterval time.Duration

	// MinScanInterval and MaxScanInterval bound the self-tuning scan delay.
	// The delay halves after a scan that changed something and doubles after
	// one that did not.
	MinScanInterval time.Duration
	MaxScanInterval time.Duration
}

// DefaultConfig holds the compiled-in defaults.
var DefaultConfig = Config{
	MinCores:        4,
	ScanInterval:    100 * time.Millisecond,
	MinScanInterval: time.Millisecond,
	MaxScanInterval: 500 * time.Millisecond,
}

// Options configures a RunQueue using the functional options pattern.
//
// Example:
//
//	q := runqueue.New(func(o *runqueue.Options) {
//	    o.Config.Target = 8
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains the sizing and scan parameters. Defaults to DefaultConfig.
	Config Config

	// Logger receives drop warnings, worker failures and scan telemetry.
	// Defaults to logging.NoOpLogger.
	Logger logging.Logger

	// Clock drives the scan timer. Defaults to the wall clock.
	Clock clock.Clock

	// Sampler reports live worker states. Defaults to a sampler reading
	// goroutine states from runtime.Stack.
	Sampler StateSampler
}

func (c Config) normalized() Config {
	if c.MinCores <= 0 {
		c.MinCores = DefaultConfig.MinCores
	}
	if c.Target <= 0 {
		c.Target = max(runtime.NumCPU(), c.MinCores)
	}
	if c.ReserveSize <= 0 {
		c.ReserveSize = c.Target
	}
	if c.MinScanInterval <= 0 {
		c.MinScanInterval = DefaultConfig.MinScanInterval
	}
	if c.MaxScanInterval <= 0 {
		c.MaxScanInterval = DefaultConfig.MaxScanInterval
	}
	if c.MaxScanInterval < c.MinScanInterval {
		c.MaxScanInterval = c.MinScanInterval
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultConfig.ScanInterval
	}
	c.ScanInterval = min(max(c.ScanInterval, c.MinScanInterval), c.MaxScanInterval)
	return c
}

// nextInterval applies the adaptive scan policy.
func (c Config) nextInterval(cur time.Duration, changed bool) time.Duration {
	if changed {
		return max(cur/2, c.MinScanInterval)
	}
	return min(cur*2, c.MaxScanInterval)
}
