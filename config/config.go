// Package config loads Eve host settings from YAML and maps them onto the
// functional options of the core packages.
//
// Example file:
//
//	runqueue:
//	  target: 8
//	  scan_interval: 100ms
//	inbox:
//	  proceed_timeout: 5s
//	logging:
//	  level: debug
//	  format: text
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hupe1980/eve"
	"github.com/hupe1980/eve/logging"
	"github.com/hupe1980/eve/runqueue"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for configurations that cannot be applied.
var ErrInvalid = errors.New("invalid configuration")

// RunQueue mirrors runqueue.Config. Zero values keep the compiled-in defaults.
type RunQueue struct {
	Target          int           `yaml:"target,omitempty"`
	MinCores        int           `yaml:"min_cores,omitempty"`
	ReserveSize     int           `yaml:"reserve_size,omitempty"`
	ScanInterval    time.Duration `yaml:"scan_interval,omitempty"`
	MinScanInterval time.Duration `yaml:"min_scan_interval,omitempty"`
	MaxScanInterval time.Duration `yaml:"max_scan_interval,omitempty"`
}

// Inbox holds per-agent sequencer settings.
type Inbox struct {
	ProceedTimeout time.Duration `yaml:"proceed_timeout,omitempty"`
}

// Logging selects level and handler format.
type Logging struct {
	Level     string `yaml:"level,omitempty"`
	Format    string `yaml:"format,omitempty"`
	AddSource bool   `yaml:"add_source,omitempty"`
}

// Config is the root document.
type Config struct {
	RunQueue RunQueue `yaml:"runqueue"`
	Inbox    Inbox    `yaml:"inbox"`
	Logging  Logging  `yaml:"logging"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	d := runqueue.DefaultConfig
	return Config{
		RunQueue: RunQueue{
			Target:          d.Target,
			MinCores:        d.MinCores,
			ReserveSize:     d.ReserveSize,
			ScanInterval:    d.ScanInterval,
			MinScanInterval: d.MinScanInterval,
			MaxScanInterval: d.MaxScanInterval,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads and validates a YAML file. Fields missing from the file keep
// their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML data on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects negative sizes, inverted scan bounds and unknown formats.
func (c Config) Validate() error {
	rq := c.RunQueue
	switch {
	case rq.Target < 0, rq.MinCores < 0, rq.ReserveSize < 0:
		return fmt.Errorf("%w: runqueue sizes must not be negative", ErrInvalid)
	case rq.ScanInterval < 0, rq.MinScanInterval < 0, rq.MaxScanInterval < 0:
		return fmt.Errorf("%w: runqueue scan intervals must not be negative", ErrInvalid)
	case rq.MinScanInterval > 0 && rq.MaxScanInterval > 0 && rq.MinScanInterval > rq.MaxScanInterval:
		return fmt.Errorf("%w: min_scan_interval %s exceeds max_scan_interval %s", ErrInvalid, rq.MinScanInterval, rq.MaxScanInterval)
	case c.Inbox.ProceedTimeout < 0:
		return fmt.Errorf("%w: inbox proceed_timeout must not be negative", ErrInvalid)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// RunQueueOptions returns an option function applying the run queue section.
func (c Config) RunQueueOptions() func(o *runqueue.Options) {
	return func(o *runqueue.Options) {
		o.Config = runqueue.Config{
			Target:          c.RunQueue.Target,
			MinCores:        c.RunQueue.MinCores,
			ReserveSize:     c.RunQueue.ReserveSize,
			ScanInterval:    c.RunQueue.ScanInterval,
			MinScanInterval: c.RunQueue.MinScanInterval,
			MaxScanInterval: c.RunQueue.MaxScanInterval,
		}
	}
}

// HostOptions returns an option function applying the run queue and inbox
// sections to an eve.Host. A nil logger keeps the host default.
func (c Config) HostOptions(logger logging.Logger) func(o *eve.Options) {
	return func(o *eve.Options) {
		var rq runqueue.Options
		c.RunQueueOptions()(&rq)
		o.RunQueueConfig = rq.Config
		o.ProceedTimeout = c.Inbox.ProceedTimeout
		if logger != nil {
			o.Logger = logger
		}
	}
}

// NewLogger builds the logger described by the logging section, writing to w.
func (c Config) NewLogger(w io.Writer) *logging.EveLogger {
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = logging.ParseLevel(c.Logging.Level)
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	cfg.AddSource = c.Logging.AddSource
	if w != nil {
		cfg.Output = w
	}
	return logging.NewLogger(cfg)
}
