package agent

import (
	"crypto/tls"
	"net"
	"time"
)

const (
	// DefaultFastPoll is the initial connection-acquisition retry interval.
	DefaultFastPoll = 2 * time.Millisecond
	// DefaultSteadyPoll is the backoff ceiling for connection-acquisition retries.
	DefaultSteadyPoll = 50 * time.Millisecond
	// DefaultIdleTimeout bounds how long a pooled connection may sit unused
	// before the janitor closes it.
	DefaultIdleTimeout = 90 * time.Second
	// DefaultOutputBufferSize sizes the Driver's outgoing scratch buffer.
	DefaultOutputBufferSize = 32 * 1024
	// DefaultTempBufferSize sizes the Driver's chunk-framing scratch buffer.
	DefaultTempBufferSize = DefaultOutputBufferSize + 64
	// DefaultReadBufferSize sizes the buffer used to read connection bytes.
	DefaultReadBufferSize = 32 * 1024
)

// Config holds the settings of an Agent, built with New and functional
// options mirroring the teacher's Option func(*Config) shape.
type Config struct {
	dialer    *net.Dialer
	tlsConfig *tls.Config

	idleTimeout time.Duration
	fastPoll    time.Duration
	steadyPoll  time.Duration

	outputBufferSize int
	tempBufferSize   int
	readBufferSize   int
}

// Option configures a Config built via New.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		dialer:           &net.Dialer{Timeout: 10 * time.Second},
		tlsConfig:        &tls.Config{MinVersion: tls.VersionTLS12},
		idleTimeout:      DefaultIdleTimeout,
		fastPoll:         DefaultFastPoll,
		steadyPoll:       DefaultSteadyPoll,
		outputBufferSize: DefaultOutputBufferSize,
		tempBufferSize:   DefaultTempBufferSize,
		readBufferSize:   DefaultReadBufferSize,
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithDialer overrides the net.Dialer used to open new connections.
func WithDialer(d *net.Dialer) Option {
	return func(c *Config) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithTLSConfig overrides the tls.Config used for https:// targets.
func WithTLSConfig(t *tls.Config) Option {
	return func(c *Config) {
		if t != nil {
			c.tlsConfig = t
		}
	}
}

// WithIdleTimeout sets how long an unused pooled connection is kept alive.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithFastPoll sets the initial connection-acquisition retry interval.
func WithFastPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.fastPoll = d
		}
	}
}

// WithSteadyPoll sets the connection-acquisition retry backoff ceiling.
func WithSteadyPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.steadyPoll = d
		}
	}
}

// WithOutputBufferSize sets the size of the Driver's outgoing scratch buffer.
func WithOutputBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.outputBufferSize = n
			c.tempBufferSize = n + 64
		}
	}
}

// WithReadBufferSize sets the size of the buffer used to read connection bytes.
func WithReadBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.readBufferSize = n
		}
	}
}
