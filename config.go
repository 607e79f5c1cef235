package httpdrive

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atsika/httpdrive/internal/flow"
)

const (
	// DefaultMaxRedirects is the redirect cap applied when WithMaxRedirects
	// is not used.
	DefaultMaxRedirects = 10
	// DefaultMaxResponseHeaderSize bounds a single Data chunk offered to the
	// driver while it is parsing the response status line and headers.
	DefaultMaxResponseHeaderSize = 1 << 20 // 1 MiB
)

// Timeouts configures the per-phase and global deadlines a Driver enforces.
// A zero Duration means "no timeout for this phase"; only the global
// deadline (if set) applies. See SPEC_FULL.md §4.5 for the anchor each
// phase's deadline is measured from.
type Timeouts struct {
	Global         time.Duration
	Resolver       time.Duration
	OpenConnection time.Duration
	SendRequest    time.Duration
	SendBody       time.Duration
	Await100       time.Duration
	RecvResponse   time.Duration
	RecvBody       time.Duration
}

// AgentConfig holds settings shared read-only across every Driver a caller
// creates. Build one with NewAgentConfig and functional options, mirroring
// the teacher's Option func(*Config) / applyConfig pattern.
type AgentConfig struct {
	maxRedirects          int
	maxResponseHeaderSize int
	redirectAuthHeaders   flow.RedirectAuthHeaders
	timeouts              Timeouts
	metrics               Metrics
	logger                *logrus.Logger
}

// Option configures an AgentConfig built via NewAgentConfig.
type Option func(*AgentConfig)

// Validate checks that the configuration is sane.
func (c *AgentConfig) Validate() error {
	if c.maxRedirects < 0 {
		return fmt.Errorf("httpdrive: max redirects must be >= 0, got %d", c.maxRedirects)
	}
	if c.maxResponseHeaderSize <= 0 {
		return fmt.Errorf("httpdrive: max response header size must be > 0, got %d", c.maxResponseHeaderSize)
	}
	return nil
}

// MaxRedirects returns the configured redirect cap.
func (c *AgentConfig) MaxRedirects() int { return c.maxRedirects }

// MaxResponseHeaderSize returns the configured response header size limit.
func (c *AgentConfig) MaxResponseHeaderSize() int { return c.maxResponseHeaderSize }

// RedirectAuthHeaders returns the configured auth-header redirect policy.
func (c *AgentConfig) RedirectAuthHeaders() flow.RedirectAuthHeaders { return c.redirectAuthHeaders }

// Timeouts returns the default Timeouts new Drivers should be built with.
func (c *AgentConfig) Timeouts() Timeouts { return c.timeouts }

// Metrics returns the configured metrics sink.
func (c *AgentConfig) Metrics() Metrics { return c.metrics }

// Logger returns the configured debug-trace logger, or nil for none.
func (c *AgentConfig) Logger() *logrus.Logger { return c.logger }

func defaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		maxRedirects:          DefaultMaxRedirects,
		maxResponseHeaderSize: DefaultMaxResponseHeaderSize,
		redirectAuthHeaders:   flow.RedirectAuthHeadersSameHost,
		metrics:               NewDefaultMetrics(),
	}
}

// NewAgentConfig builds an AgentConfig by applying opts on top of library
// defaults, the same two-step shape as the teacher's defaultConfig() +
// applyConfig(opts).
func NewAgentConfig(opts ...Option) (*AgentConfig, error) {
	cfg := defaultAgentConfig()
	for _, o := range opts {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithMaxRedirects sets the redirect cap. Negative values are ignored.
func WithMaxRedirects(n int) Option {
	return func(c *AgentConfig) {
		if n >= 0 {
			c.maxRedirects = n
		}
	}
}

// WithMaxResponseHeaderSize sets the response header chunk size limit.
// Non-positive values are ignored.
func WithMaxResponseHeaderSize(n int) Option {
	return func(c *AgentConfig) {
		if n > 0 {
			c.maxResponseHeaderSize = n
		}
	}
}

// WithRedirectAuthHeaders sets the policy for carrying Authorization-class
// headers across a redirect.
func WithRedirectAuthHeaders(p flow.RedirectAuthHeaders) Option {
	return func(c *AgentConfig) { c.redirectAuthHeaders = p }
}

// WithTimeouts replaces the default Timeouts new Drivers are built with.
func WithTimeouts(t Timeouts) Option {
	return func(c *AgentConfig) { c.timeouts = t }
}

// WithGlobalTimeout sets only the global deadline, leaving per-phase
// timeouts untouched.
func WithGlobalTimeout(d time.Duration) Option {
	return func(c *AgentConfig) { c.timeouts.Global = d }
}

// WithMetrics sets a custom metrics sink. A nil value is ignored; the
// default is a fresh DefaultMetrics.
func WithMetrics(m Metrics) Option {
	return func(c *AgentConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger enables phase-transition debug tracing through l. A nil logger
// (the default) disables tracing entirely.
func WithLogger(l *logrus.Logger) Option {
	return func(c *AgentConfig) { c.logger = l }
}
