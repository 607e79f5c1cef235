package httpdrive

import (
	"sync/atomic"
	"time"
)

// Outcome classifies how a call ended, for CallCompleted.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeRedirectFailed Outcome = "redirect_failed"
	OutcomeFlowError      Outcome = "flow_error"
)

// Metrics is implemented by anything that wants to observe Driver activity.
// AgentConfig defaults to NewDefaultMetrics() when none is supplied via
// WithMetrics.
type Metrics interface {
	CallStarted()
	CallCompleted(outcome Outcome, d time.Duration)
	BytesTransmitted(n int64)
	BytesReceived(n int64)
	RedirectFollowed()
}

// DefaultMetrics implements Metrics with atomic in-process counters.
type DefaultMetrics struct {
	callsStarted        int64
	callsSuccess        int64
	callsTimeout        int64
	callsRedirectFailed int64
	callsFlowError      int64
	bytesTransmitted    int64
	bytesReceived       int64
	redirectsFollowed   int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) CallStarted() { atomic.AddInt64(&m.callsStarted, 1) }

func (m *DefaultMetrics) CallCompleted(outcome Outcome, _ time.Duration) {
	switch outcome {
	case OutcomeSuccess:
		atomic.AddInt64(&m.callsSuccess, 1)
	case OutcomeTimeout:
		atomic.AddInt64(&m.callsTimeout, 1)
	case OutcomeRedirectFailed:
		atomic.AddInt64(&m.callsRedirectFailed, 1)
	case OutcomeFlowError:
		atomic.AddInt64(&m.callsFlowError, 1)
	}
}

func (m *DefaultMetrics) BytesTransmitted(n int64) { atomic.AddInt64(&m.bytesTransmitted, n) }
func (m *DefaultMetrics) BytesReceived(n int64)    { atomic.AddInt64(&m.bytesReceived, n) }
func (m *DefaultMetrics) RedirectFollowed()        { atomic.AddInt64(&m.redirectsFollowed, 1) }

func (m *DefaultMetrics) GetCallsStarted() int64 { return atomic.LoadInt64(&m.callsStarted) }
func (m *DefaultMetrics) GetCallsSuccess() int64 { return atomic.LoadInt64(&m.callsSuccess) }
func (m *DefaultMetrics) GetCallsTimeout() int64 { return atomic.LoadInt64(&m.callsTimeout) }
func (m *DefaultMetrics) GetCallsRedirectFailed() int64 {
	return atomic.LoadInt64(&m.callsRedirectFailed)
}
func (m *DefaultMetrics) GetCallsFlowError() int64   { return atomic.LoadInt64(&m.callsFlowError) }
func (m *DefaultMetrics) GetBytesTransmitted() int64 { return atomic.LoadInt64(&m.bytesTransmitted) }
func (m *DefaultMetrics) GetBytesReceived() int64    { return atomic.LoadInt64(&m.bytesReceived) }
func (m *DefaultMetrics) GetRedirectsFollowed() int64 {
	return atomic.LoadInt64(&m.redirectsFollowed)
}
