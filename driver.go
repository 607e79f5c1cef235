// Package httpdrive implements a sans-I/O HTTP/1.1 client call driver: a
// deterministic state machine that turns one HTTP request into a sequence of
// Events a caller must service (resolve DNS, open a connection, transmit
// bytes, await input) and Inputs the caller feeds back. The driver never
// touches sockets, clocks, or DNS itself - see package agent for a reference
// caller that does.
package httpdrive

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/atsika/httpdrive/internal/flow"
)

// Driver owns the full lifecycle of one HTTP/1.1 call, including its
// outgoing body reader. It is not safe for concurrent use; exactly one
// goroutine should own a Driver at a time.
type Driver struct {
	cfg         *AgentConfig
	timeouts    Timeouts
	globalStart time.Time

	timings CallTimings

	phase     Phase
	prevPhase Phase

	fl   *flow.Flow
	body io.Reader

	bodyEnded      bool
	chunkFinalSent bool
	awaitingRedirect bool

	deferred []Event

	redirectCount int

	callID string
}

// NewDriver constructs a Driver for request req with optional outgoing body,
// ready to run starting from phase Begin. globalStart anchors the global
// timeout in timeouts; it is ordinarily time.Now() but is a parameter so
// tests can control it precisely.
func NewDriver(cfg *AgentConfig, timeouts Timeouts, globalStart time.Time, req flow.Request, body io.Reader) (*Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("httpdrive: nil AgentConfig")
	}
	fl, err := flow.New(req)
	if err != nil {
		return nil, wrapFlowErr(err)
	}
	return &Driver{
		cfg:         cfg,
		timeouts:    timeouts,
		globalStart: globalStart,
		phase:       PhaseBegin,
		prevPhase:   PhaseBegin,
		fl:          fl,
		body:        body,
		callID:      uuid.New().String(),
	}, nil
}

// Phase returns the driver's current phase. Never phaseEmpty across a call
// boundary.
func (d *Driver) Phase() Phase { return d.phase }

// CallTimings returns a copy of the timestamps recorded so far for the
// current leg.
func (d *Driver) CallTimings() CallTimings { return d.timings }

// FakeRequest is a header/URI/method snapshot of the in-flight request,
// available once the phase reaches SendRequest, for inspection and testing.
type FakeRequest struct {
	Method  string
	URI     *url.URL
	Version string
	Header  http.Header
}

func (r FakeRequest) String() string {
	return fmt.Sprintf("%s %s %s %v", r.Method, r.URI, r.Version, r.Header)
}

// FakeRequest snapshots the request as currently frozen in the flow.
func (d *Driver) FakeRequest() FakeRequest {
	return FakeRequest{
		Method:  d.fl.Method(),
		URI:     d.fl.URI(),
		Version: d.fl.Version(),
		Header:  d.fl.HeadersMap(),
	}
}

// BodyMode reports the response body framing; meaningful once the phase has
// reached RecvBody.
func (d *Driver) BodyMode() flow.BodyMode { return d.fl.BodyMode() }

// ReleaseBody drops the driver's reference to the outgoing body reader and
// returns a RecvDriver restricted to receive-phase inputs. Valid once the
// phase has reached RecvBody, Redirect, or Cleanup; calling it earlier is a
// programmer error since a redirect that preserves the request method may
// still need to replay the body.
func (d *Driver) ReleaseBody() *RecvDriver {
	d.body = nil
	return &RecvDriver{d: d}
}

// RecvDriver is a Driver with its outgoing body reference released. It
// exposes the same poll/input surface; the phase-validity checks inside
// HandleInput are what actually prevent send-phase inputs from being fed to
// it, matching the teacher's runtime-checked rather than type-checked
// preconditions.
type RecvDriver struct{ d *Driver }

func (r *RecvDriver) Phase() Phase             { return r.d.Phase() }
func (r *RecvDriver) CallTimings() CallTimings { return r.d.CallTimings() }
func (r *RecvDriver) BodyMode() flow.BodyMode  { return r.d.BodyMode() }
func (r *RecvDriver) FakeRequest() FakeRequest { return r.d.FakeRequest() }

func (r *RecvDriver) PollEvent(now time.Time, buffers *Buffers) (Event, error) {
	return r.d.PollEvent(now, buffers)
}

func (r *RecvDriver) HandleInput(now time.Time, in Input, output []byte) (int, error) {
	return r.d.HandleInput(now, in, output)
}

func (d *Driver) setPhase(p Phase) {
	prev := d.phase
	d.phase = p
	if d.cfg.logger != nil && prev != p {
		d.cfg.logger.WithFields(map[string]interface{}{
			"from":    prev.String(),
			"to":      p.String(),
			"call_id": d.callID,
		}).Debug("httpdrive: phase transition")
	}
	d.prevPhase = prev
}

// PollEvent advances the FSM as far as it can purely by deciding/writing and
// returns the single next Event the caller must service.
func (d *Driver) PollEvent(now time.Time, buffers *Buffers) (Event, error) {
	if len(d.deferred) > 0 {
		ev := d.deferred[0]
		d.deferred = d.deferred[1:]
		return ev, nil
	}

	nt, haveDeadline := d.nextTimeout(now)
	if haveDeadline && nt.After <= 0 {
		return nil, errTimeout(nt.Reason)
	}
	var timeout time.Duration
	if haveDeadline {
		timeout = nt.After
	}

	switch d.phase {
	case PhaseBegin:
		return EventReset{MustClose: false}, nil

	case PhasePrepare:
		return EventPrepare{URI: d.fl.URI()}, nil

	case PhaseResolve:
		return EventResolve{URI: d.fl.URI(), Timeout: timeout}, nil

	case PhaseOpenConnection:
		return EventOpenConnection{URI: d.fl.URI(), Timeout: timeout}, nil

	case PhaseSendRequest:
		n, err := d.fl.Write(buffers.Output)
		if err != nil {
			return nil, wrapFlowErr(err)
		}
		if d.fl.CanProceedRequest() {
			d.timings.SendRequest = ptrTime(now)
			d.advanceAfterSendRequest()
		}
		return EventTransmit{Amount: n, Timeout: timeout}, nil

	case PhaseSendBody:
		return d.pollSendBody(now, buffers, timeout)

	case PhaseAwait100:
		return EventAwait100{Timeout: timeout}, nil

	case PhaseRecvResponse, PhaseRecvBody:
		return EventAwaitInput{Timeout: timeout}, nil

	case PhaseRedirect:
		return d.pollRedirect()

	case PhaseCleanup:
		return EventReset{MustClose: d.fl.MustCloseConnection()}, nil

	default:
		panic("httpdrive: PollEvent called in phase " + d.phase.String())
	}
}

// advanceAfterSendRequest chooses the phase following SendRequest once all
// header bytes have flushed: Await100 if the request has a body and
// advertised Expect: 100-continue, SendBody if it has a body without that
// header, otherwise straight to RecvResponse.
func (d *Driver) advanceAfterSendRequest() {
	switch {
	case d.fl.HasBody() && d.fl.ExpectContinue():
		d.setPhase(PhaseAwait100)
	case d.fl.HasBody():
		d.setPhase(PhaseSendBody)
	default:
		d.setPhase(PhaseRecvResponse)
	}
}

// advanceAfterAwait100 is the shared transition used whether the wait ends
// because the caller gave up, a 100 arrived, or the server's final response
// arrived instead of an interim 100 (in which case sending the body would be
// pointless, so RecvResponse parses the already-buffered status line).
func (d *Driver) advanceAfterAwait100() {
	if d.fl.AwaitClosed() {
		d.setPhase(PhaseRecvResponse)
	} else {
		d.setPhase(PhaseSendBody)
	}
}

// pollSendBody implements §4.3: direct writes for Content-Length framing,
// chunk-encoded writes (via the temp scratch buffer) for chunked framing.
func (d *Driver) pollSendBody(now time.Time, buffers *Buffers, timeout time.Duration) (Event, error) {
	var n int

	switch d.fl.SendBodyMode() {
	case flow.BodyModeChunked:
		if d.bodyEnded {
			fn, err := d.fl.FinalChunk(buffers.Output)
			if err != nil {
				return nil, wrapFlowErr(err)
			}
			n = fn
			d.chunkFinalSent = true
		} else {
			overhead, err := d.fl.CalculateOutputOverhead(len(buffers.Output))
			if err != nil {
				return nil, wrapFlowErr(err)
			}
			if len(buffers.Temp) <= overhead {
				return nil, fmt.Errorf("httpdrive: temp buffer (%d bytes) must exceed chunk framing overhead (%d bytes) for an output buffer of %d bytes", len(buffers.Temp), overhead, len(buffers.Output))
			}
			tmpCap := len(buffers.Temp) - overhead
			if outCap := len(buffers.Output) - overhead; outCap < tmpCap {
				tmpCap = outCap
			}
			if tmpCap <= 0 {
				return nil, fmt.Errorf("httpdrive: output buffer (%d bytes) must exceed chunk framing overhead (%d bytes)", len(buffers.Output), overhead)
			}
			read, rerr := d.readBody(buffers.Temp[:tmpCap])
			if rerr != nil && !errors.Is(rerr, io.EOF) {
				return nil, rerr
			}
			if read > 0 {
				_, usedOut, werr := d.fl.WriteBody(buffers.Temp[:read], buffers.Output)
				if werr != nil {
					return nil, wrapFlowErr(werr)
				}
				n = usedOut
			}
		}
	case flow.BodyModeLengthDelimited:
		read, rerr := d.readBody(buffers.Output)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return nil, rerr
		}
		if read > 0 {
			if cerr := d.fl.ConsumeDirectWrite(read); cerr != nil {
				return nil, wrapFlowErr(cerr)
			}
		}
		n = read
	default:
		d.bodyEnded = true
	}

	if d.cfg.metrics != nil && n > 0 {
		d.cfg.metrics.BytesTransmitted(int64(n))
	}

	proceed := d.fl.CanProceedSendBody() ||
		(d.fl.SendBodyMode() == flow.BodyModeChunked && d.chunkFinalSent) ||
		(d.fl.SendBodyMode() != flow.BodyModeChunked && d.bodyEnded)
	if proceed {
		d.timings.SendBody = ptrTime(now)
		d.setPhase(PhaseRecvResponse)
	}

	return EventTransmit{Amount: n, Timeout: timeout}, nil
}

// readBody pulls from the outgoing body reader, tracking EOF so subsequent
// polls know the body is exhausted even if the reader returns (0, io.EOF)
// once and nothing more.
func (d *Driver) readBody(p []byte) (int, error) {
	if d.body == nil {
		d.bodyEnded = true
		return 0, io.EOF
	}
	n, err := d.body.Read(p)
	if errors.Is(err, io.EOF) {
		d.bodyEnded = true
	}
	return n, err
}

// pollRedirect derives the next leg's request from the last response and
// re-enters Begin, per §4.2 step 3's Redirect case.
func (d *Driver) pollRedirect() (Event, error) {
	mustClose := d.fl.MustCloseConnection()
	newFlow, err := d.fl.AsNewFlow(d.cfg.redirectAuthHeaders)
	if err != nil {
		return nil, errRedirectFailed(err)
	}
	if d.cfg.metrics != nil {
		d.cfg.metrics.RedirectFollowed()
	}
	d.fl = newFlow
	d.awaitingRedirect = false
	d.bodyEnded = false
	d.chunkFinalSent = false
	d.timings = CallTimings{}
	d.setPhase(PhaseBegin)
	return EventReset{MustClose: mustClose}, nil
}

// HandleInput feeds a single Input to the FSM. output is only written in the
// Data->RecvBody path; every other input returns 0. The returned int is the
// number of input bytes the driver consumed, so the caller can retain any
// remainder.
func (d *Driver) HandleInput(now time.Time, in Input, output []byte) (int, error) {
	switch v := in.(type) {
	case InputBegin:
		d.mustBeIn(PhaseBegin, in)
		d.timings.CallStart = ptrTime(now)
		d.setPhase(PhasePrepare)
		return 0, nil

	case InputHeader:
		d.mustBeIn(PhasePrepare, in)
		if err := d.fl.Header(v.Name, v.Value); err != nil {
			return 0, wrapFlowErr(err)
		}
		return 0, nil

	case InputPrepared:
		d.mustBeIn(PhasePrepare, in)
		d.timings.CallStart = ptrTime(now)
		d.setPhase(PhaseResolve)
		return 0, nil

	case InputResolved:
		d.mustBeIn(PhaseResolve, in)
		d.timings.Resolve = ptrTime(now)
		d.setPhase(PhaseOpenConnection)
		return 0, nil

	case InputConnectionOpen:
		d.mustBeIn(PhaseOpenConnection, in)
		d.timings.Connect = ptrTime(now)
		if err := d.fl.Freeze(); err != nil {
			return 0, wrapFlowErr(err)
		}
		d.setPhase(PhaseSendRequest)
		return 0, nil

	case InputEndAwait100:
		d.mustBeIn(PhaseAwait100, in)
		d.timings.Await100 = ptrTime(now)
		d.advanceAfterAwait100()
		return 0, nil

	case InputData:
		return d.handleData(now, v.Bytes, output)

	default:
		panic(fmt.Sprintf("httpdrive: unrecognized input %T", in))
	}
}

func (d *Driver) mustBeIn(want Phase, in Input) {
	if d.phase != want {
		panic(fmt.Sprintf("httpdrive: input %v invalid in phase %s (want %s)", in, d.phase, want))
	}
}

func (d *Driver) handleData(now time.Time, in []byte, output []byte) (int, error) {
	switch d.phase {
	case PhaseAwait100:
		if len(in) == 0 {
			return 0, ErrDisconnected
		}
		used, err := d.fl.TryRead100(in)
		if err != nil {
			return used, wrapFlowErr(err)
		}
		if !d.fl.CanKeepAwait100() {
			d.timings.Await100 = ptrTime(now)
			d.advanceAfterAwait100()
		}
		return used, nil

	case PhaseRecvResponse:
		if len(in) == 0 {
			return 0, ErrDisconnected
		}
		if len(in) > d.cfg.maxResponseHeaderSize {
			return 0, errLargeResponseHeader(len(in), d.cfg.maxResponseHeaderSize)
		}
		used, resp, err := d.fl.TryResponse(in)
		if err != nil {
			return used, wrapFlowErr(err)
		}
		if resp == nil {
			return used, nil
		}

		isRedirect := resp.IsRedirection()
		if isRedirect {
			d.redirectCount++
		}
		end := !isRedirect || d.redirectCount >= d.cfg.maxRedirects
		d.awaitingRedirect = isRedirect && !end

		d.deferred = append(d.deferred, EventResponse{Response: resp, End: end})
		d.timings.RecvResponse = ptrTime(now)

		if d.fl.BodyMode() == flow.BodyModeNone {
			d.finishRecv()
		} else {
			d.setPhase(PhaseRecvBody)
		}
		return used, nil

	case PhaseRecvBody:
		usedIn, usedOut, err := d.fl.ReadBody(in, output)
		if err != nil {
			return usedIn, wrapFlowErr(err)
		}
		if d.cfg.metrics != nil && usedOut > 0 {
			d.cfg.metrics.BytesReceived(int64(usedOut))
		}
		d.deferred = append(d.deferred, EventResponseBody{Amount: usedOut})
		if d.fl.CanProceedRecvBody() {
			d.timings.RecvBody = ptrTime(now)
			d.finishRecv()
		}
		return usedIn, nil

	default:
		return 0, nil
	}
}

// finishRecv decides the phase following a fully-consumed response (with or
// without a body): Redirect if the response was a redirection within the
// configured cap, Cleanup otherwise.
func (d *Driver) finishRecv() {
	if d.awaitingRedirect {
		d.setPhase(PhaseRedirect)
	} else {
		d.setPhase(PhaseCleanup)
	}
}

// nextTimeout derives the deadline the caller must enforce on the I/O it
// performs in response to the next Event, per §4.5. The bool return reports
// whether any deadline applies at all (false only when neither a per-phase
// nor a global timeout is configured for the current phase).
func (d *Driver) nextTimeout(now time.Time) (NextTimeout, bool) {
	var anchor *time.Time
	var reason TimeoutReason
	var perPhase time.Duration

	switch d.phase {
	case PhaseResolve:
		anchor, reason, perPhase = d.timings.CallStart, ReasonResolver, d.timeouts.Resolver
	case PhaseOpenConnection:
		anchor, reason, perPhase = d.timings.Resolve, ReasonOpenConnection, d.timeouts.OpenConnection
	case PhaseSendRequest:
		anchor, reason, perPhase = d.timings.Connect, ReasonSendRequest, d.timeouts.SendRequest
	case PhaseSendBody:
		anchor, reason, perPhase = d.timings.SendRequest, ReasonSendBody, d.timeouts.SendBody
	case PhaseAwait100:
		anchor, reason, perPhase = d.timings.SendRequest, ReasonAwait100, d.timeouts.Await100
	case PhaseRecvResponse:
		anchor = firstSet(d.timings.SendBody, d.timings.Await100, d.timings.SendRequest)
		reason, perPhase = ReasonRecvResponse, d.timeouts.RecvResponse
	case PhaseRecvBody:
		anchor, reason, perPhase = d.timings.RecvResponse, ReasonRecvBody, d.timeouts.RecvBody
	}

	var callRemaining time.Duration
	haveCall := anchor != nil && perPhase > 0
	if haveCall {
		callRemaining = anchor.Add(perPhase).Sub(now)
		if callRemaining < 0 {
			callRemaining = 0
		}
	}

	var globalRemaining time.Duration
	haveGlobal := d.timeouts.Global > 0
	if haveGlobal {
		globalRemaining = d.globalStart.Add(d.timeouts.Global).Sub(now)
		if globalRemaining < 0 {
			globalRemaining = 0
		}
	}

	switch {
	case haveCall && haveGlobal:
		if globalRemaining <= callRemaining {
			return NextTimeout{After: globalRemaining, Reason: ReasonGlobal}, true
		}
		return NextTimeout{After: callRemaining, Reason: reason}, true
	case haveCall:
		return NextTimeout{After: callRemaining, Reason: reason}, true
	case haveGlobal:
		return NextTimeout{After: globalRemaining, Reason: ReasonGlobal}, true
	default:
		return NextTimeout{}, false
	}
}
