package httpdrive

import (
	"fmt"
	"net/url"
	"time"

	"github.com/atsika/httpdrive/internal/flow"
)

// Event is a single instruction a Driver hands the caller: perform some I/O,
// or accept a parsed response. The concrete types below are the only
// implementations; callers type-switch on the value returned from PollEvent.
type Event interface {
	isEvent()
	fmt.Stringer
}

// EventReset tells the caller the connection is either free to reuse
// (MustClose false) or must be torn down before the driver proceeds.
type EventReset struct{ MustClose bool }

// EventPrepare asks the caller to perform request preparation (e.g. apply
// default headers) against uri before signaling Input.Prepared.
type EventPrepare struct{ URI *url.URL }

// EventResolve asks the caller to resolve URI's host within Timeout.
type EventResolve struct {
	URI     *url.URL
	Timeout time.Duration
}

// EventOpenConnection asks the caller to open a connection to URI within Timeout.
type EventOpenConnection struct {
	URI     *url.URL
	Timeout time.Duration
}

// EventAwait100 asks the caller to wait up to Timeout for an interim
// 100-Continue status before sending the request body regardless.
type EventAwait100 struct{ Timeout time.Duration }

// EventTransmit asks the caller to write the first Amount bytes of the
// output buffer to the connection within Timeout.
type EventTransmit struct {
	Amount  int
	Timeout time.Duration
}

// EventAwaitInput asks the caller to read from the connection within Timeout
// and feed the bytes back as Input.Data.
type EventAwaitInput struct{ Timeout time.Duration }

// EventResponse delivers a parsed response. End reports whether this is the
// final response the caller will see for this call (no further redirects).
type EventResponse struct {
	Response *flow.Response
	End      bool
}

// EventResponseBody reports that Amount bytes of response body were decoded
// into the output slice passed to the triggering HandleInput call.
type EventResponseBody struct{ Amount int }

func (EventReset) isEvent()         {}
func (EventPrepare) isEvent()       {}
func (EventResolve) isEvent()       {}
func (EventOpenConnection) isEvent() {}
func (EventAwait100) isEvent()      {}
func (EventTransmit) isEvent()      {}
func (EventAwaitInput) isEvent()    {}
func (EventResponse) isEvent()      {}
func (EventResponseBody) isEvent()  {}

func (e EventReset) String() string { return fmt.Sprintf("Reset{must_close:%v}", e.MustClose) }
func (e EventPrepare) String() string {
	return fmt.Sprintf("Prepare{uri:%s}", e.URI)
}
func (e EventResolve) String() string {
	return fmt.Sprintf("Resolve{uri:%s timeout:%s}", e.URI, e.Timeout)
}
func (e EventOpenConnection) String() string {
	return fmt.Sprintf("OpenConnection{uri:%s timeout:%s}", e.URI, e.Timeout)
}
func (e EventAwait100) String() string { return fmt.Sprintf("Await100{timeout:%s}", e.Timeout) }
func (e EventTransmit) String() string {
	return fmt.Sprintf("Transmit{amount:%d timeout:%s}", e.Amount, e.Timeout)
}
func (e EventAwaitInput) String() string { return fmt.Sprintf("AwaitInput{timeout:%s}", e.Timeout) }
func (e EventResponse) String() string {
	status := 0
	if e.Response != nil {
		status = e.Response.StatusCode
	}
	return fmt.Sprintf("Response{status:%d end:%v}", status, e.End)
}
func (e EventResponseBody) String() string { return fmt.Sprintf("ResponseBody{amount:%d}", e.Amount) }

// Input is a single value the caller feeds back into a Driver in response to
// an Event it previously emitted, or Begin to start the call.
type Input interface {
	isInput()
	fmt.Stringer
}

// InputBegin starts the call; valid only while the phase is PhaseBegin.
type InputBegin struct{}

// InputHeader appends a request header; valid only while the phase is PhasePrepare.
type InputHeader struct{ Name, Value string }

// InputPrepared signals preparation is complete; valid only in PhasePrepare.
type InputPrepared struct{}

// InputResolved signals DNS resolution succeeded; valid only in PhaseResolve.
type InputResolved struct{}

// InputConnectionOpen signals a connection is ready; valid only in PhaseOpenConnection.
type InputConnectionOpen struct{}

// InputEndAwait100 signals the caller gave up waiting for 100-Continue.
type InputEndAwait100 struct{}

// InputData delivers bytes read from the connection.
type InputData struct{ Bytes []byte }

func (InputBegin) isInput()          {}
func (InputHeader) isInput()         {}
func (InputPrepared) isInput()       {}
func (InputResolved) isInput()       {}
func (InputConnectionOpen) isInput() {}
func (InputEndAwait100) isInput()    {}
func (InputData) isInput()           {}

func (InputBegin) String() string    { return "Begin" }
func (i InputHeader) String() string { return fmt.Sprintf("Header{%s: %s}", i.Name, i.Value) }
func (InputPrepared) String() string { return "Prepared" }
func (InputResolved) String() string { return "Resolved" }
func (InputConnectionOpen) String() string { return "ConnectionOpen" }
func (InputEndAwait100) String() string    { return "EndAwait100" }
func (i InputData) String() string         { return fmt.Sprintf("Data{%d bytes}", len(i.Bytes)) }

// TimeoutReason localizes which deadline a Timeout error came from.
type TimeoutReason int

const (
	ReasonGlobal TimeoutReason = iota
	ReasonResolver
	ReasonOpenConnection
	ReasonSendRequest
	ReasonSendBody
	ReasonAwait100
	ReasonRecvResponse
	ReasonRecvBody
)

func (r TimeoutReason) String() string {
	switch r {
	case ReasonGlobal:
		return "global"
	case ReasonResolver:
		return "resolver"
	case ReasonOpenConnection:
		return "open_connection"
	case ReasonSendRequest:
		return "send_request"
	case ReasonSendBody:
		return "send_body"
	case ReasonAwait100:
		return "await_100"
	case ReasonRecvResponse:
		return "recv_response"
	case ReasonRecvBody:
		return "recv_body"
	default:
		return "unknown"
	}
}

// NextTimeout is the deadline the caller must enforce on the I/O it performs
// in response to the next Event.
type NextTimeout struct {
	After  time.Duration
	Reason TimeoutReason
}

// Buffers are the byte slices a Driver reads and writes during one call. The
// caller owns the backing arrays and must not mutate them concurrently with
// a PollEvent/HandleInput call. Sizes are configuration-bounded by the
// caller, not the Driver.
type Buffers struct {
	// Output receives serialized request bytes (headers, body) for Transmit
	// events, and is otherwise unused.
	Output []byte
	// Temp is scratch space used to stage outgoing body bytes before chunk
	// framing; must be strictly larger than the flow's worst-case framing
	// overhead for len(Output).
	Temp []byte
}
