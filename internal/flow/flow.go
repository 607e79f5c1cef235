// Package flow implements the HTTP/1.1 wire codec the driver orchestrates:
// request-line/header serialization, chunked and length-delimited body
// framing, status-line/header parsing, and redirect derivation. It knows
// nothing about sockets, DNS, or clocks - it only ever sees byte slices
// handed to it by the driver.
package flow

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// BodyMode describes how a message body is framed on the wire.
type BodyMode int

const (
	// BodyModeNone means the message has no body at all.
	BodyModeNone BodyMode = iota
	// BodyModeLengthDelimited means the body is exactly Content-Length bytes.
	BodyModeLengthDelimited
	// BodyModeChunked means the body uses chunked transfer-encoding.
	BodyModeChunked
	// BodyModeCloseDelimited means the body runs until the connection closes.
	BodyModeCloseDelimited
)

func (m BodyMode) String() string {
	switch m {
	case BodyModeNone:
		return "none"
	case BodyModeLengthDelimited:
		return "length-delimited"
	case BodyModeChunked:
		return "chunked"
	case BodyModeCloseDelimited:
		return "close-delimited"
	default:
		return "unknown"
	}
}

// RedirectAuthHeaders controls whether Authorization-class headers survive
// a redirect to a different host.
type RedirectAuthHeaders int

const (
	// RedirectAuthHeadersNever strips auth headers on any redirect.
	RedirectAuthHeadersNever RedirectAuthHeaders = iota
	// RedirectAuthHeadersSameHost keeps auth headers only when the redirect
	// target shares the same host as the original request.
	RedirectAuthHeadersSameHost
)

// authHeaderNames lists the headers stripped per RedirectAuthHeaders policy.
var authHeaderNames = []string{"Authorization", "Proxy-Authorization", "Cookie"}

// Request is the immutable request shape a Flow is built from. It is
// intentionally narrower than http.Request: the driver only ever needs
// method, target, and headers, never a body (that travels separately).
type Request struct {
	Method        string
	URI           *url.URL
	Header        http.Header
	HasBody       bool
	ContentLength int64 // -1 means unknown (forces chunked framing)
}

// Response is the header-only view of a parsed HTTP response; the body is
// delivered separately via ResponseBody events.
type Response struct {
	StatusCode int
	Status     string
	Proto      string
	Header     http.Header
}

// IsRedirection reports whether the status is in the 3xx class.
func (r *Response) IsRedirection() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Flow is the stateful wire adapter for one HTTP/1.1 call. A single Flow
// instance is threaded through every send/recv phase of a call; the driver
// is responsible for only calling the methods valid for its current phase.
type Flow struct {
	method string
	uri    *url.URL
	proto  string
	header http.Header

	hasBody       bool
	contentLength int64 // -1 if unknown

	// send-request serialization
	frozen     bool
	reqWire    []byte
	reqWritten int

	expectContinue bool
	sendBodyMode   BodyMode
	bodyWritten    int64

	// recv-response parsing
	response    *Response
	recvBuf     []byte
	got100      bool
	awaitClosed bool

	// recv-body decode
	recvBodyMode    BodyMode
	remainingLength int64
	chunkDec        chunkDecoder
	bodyDone        bool

	mustClose bool
}

// New builds a Flow from a frozen request shape. Headers may still be
// appended via Header until Freeze is called.
func New(req Request) (*Flow, error) {
	if req.Method == "" {
		return nil, fmt.Errorf("flow: empty method")
	}
	if req.URI == nil {
		return nil, fmt.Errorf("flow: nil uri")
	}
	h := req.Header
	if h == nil {
		h = make(http.Header)
	}
	return &Flow{
		method:         req.Method,
		uri:            req.URI,
		proto:          "HTTP/1.1",
		header:         h,
		hasBody:        req.HasBody,
		contentLength:  req.ContentLength,
		expectContinue: strings.EqualFold(h.Get("Expect"), "100-continue"),
	}, nil
}

// Header appends a request header. Valid only before Freeze.
func (f *Flow) Header(name, value string) error {
	if f.frozen {
		return fmt.Errorf("flow: cannot add header %q after request is frozen", name)
	}
	if name == "" {
		return fmt.Errorf("flow: empty header name")
	}
	f.header.Add(name, value)
	if strings.EqualFold(name, "Expect") && strings.EqualFold(value, "100-continue") {
		f.expectContinue = true
	}
	return nil
}

// Method returns the request method.
func (f *Flow) Method() string { return f.method }

// URI returns the request target.
func (f *Flow) URI() *url.URL { return f.uri }

// Version returns the wire protocol version string.
func (f *Flow) Version() string { return f.proto }

// HeadersMap returns the accumulated request headers.
func (f *Flow) HeadersMap() http.Header { return f.header }

// Freeze finalizes the request headers and serializes the request line and
// header block. Called once, on the OpenConnection -> SendRequest transition.
func (f *Flow) Freeze() error {
	if f.frozen {
		return nil
	}
	f.frozen = true

	if f.hasBody {
		if f.contentLength >= 0 {
			f.sendBodyMode = BodyModeLengthDelimited
			f.header.Set("Content-Length", strconv.FormatInt(f.contentLength, 10))
		} else {
			f.sendBodyMode = BodyModeChunked
			f.header.Set("Transfer-Encoding", "chunked")
		}
	} else {
		f.sendBodyMode = BodyModeNone
	}

	if f.expectContinue {
		f.header.Set("Expect", "100-continue")
	}

	var buf bytes.Buffer
	requestTarget := f.uri.RequestURI()
	fmt.Fprintf(&buf, "%s %s %s\r\n", f.method, requestTarget, f.proto)
	if f.header.Get("Host") == "" {
		fmt.Fprintf(&buf, "Host: %s\r\n", f.uri.Host)
	}
	for name, values := range f.header {
		for _, v := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, v)
		}
	}
	buf.WriteString("\r\n")

	f.reqWire = buf.Bytes()
	return nil
}

// Write copies as many serialized header bytes as fit into output.
func (f *Flow) Write(output []byte) (int, error) {
	n := copy(output, f.reqWire[f.reqWritten:])
	f.reqWritten += n
	return n, nil
}

// CanProceedRequest reports whether all header bytes have been flushed.
func (f *Flow) CanProceedRequest() bool {
	return f.reqWritten >= len(f.reqWire)
}

// HasBody reports whether this call has an outgoing body.
func (f *Flow) HasBody() bool { return f.hasBody }

// ExpectContinue reports whether the frozen request carries Expect: 100-continue.
func (f *Flow) ExpectContinue() bool { return f.expectContinue }

// SendBodyMode reports the outgoing body framing chosen at Freeze time.
func (f *Flow) SendBodyMode() BodyMode { return f.sendBodyMode }

// CalculateOutputOverhead returns the worst-case chunk-framing expansion for
// an output buffer of the given size; 0 when not chunking.
func (f *Flow) CalculateOutputOverhead(outputLen int) (int, error) {
	if f.sendBodyMode != BodyModeChunked {
		return 0, nil
	}
	return chunkOverhead(outputLen), nil
}

// ConsumeDirectWrite records n body bytes written straight to the output
// buffer under length-delimited framing.
func (f *Flow) ConsumeDirectWrite(n int) error {
	f.bodyWritten += int64(n)
	if f.contentLength >= 0 && f.bodyWritten > f.contentLength {
		return fmt.Errorf("flow: wrote %d bytes, exceeding Content-Length %d", f.bodyWritten, f.contentLength)
	}
	return nil
}

// WriteBody chunk-encodes tmp into output, consuming all of tmp in one call.
func (f *Flow) WriteBody(tmp, output []byte) (usedIn, usedOut int, err error) {
	n, err := writeChunk(output, tmp)
	if err != nil {
		return 0, 0, err
	}
	f.bodyWritten += int64(len(tmp))
	return len(tmp), n, nil
}

// CanProceedSendBody reports whether a length-delimited body has been fully
// written. Chunked bodies proceed only once the driver's body reader ends.
func (f *Flow) CanProceedSendBody() bool {
	if f.sendBodyMode == BodyModeLengthDelimited {
		return f.bodyWritten >= f.contentLength
	}
	return false
}

// FinalChunk appends the terminating zero-length chunk for a chunked body,
// returning the bytes written.
func (f *Flow) FinalChunk(output []byte) (int, error) {
	return writeFinalChunk(output)
}

// TryRead100 scans input for an interim 100-Continue status line.
func (f *Flow) TryRead100(input []byte) (int, error) {
	idx := bytes.Index(input, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(input) > 0 && input[0] != 'H' {
			// Not even a plausible status line start; let it accumulate.
			return 0, nil
		}
		return 0, nil
	}
	line := input[:idx]
	firstLine := line
	if nl := bytes.IndexByte(line, '\n'); nl >= 0 {
		firstLine = line[:nl]
	}
	status := parseStatusCode(firstLine)
	if status == 100 {
		f.got100 = true
		return idx + 4, nil
	}
	// Any other complete status line means the real response has arrived
	// without ever seeing a 100; stop waiting, consume nothing so
	// RecvResponse can parse it from scratch.
	f.awaitClosed = true
	return 0, nil
}

// CanKeepAwait100 reports whether the driver should keep waiting for 100.
func (f *Flow) CanKeepAwait100() bool {
	return !f.got100 && !f.awaitClosed
}

// AwaitClosed reports whether the wait for 100-Continue ended because the
// final response's status line arrived instead of an interim 100, meaning
// the driver should skip SendBody and let RecvResponse parse it from
// scratch rather than transmitting a body the server already responded to.
func (f *Flow) AwaitClosed() bool { return f.awaitClosed }

// TryResponse attempts to parse a full status line + header block from input.
func (f *Flow) TryResponse(input []byte) (used int, resp *Response, err error) {
	idx := bytes.Index(input, []byte("\r\n\r\n"))
	if idx < 0 {
		return 0, nil, nil
	}
	block := input[:idx+4]

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(block)))
	statusLine, err := tp.ReadLine()
	if err != nil {
		return 0, nil, fmt.Errorf("flow: reading status line: %w", err)
	}
	proto, code, status, err := parseStatusLine(statusLine)
	if err != nil {
		return 0, nil, err
	}
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && mimeHeader == nil {
		return 0, nil, fmt.Errorf("flow: reading response headers: %w", err)
	}

	r := &Response{
		StatusCode: code,
		Status:     status,
		Proto:      proto,
		Header:     http.Header(mimeHeader),
	}
	f.response = r
	f.mustClose = computeMustClose(r)
	f.recvBodyMode, f.remainingLength = computeRecvBodyMode(r)
	if f.recvBodyMode == BodyModeChunked {
		f.chunkDec = newChunkDecoder()
	}
	return idx + 4, r, nil
}

// Status returns the last parsed response status code.
func (f *Flow) Status() int {
	if f.response == nil {
		return 0
	}
	return f.response.StatusCode
}

// BodyMode reports the framing chosen for the response body.
func (f *Flow) BodyMode() BodyMode { return f.recvBodyMode }

// ReadBody decodes response body bytes from input into output.
func (f *Flow) ReadBody(input, output []byte) (usedIn, usedOut int, err error) {
	switch f.recvBodyMode {
	case BodyModeNone:
		f.bodyDone = true
		return 0, 0, nil
	case BodyModeLengthDelimited:
		n := copy(output, input)
		if int64(n) > f.remainingLength {
			n = int(f.remainingLength)
		}
		f.remainingLength -= int64(n)
		if f.remainingLength <= 0 {
			f.bodyDone = true
		}
		return n, n, nil
	case BodyModeChunked:
		return f.chunkDec.decode(input, output, f)
	case BodyModeCloseDelimited:
		n := copy(output, input)
		return n, n, nil
	default:
		return 0, 0, fmt.Errorf("flow: no response parsed yet")
	}
}

// CanProceedRecvBody reports whether the response body has been fully consumed.
func (f *Flow) CanProceedRecvBody() bool { return f.bodyDone }

// MustCloseConnection reports whether the connection cannot be reused.
func (f *Flow) MustCloseConnection() bool { return f.mustClose }

// AsNewFlow derives the Flow for a redirect target named by the Location
// header of the last parsed response, applying authPolicy to decide which
// of the original request's Authorization-class headers survive. Valid only
// after TryResponse has produced a redirection response.
func (f *Flow) AsNewFlow(authPolicy RedirectAuthHeaders) (*Flow, error) {
	if f.response == nil {
		return nil, fmt.Errorf("flow: no response to redirect from")
	}
	loc := f.response.Header.Get("Location")
	if loc == "" {
		return nil, fmt.Errorf("flow: redirect response missing Location header")
	}
	target, err := f.uri.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("flow: invalid Location %q: %w", loc, err)
	}

	method := f.method
	hasBody := f.hasBody
	contentLength := f.contentLength
	switch f.response.StatusCode {
	case http.StatusSeeOther:
		if method != http.MethodGet && method != http.MethodHead {
			method, hasBody, contentLength = http.MethodGet, false, 0
		}
	case http.StatusMovedPermanently, http.StatusFound:
		if method == http.MethodPost {
			method, hasBody, contentLength = http.MethodGet, false, 0
		}
	}

	sameHost := strings.EqualFold(target.Hostname(), f.uri.Hostname())
	header := make(http.Header, len(f.header))
	for name, values := range f.header {
		if isAuthHeaderName(name) {
			if authPolicy == RedirectAuthHeadersNever {
				continue
			}
			if authPolicy == RedirectAuthHeadersSameHost && !sameHost {
				continue
			}
		}
		header[name] = append([]string(nil), values...)
	}

	return New(Request{
		Method:        method,
		URI:           target,
		Header:        header,
		HasBody:       hasBody,
		ContentLength: contentLength,
	})
}

func isAuthHeaderName(name string) bool {
	for _, n := range authHeaderNames {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func parseStatusCode(line []byte) int {
	fields := bytes.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return 0
	}
	return code
}

func parseStatusLine(line string) (proto string, code int, status string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("flow: malformed status line %q", line)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("flow: malformed status code in %q: %w", line, err)
	}
	statusText := ""
	if len(parts) == 3 {
		statusText = parts[2]
	}
	return parts[0], code, strings.TrimSpace(parts[1] + " " + statusText), nil
}

func computeMustClose(r *Response) bool {
	if strings.EqualFold(r.Header.Get("Connection"), "close") {
		return true
	}
	if r.Proto == "HTTP/1.0" && !strings.Contains(strings.ToLower(r.Header.Get("Connection")), "keep-alive") {
		return true
	}
	return false
}

func computeRecvBodyMode(r *Response) (BodyMode, int64) {
	if r.StatusCode == 204 || r.StatusCode == 304 || r.StatusCode < 200 {
		return BodyModeNone, 0
	}
	if te := r.Header.Get("Transfer-Encoding"); strings.Contains(strings.ToLower(te), "chunked") {
		return BodyModeChunked, 0
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			if n == 0 {
				return BodyModeNone, 0
			}
			return BodyModeLengthDelimited, n
		}
	}
	return BodyModeCloseDelimited, 0
}
