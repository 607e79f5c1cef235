// Package agent is a reference caller for httpdrive.Driver: it performs the
// real DNS, dial, TLS, and byte I/O a Driver only describes, pools idle
// connections per (scheme, host, port), and drives one call - including any
// redirects - to completion, returning a buffered *http.Response.
package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/atsika/httpdrive"
	"github.com/atsika/httpdrive/internal/flow"
)

// Agent drives httpdrive.Driver instances against real network connections,
// reusing them across calls via an idle pool the way the teacher's Listener
// reuses Conns accepted over its rendezvous transport.
type Agent struct {
	cfg      *Config
	agentCfg *httpdrive.AgentConfig
	pool     *pool
}

// New builds an Agent. agentCfg controls Driver behavior (timeouts,
// redirects, metrics, logging); opts control this package's own I/O
// concerns (dialer, TLS, pooling).
func New(agentCfg *httpdrive.AgentConfig, opts ...Option) *Agent {
	if agentCfg == nil {
		agentCfg, _ = httpdrive.NewAgentConfig()
	}
	cfg := applyConfig(opts)
	return &Agent{
		cfg:      cfg,
		agentCfg: agentCfg,
		pool:     newPool(cfg.idleTimeout),
	}
}

// Close stops the connection pool's janitor and closes every idle connection.
func (a *Agent) Close() { a.pool.closeAll() }

// Do performs one HTTP/1.1 call, following redirects per the Agent's
// AgentConfig, and returns the final response with its body fully buffered.
func (a *Agent) Do(ctx context.Context, method, rawURL string, header http.Header, body io.Reader, contentLength int64) (*http.Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("agent: invalid url %q: %w", rawURL, err)
	}
	if header == nil {
		header = make(http.Header)
	}

	req := flow.Request{
		Method:        method,
		URI:           target,
		Header:        header,
		HasBody:       body != nil,
		ContentLength: contentLength,
	}

	drv, err := httpdrive.NewDriver(a.agentCfg, a.agentCfg.Timeouts(), time.Now(), req, body)
	if err != nil {
		return nil, err
	}

	buffers := &httpdrive.Buffers{
		Output: make([]byte, a.cfg.outputBufferSize),
		Temp:   make([]byte, a.cfg.tempBufferSize),
	}
	readBuf := make([]byte, a.cfg.readBufferSize)

	if a.agentCfg.Metrics() != nil {
		a.agentCfg.Metrics().CallStarted()
	}
	callStart := time.Now()

	var (
		conn       net.Conn
		connKeyVal connKey
		finalResp  *flow.Response
		bodyBuf    bytes.Buffer
		recv       *httpdrive.RecvDriver
		leg        = drv
		legHasConn bool
		pending    []byte // bytes read from conn but not yet consumed by HandleInput
	)

	outcome := httpdrive.OutcomeSuccess
	defer func() {
		if a.agentCfg.Metrics() != nil {
			a.agentCfg.Metrics().CallCompleted(outcome, time.Since(callStart))
		}
	}()

	for {
		var ev httpdrive.Event
		if recv != nil {
			ev, err = recv.PollEvent(time.Now(), buffers)
		} else {
			ev, err = leg.PollEvent(time.Now(), buffers)
		}
		if err != nil {
			outcome = classifyOutcome(err)
			a.releaseConn(conn, legHasConn, connKeyVal, true)
			return nil, err
		}

		var phase httpdrive.Phase
		if recv != nil {
			phase = recv.Phase()
		} else {
			phase = leg.Phase()
		}

		switch e := ev.(type) {
		case httpdrive.EventReset:
			if legHasConn {
				a.releaseConn(conn, legHasConn, connKeyVal, e.MustClose)
				conn = nil
				legHasConn = false
			}
			if phase == httpdrive.PhaseCleanup {
				if finalResp == nil {
					outcome = httpdrive.OutcomeFlowError
					return nil, httpdrive.ErrDisconnected
				}
				return buildResponse(finalResp, bodyBuf.Bytes()), nil
			}
			// phase == PhaseBegin: either the first leg or a redirect leg.
			recv = nil
			bodyBuf.Reset()
			finalResp = nil
			pending = nil
			if _, err := leg.HandleInput(time.Now(), httpdrive.InputBegin{}, nil); err != nil {
				outcome = classifyOutcome(err)
				return nil, err
			}

		case httpdrive.EventPrepare:
			applyDefaultHeaders(leg)
			if _, err := leg.HandleInput(time.Now(), httpdrive.InputPrepared{}, nil); err != nil {
				outcome = classifyOutcome(err)
				return nil, err
			}

		case httpdrive.EventResolve:
			if err := a.resolve(ctx, e.URI, e.Timeout); err != nil {
				outcome = httpdrive.OutcomeFlowError
				return nil, err
			}
			if _, err := leg.HandleInput(time.Now(), httpdrive.InputResolved{}, nil); err != nil {
				outcome = classifyOutcome(err)
				return nil, err
			}

		case httpdrive.EventOpenConnection:
			connKeyVal = keyFor(e.URI)
			c, err := a.acquire(ctx, connKeyVal, e.URI, e.Timeout)
			if err != nil {
				outcome = httpdrive.OutcomeFlowError
				return nil, err
			}
			conn = c
			legHasConn = true
			if _, err := leg.HandleInput(time.Now(), httpdrive.InputConnectionOpen{}, nil); err != nil {
				outcome = classifyOutcome(err)
				return nil, err
			}

		case httpdrive.EventTransmit:
			if e.Amount > 0 {
				if err := writeAll(conn, buffers.Output[:e.Amount], e.Timeout); err != nil {
					outcome = httpdrive.OutcomeTimeout
					return nil, err
				}
			}
			// No Input follows a Transmit; the next PollEvent continues the
			// same phase (more to send) or has already advanced.

		case httpdrive.EventAwait100:
			if len(pending) == 0 {
				n, err := readWithTimeout(conn, readBuf, e.Timeout)
				if err != nil {
					if _, herr := leg.HandleInput(time.Now(), httpdrive.InputEndAwait100{}, nil); herr != nil {
						outcome = classifyOutcome(herr)
						return nil, herr
					}
					continue
				}
				pending = append(pending[:0:0], readBuf[:n]...)
			}
			used, err := leg.HandleInput(time.Now(), httpdrive.InputData{Bytes: pending}, nil)
			if err != nil {
				outcome = classifyOutcome(err)
				return nil, err
			}
			pending = pending[used:]

		case httpdrive.EventAwaitInput:
			if len(pending) == 0 {
				n, err := readWithTimeout(conn, readBuf, e.Timeout)
				if err != nil {
					outcome = httpdrive.OutcomeTimeout
					return nil, err
				}
				pending = append(pending[:0:0], readBuf[:n]...)
			}
			var used int
			if recv != nil {
				used, err = recv.HandleInput(time.Now(), httpdrive.InputData{Bytes: pending}, buffers.Output)
				if err != nil {
					outcome = classifyOutcome(err)
					return nil, err
				}
			} else {
				used, err = leg.HandleInput(time.Now(), httpdrive.InputData{Bytes: pending}, buffers.Output)
				if err != nil {
					outcome = classifyOutcome(err)
					return nil, err
				}
			}
			pending = pending[used:]

		case httpdrive.EventResponse:
			if e.End {
				finalResp = e.Response
				recv = leg.ReleaseBody()
			} else {
				finalResp = nil
			}
			if a.agentCfg.Metrics() != nil {
				a.agentCfg.Metrics().BytesReceived(0)
			}

		case httpdrive.EventResponseBody:
			if finalResp != nil && e.Amount > 0 {
				bodyBuf.Write(buffers.Output[:e.Amount])
			}

		default:
			return nil, fmt.Errorf("agent: unhandled event %T", ev)
		}
	}
}

func (a *Agent) releaseConn(conn net.Conn, has bool, key connKey, mustClose bool) {
	if !has || conn == nil {
		return
	}
	if mustClose {
		_ = conn.Close()
		return
	}
	a.pool.put(newPooledConn(conn, key))
}

func (a *Agent) resolve(ctx context.Context, uri *url.URL, timeout time.Duration) error {
	host := uri.Hostname()
	if net.ParseIP(host) != nil {
		return nil
	}
	rctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := net.DefaultResolver.LookupHost(rctx, host)
	if err != nil {
		return fmt.Errorf("agent: resolving %q: %w", host, err)
	}
	return nil
}

func (a *Agent) acquire(ctx context.Context, key connKey, uri *url.URL, timeout time.Duration) (net.Conn, error) {
	ap := newAdaptivePoll(a.cfg.fastPoll, a.cfg.steadyPoll)
	deadline := time.Now().Add(timeout)
	for attempt := 0; attempt < 5; attempt++ {
		pc := a.pool.get(key)
		if pc == nil {
			break
		}
		if probeAlive(pc.Conn) {
			return pc.Conn, nil
		}
		_ = pc.Conn.Close()
		if timeout > 0 && time.Now().After(deadline) {
			break
		}
		ap.sleep()
	}
	return a.dial(ctx, uri, timeout)
}

func (a *Agent) dial(ctx context.Context, uri *url.URL, timeout time.Duration) (net.Conn, error) {
	host := uri.Hostname()
	port := uri.Port()
	if port == "" {
		if uri.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	addr := net.JoinHostPort(host, port)

	dctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := a.cfg.dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("agent: dialing %s: %w", addr, err)
	}
	if uri.Scheme == "https" {
		cfg := a.cfg.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(dctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("agent: TLS handshake with %s: %w", addr, err)
		}
		return tlsConn, nil
	}
	return conn, nil
}

func keyFor(uri *url.URL) connKey {
	port := uri.Port()
	if port == "" {
		if uri.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return connKey{scheme: uri.Scheme, host: uri.Hostname(), port: port}
}

func writeAll(conn net.Conn, p []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := conn.Write(p)
	return err
}

func readWithTimeout(conn net.Conn, buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}
	n, err := conn.Read(buf)
	if n > 0 {
		return n, nil
	}
	if err != nil {
		return 0, err
	}
	return 0, io.ErrUnexpectedEOF
}

func applyDefaultHeaders(d *httpdrive.Driver) {
	fr := d.FakeRequest()
	if fr.Header.Get("User-Agent") == "" {
		_, _ = d.HandleInput(time.Now(), httpdrive.InputHeader{Name: "User-Agent", Value: "httpdrive/1.0"}, nil)
	}
	if fr.Header.Get("Accept-Encoding") == "" {
		_, _ = d.HandleInput(time.Now(), httpdrive.InputHeader{Name: "Accept-Encoding", Value: "identity"}, nil)
	}
}

func classifyOutcome(err error) httpdrive.Outcome {
	var de *httpdrive.Error
	if errors.As(err, &de) {
		switch de.Kind {
		case httpdrive.KindTimeout:
			return httpdrive.OutcomeTimeout
		case httpdrive.KindRedirectFailed:
			return httpdrive.OutcomeRedirectFailed
		default:
			return httpdrive.OutcomeFlowError
		}
	}
	return httpdrive.OutcomeFlowError
}

func buildResponse(resp *flow.Response, body []byte) *http.Response {
	return &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         resp.Proto,
		Header:        resp.Header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
