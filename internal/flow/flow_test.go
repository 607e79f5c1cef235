package flow

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFreezeSerializesRequestLineAndHeaders(t *testing.T) {
	f, err := New(Request{
		Method: "GET",
		URI:    mustURL(t, "http://example.com/a/b?x=1"),
		Header: http.Header{"X-Test": []string{"v"}},
	})
	require.NoError(t, err)
	require.NoError(t, f.Freeze())

	out := make([]byte, 4096)
	n, err := f.Write(out)
	require.NoError(t, err)
	wire := string(out[:n])
	require.Contains(t, wire, "GET /a/b?x=1 HTTP/1.1\r\n")
	require.Contains(t, wire, "Host: example.com\r\n")
	require.Contains(t, wire, "X-Test: v\r\n")
	require.True(t, f.CanProceedRequest())
}

func TestFreezeSetsContentLengthWhenKnown(t *testing.T) {
	f, err := New(Request{
		Method:        "POST",
		URI:           mustURL(t, "http://example.com/"),
		HasBody:       true,
		ContentLength: 10,
	})
	require.NoError(t, err)
	require.NoError(t, f.Freeze())
	require.Equal(t, BodyModeLengthDelimited, f.SendBodyMode())

	out := make([]byte, 4096)
	n, _ := f.Write(out)
	require.Contains(t, string(out[:n]), "Content-Length: 10\r\n")
}

func TestFreezeUsesChunkedWhenLengthUnknown(t *testing.T) {
	f, err := New(Request{
		Method:        "POST",
		URI:           mustURL(t, "http://example.com/"),
		HasBody:       true,
		ContentLength: -1,
	})
	require.NoError(t, err)
	require.NoError(t, f.Freeze())
	require.Equal(t, BodyModeChunked, f.SendBodyMode())

	out := make([]byte, 4096)
	n, _ := f.Write(out)
	require.Contains(t, string(out[:n]), "Transfer-Encoding: chunked\r\n")
}

func TestHeaderAfterFreezeRejected(t *testing.T) {
	f, err := New(Request{Method: "GET", URI: mustURL(t, "http://example.com/")})
	require.NoError(t, err)
	require.NoError(t, f.Freeze())
	require.Error(t, f.Header("X", "y"))
}

func TestTryResponseParsesStatusAndHeaders(t *testing.T) {
	f, err := New(Request{Method: "GET", URI: mustURL(t, "http://example.com/")})
	require.NoError(t, err)

	input := []byte("HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nabc")
	used, resp, err := f.TryResponse(input)
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, len(input)-3, used)
	require.Equal(t, BodyModeLengthDelimited, f.BodyMode())
}

func TestTryResponseIncompleteReturnsNil(t *testing.T) {
	f, err := New(Request{Method: "GET", URI: mustURL(t, "http://example.com/")})
	require.NoError(t, err)

	used, resp, err := f.TryResponse([]byte("HTTP/1.1 200 OK\r\nContent-Leng"))
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Equal(t, 0, used)
}

func TestReadBodyLengthDelimited(t *testing.T) {
	f, err := New(Request{Method: "GET", URI: mustURL(t, "http://example.com/")})
	require.NoError(t, err)
	_, _, err = f.TryResponse([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"))
	require.NoError(t, err)

	out := make([]byte, 16)
	usedIn, usedOut, err := f.ReadBody([]byte("hello"), out)
	require.NoError(t, err)
	require.Equal(t, 5, usedIn)
	require.Equal(t, 5, usedOut)
	require.True(t, f.CanProceedRecvBody())
}

func TestResponseNoBodyFor204(t *testing.T) {
	f, err := New(Request{Method: "GET", URI: mustURL(t, "http://example.com/")})
	require.NoError(t, err)
	_, resp, err := f.TryResponse([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, 204, resp.StatusCode)
	require.Equal(t, BodyModeNone, f.BodyMode())
}

func TestMustCloseConnectionHeader(t *testing.T) {
	f, err := New(Request{Method: "GET", URI: mustURL(t, "http://example.com/")})
	require.NoError(t, err)
	_, _, err = f.TryResponse([]byte("HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, f.MustCloseConnection())
}

func TestAsNewFlowPostToGetOn302(t *testing.T) {
	f, err := New(Request{
		Method:        "POST",
		URI:           mustURL(t, "http://example.com/form"),
		Header:        http.Header{"Authorization": []string{"Bearer t"}},
		HasBody:       true,
		ContentLength: 5,
	})
	require.NoError(t, err)
	_, _, err = f.TryResponse([]byte("HTTP/1.1 302 Found\r\nLocation: /ok\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)

	next, err := f.AsNewFlow(RedirectAuthHeadersSameHost)
	require.NoError(t, err)
	require.Equal(t, "GET", next.Method())
	require.False(t, next.HasBody())
	require.Equal(t, "/ok", next.URI().Path)
	require.Equal(t, "Bearer t", next.HeadersMap().Get("Authorization"))
}

func TestAsNewFlowStripsAuthHeadersCrossHost(t *testing.T) {
	f, err := New(Request{
		Method: "GET",
		URI:    mustURL(t, "http://a.example.com/x"),
		Header: http.Header{"Authorization": []string{"Bearer t"}},
	})
	require.NoError(t, err)
	_, _, err = f.TryResponse([]byte("HTTP/1.1 307 Temporary Redirect\r\nLocation: http://b.example.com/y\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)

	next, err := f.AsNewFlow(RedirectAuthHeadersSameHost)
	require.NoError(t, err)
	require.Equal(t, "GET", next.Method())
	require.Empty(t, next.HeadersMap().Get("Authorization"))
}

func TestAsNewFlowNeverPolicyStripsEvenSameHost(t *testing.T) {
	f, err := New(Request{
		Method: "GET",
		URI:    mustURL(t, "http://a.example.com/x"),
		Header: http.Header{"Cookie": []string{"s=1"}},
	})
	require.NoError(t, err)
	_, _, err = f.TryResponse([]byte("HTTP/1.1 301 Moved Permanently\r\nLocation: /y\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)

	next, err := f.AsNewFlow(RedirectAuthHeadersNever)
	require.NoError(t, err)
	require.Empty(t, next.HeadersMap().Get("Cookie"))
}

func TestAsNewFlowWithoutResponseFails(t *testing.T) {
	f, err := New(Request{Method: "GET", URI: mustURL(t, "http://example.com/")})
	require.NoError(t, err)
	_, err = f.AsNewFlow(RedirectAuthHeadersSameHost)
	require.Error(t, err)
}

func TestTryRead100ConsumesInterimContinue(t *testing.T) {
	f, err := New(Request{Method: "POST", URI: mustURL(t, "http://example.com/"), HasBody: true, ContentLength: 1})
	require.NoError(t, err)
	used, err := f.TryRead100([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, 25, used)
	require.True(t, f.CanKeepAwait100() == false)
	require.False(t, f.AwaitClosed())
}

func TestTryRead100SeesFinalResponseInstead(t *testing.T) {
	f, err := New(Request{Method: "POST", URI: mustURL(t, "http://example.com/"), HasBody: true, ContentLength: 1})
	require.NoError(t, err)
	used, err := f.TryRead100([]byte("HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, 0, used)
	require.True(t, f.AwaitClosed())
	require.False(t, f.CanKeepAwait100())
}
