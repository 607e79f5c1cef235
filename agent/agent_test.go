package agent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atsika/httpdrive"
)

func TestAgentDoGetHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/greet", r.URL.Path)
		w.Header().Set("X-Served", "yes")
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	cfg, err := httpdrive.NewAgentConfig(httpdrive.WithGlobalTimeout(5 * time.Second))
	require.NoError(t, err)
	a := New(cfg)
	defer a.Close()

	resp, err := a.Do(context.Background(), "GET", srv.URL+"/greet", nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "yes", resp.Header.Get("X-Served"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestAgentDoPostWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		b, _ := io.ReadAll(r.Body)
		require.Equal(t, "payload", string(b))
		w.WriteHeader(201)
	}))
	defer srv.Close()

	cfg, err := httpdrive.NewAgentConfig(httpdrive.WithGlobalTimeout(5 * time.Second))
	require.NoError(t, err)
	a := New(cfg)
	defer a.Close()

	body := strings.NewReader("payload")
	resp, err := a.Do(context.Background(), "POST", srv.URL+"/submit", nil, body, int64(body.Len()))
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)
}

func TestAgentDoFollowsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("landed"))
	}))
	defer srv.Close()

	cfg, err := httpdrive.NewAgentConfig(httpdrive.WithGlobalTimeout(5 * time.Second))
	require.NoError(t, err)
	a := New(cfg)
	defer a.Close()

	resp, err := a.Do(context.Background(), "GET", srv.URL+"/start", nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "landed", string(body))
}

func TestAgentDoRedirectCapSurfacesIntermediateResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/start", http.StatusFound)
	}))
	defer srv.Close()

	cfg, err := httpdrive.NewAgentConfig(httpdrive.WithGlobalTimeout(5*time.Second), httpdrive.WithMaxRedirects(0))
	require.NoError(t, err)
	a := New(cfg)
	defer a.Close()

	resp, err := a.Do(context.Background(), "GET", srv.URL+"/start", nil, nil, 0)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestAgentDoReusesPooledConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg, err := httpdrive.NewAgentConfig(httpdrive.WithGlobalTimeout(5 * time.Second))
	require.NoError(t, err)
	a := New(cfg, WithIdleTimeout(time.Minute))
	defer a.Close()

	_, err = a.Do(context.Background(), "GET", srv.URL+"/one", nil, nil, 0)
	require.NoError(t, err)

	u, err := url.Parse(srv.URL + "/one")
	require.NoError(t, err)
	require.NotNil(t, a.pool.get(keyFor(u)))
}
