package testutil

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lightforgemedia/go-jsonipc/pkg/client"
	"github.com/lightforgemedia/go-jsonipc/pkg/dispatcher"
	"github.com/lightforgemedia/go-jsonipc/pkg/server"
	"github.com/stretchr/testify/require"
)

// TestServer is a real Jsonipc server on an httptest listener.
type TestServer struct {
	T          *testing.T
	Dispatcher *dispatcher.Dispatcher
	Server     *server.Server
	HTTP       *httptest.Server
	WsURL      string
}

// NewTestServer serves d, or an empty dispatcher when d is nil.
func NewTestServer(t *testing.T, d *dispatcher.Dispatcher, opts ...server.Option) *TestServer {
	t.Helper()
	if d == nil {
		d = dispatcher.New(DefaultLogger)
	}
	finalOpts := append([]server.Option{server.WithLogger(DefaultLogger)}, opts...)
	s := server.New(d, finalOpts...)
	hs := httptest.NewServer(s)

	ts := &TestServer{
		T:          t,
		Dispatcher: d,
		Server:     s,
		HTTP:       hs,
		WsURL:      "ws" + strings.TrimPrefix(hs.URL, "http"),
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts the server down.
func (ts *TestServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ts.Server.Shutdown(ctx)
	ts.HTTP.Close()
}

// NewTestClient opens a client on url and closes it when the test ends.
func NewTestClient(t *testing.T, url string, opts ...client.Option) *client.Client {
	t.Helper()
	finalOpts := append([]client.Option{client.WithLogger(DefaultLogger)}, opts...)
	c := client.New(finalOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Open(ctx, url), "open %s", url)

	t.Cleanup(func() {
		if c.Connected() {
			_ = c.Close()
		}
	})
	return c
}
