package server_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-jsonipc/pkg/client"
	"github.com/lightforgemedia/go-jsonipc/pkg/dispatcher"
	"github.com/lightforgemedia/go-jsonipc/pkg/registry"
	"github.com/lightforgemedia/go-jsonipc/pkg/server"
	"github.com/lightforgemedia/go-jsonipc/pkg/testutil"
	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type song struct {
	*registry.Handle
}

// library is a tiny object model: songs addressed by id with a mutable title.
type library struct {
	mu     sync.Mutex
	titles map[int64]string
}

func newLibrary(t *testing.T) (*dispatcher.Dispatcher, *library) {
	lib := &library{titles: map[int64]string{1: "Intro"}}
	d := dispatcher.New(testutil.DefaultLogger)
	require.NoError(t, d.AddMethod("add", func(a, b float64) (float64, error) { return a + b, nil }))
	require.NoError(t, d.AddMethod("song", func(id int64) (dispatcher.Ref, error) {
		return dispatcher.Ref{ID: id, Class: "Song"}, nil
	}))
	require.NoError(t, d.AddMethod("get/title", func(s dispatcher.Ref) (string, error) {
		lib.mu.Lock()
		defer lib.mu.Unlock()
		title, ok := lib.titles[s.ID]
		if !ok {
			return "", &wire.ErrorPayload{Code: 404, Message: "no such song"}
		}
		return title, nil
	}))
	return d, lib
}

func newSongClient(t *testing.T, url string) *client.Client {
	classes := registry.NewClassTable()
	classes.Register("Song", func(id int64) registry.Object { return &song{registry.NewHandle(id)} })
	return testutil.NewTestClient(t, url, client.WithClassTable(classes))
}

func TestServerAnswersRequests(t *testing.T) {
	d, _ := newLibrary(t)
	ts := testutil.NewTestServer(t, d)
	c := newSongClient(t, ts.WsURL)

	ctx := context.Background()
	v, err := c.Send(ctx, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, float64(5), v)

	_, err = c.Send(ctx, "nope")
	var remote *client.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, wire.CodeMethodNotFound, remote.Code)

	obj, err := c.Send(ctx, "song", 9)
	require.NoError(t, err)
	_, err = c.Send(ctx, "get/title", obj)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 404, remote.Code)
	assert.Equal(t, "no such song", remote.Message)
}

func TestServerNotifyRefreshesReactiveProp(t *testing.T) {
	d, lib := newLibrary(t)
	ts := testutil.NewTestServer(t, d)
	c := newSongClient(t, ts.WsURL)

	obj, err := c.Send(context.Background(), "song", 1)
	require.NoError(t, err)
	s, ok := obj.(*song)
	require.True(t, ok)

	assert.Equal(t, "", c.GetReactiveProp(s, "title", ""))
	require.NoError(t, testutil.WaitFor(t, "initial title", wait, func() bool {
		return c.GetReactiveProp(s, "title", "") == "Intro"
	}))

	lib.mu.Lock()
	lib.titles[1] = "Outro"
	lib.mu.Unlock()
	require.NoError(t, ts.Server.Notify("notify:title", dispatcher.Ref{ID: 1, Class: "Song"}))

	require.NoError(t, testutil.WaitFor(t, "refreshed title", wait, func() bool {
		return c.GetReactiveProp(s, "title", "") == "Outro"
	}))
}

func TestServerBroadcast(t *testing.T) {
	ts := testutil.NewTestServer(t, nil)
	a := testutil.NewTestClient(t, ts.WsURL)
	b := testutil.NewTestClient(t, ts.WsURL)
	require.NoError(t, testutil.WaitFor(t, "two peers", wait, func() bool { return ts.Server.Peers() == 2 }))

	got := make(chan string, 4)
	for name, c := range map[string]*client.Client{"a": a, "b": b} {
		c.Receive("tick", func(...any) { got <- name })
		c.HandleBinary(func(data []byte) { got <- name + string(data) })
	}

	require.NoError(t, ts.Server.Notify("tick"))
	require.NoError(t, ts.Server.SendBinary([]byte("!")))

	seen := map[string]bool{}
	for range 4 {
		select {
		case s := <-got:
			seen[s] = true
		case <-time.After(wait):
			t.Fatalf("only saw %v", seen)
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "a!": true, "b!": true}, seen)
}

func TestServerConcurrentDispatch(t *testing.T) {
	d := dispatcher.New(testutil.DefaultLogger)
	release := make(chan struct{})
	require.NoError(t, d.AddMethod("block", func() (string, error) {
		<-release
		return "blocked", nil
	}))
	require.NoError(t, d.AddMethod("fast", func() (string, error) { return "fast", nil }))
	ts := testutil.NewTestServer(t, d, server.WithConcurrentDispatch(true))
	c := testutil.NewTestClient(t, ts.WsURL)

	ctx := context.Background()
	blocked, err := c.SendAsync(ctx, "block")
	require.NoError(t, err)

	v, err := c.Send(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", v)

	close(release)
	v, err = blocked.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "blocked", v)
}

func TestServerShutdown(t *testing.T) {
	ts := testutil.NewTestServer(t, nil)
	closed := make(chan struct{})
	testutil.NewTestClient(t, ts.WsURL, client.WithOnClose(func(error) { close(closed) }))

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	require.NoError(t, ts.Server.Shutdown(ctx))

	select {
	case <-closed:
	case <-time.After(wait):
		t.Fatal("client not disconnected")
	}
	assert.ErrorIs(t, ts.Server.Notify("tick"), server.ErrShutdown)
	assert.Equal(t, 0, ts.Server.Peers())
}

func TestServerRepliesSurviveFullSendBuffer(t *testing.T) {
	d, _ := newLibrary(t)
	ts := testutil.NewTestServer(t, d, server.WithPeerSendBuffer(1), server.WithConcurrentDispatch(true))
	c := newSongClient(t, ts.WsURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	calls := make([]*client.Call, 0, 64)
	for i := range 64 {
		call, err := c.SendAsync(ctx, "add", i, 1)
		require.NoError(t, err)
		calls = append(calls, call)
	}
	for i, call := range calls {
		v, err := call.Wait(ctx)
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, float64(i+1), v)
	}
	assert.True(t, c.Connected())
}
