package demo_test

import (
	"context"
	"testing"
	"time"

	"github.com/lightforgemedia/go-jsonipc/internal/demo"
	"github.com/lightforgemedia/go-jsonipc/pkg/client"
	"github.com/lightforgemedia/go-jsonipc/pkg/registry"
	"github.com/lightforgemedia/go-jsonipc/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type remote struct {
	*registry.Handle
}

func newRemote(id int64) registry.Object { return &remote{registry.NewHandle(id)} }

func TestProjectOverWebSocket(t *testing.T) {
	ts := testutil.NewTestServer(t, nil)
	demo.NewProject(ts.Server.Notify).Register(ts.Dispatcher)

	classes := registry.NewClassTable()
	classes.Register(demo.ProjectClass, newRemote)
	classes.Register(demo.TrackClass, newRemote)
	c := testutil.NewTestClient(t, ts.WsURL, client.WithClassTable(classes))
	ctx := context.Background()

	obj, err := c.Send(ctx, "project")
	require.NoError(t, err)
	project, ok := obj.(*remote)
	require.True(t, ok)

	tracks, err := c.Send(ctx, "Project/tracks", project)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	first, ok := tracks.([]any)[0].(*remote)
	require.True(t, ok)
	assert.Equal(t, demo.TrackClass, first.Class())

	created, err := c.Send(ctx, "Project/create_track", project, "Bass")
	require.NoError(t, err)
	bass := created.(*remote)
	assert.NotEqual(t, first.ID(), bass.ID())

	c.GetReactiveProp(bass, "name", "")
	require.NoError(t, testutil.WaitFor(t, "track name", 2*time.Second, func() bool {
		return c.GetReactiveProp(bass, "name", "") == "Bass"
	}))

	_, err = c.Send(ctx, "set/name", bass, "Lead")
	require.NoError(t, err)
	require.NoError(t, testutil.WaitFor(t, "renamed track", 2*time.Second, func() bool {
		return c.GetReactiveProp(bass, "name", "") == "Lead"
	}))

	_, err = c.Send(ctx, "get/name", &remote{registry.NewHandle(999)})
	var remoteErr *client.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 404, remoteErr.Code)
}
