package jsonipc_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lightforgemedia/go-jsonipc"
	"github.com/lightforgemedia/go-jsonipc/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	*jsonipc.Handle
}

func TestRoundTrip(t *testing.T) {
	d := jsonipc.NewDispatcher(nil)
	d.MustAddMethod("widget", func() (jsonipc.Ref, error) { return jsonipc.Ref{ID: 5, Class: "Widget"}, nil })
	d.MustAddMethod("get/size", func(jsonipc.Ref) (int, error) { return 3, nil })
	srv := jsonipc.NewServer(d)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	classes := jsonipc.NewClassTable()
	classes.Register("Widget", func(id int64) jsonipc.Object { return &widget{jsonipc.NewHandle(id)} })
	c := jsonipc.NewClient(client.WithClassTable(classes))
	ctx := context.Background()
	require.NoError(t, c.Open(ctx, "ws"+strings.TrimPrefix(hs.URL, "http")))
	t.Cleanup(func() { _ = c.Close() })

	obj, err := c.Send(ctx, "widget")
	require.NoError(t, err)
	w, ok := obj.(*widget)
	require.True(t, ok)
	assert.Equal(t, int64(5), w.ID())

	size, err := c.Send(ctx, "get/size", w)
	require.NoError(t, err)
	assert.Equal(t, float64(3), size)

	assert.ErrorIs(t, c.Open(ctx, "ws://unused"), jsonipc.ErrAlreadyOpen)
}
