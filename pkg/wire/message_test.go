package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEncodesEmptyParamsAsArray(t *testing.T) {
	raw, err := json.Marshal(wire.Request{ID: 7, Method: wire.HandshakeMethod})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"method":"Jsonipc/handshake","params":[]}`, string(raw))
}

func TestNotificationEncoding(t *testing.T) {
	raw, err := json.Marshal(wire.Notification{Method: "notify:name", Params: []any{1, "x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"notify:name","params":[1,"x"]}`, string(raw))
}

func TestSeedCounter(t *testing.T) {
	assert.Equal(t, int64(100_000_000), wire.SeedCounter(0))
	assert.Equal(t, int64(998_000_000), wire.SeedCounter(0.9999999))
	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		seed := wire.SeedCounter(r)
		assert.Zero(t, seed%1_000_000, "seed %d is not a whole block", seed)
		assert.GreaterOrEqual(t, seed, int64(100_000_000))
		assert.Less(t, seed, int64(999_000_000))
	}
}

func TestHasClassMarker(t *testing.T) {
	assert.True(t, wire.HasClassMarker([]byte(`{"id":1,"result":{"$id":3,"$class":"Track"}}`)))
	assert.False(t, wire.HasClassMarker([]byte(`{"id":1,"result":{"$id":3}}`)))
	assert.False(t, wire.HasClassMarker([]byte(`{"id":1,"result":"$class"}`)))
}

func TestClassify(t *testing.T) {
	decode := func(s string) map[string]any {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(s), &m))
		return m
	}
	tests := []struct {
		frame string
		want  wire.Kind
	}{
		{`{"id":5,"result":5}`, wire.KindReply},
		{`{"id":5,"error":{"code":404,"message":"not found"}}`, wire.KindReply},
		{`{"method":"notify:x","params":[]}`, wire.KindNotification},
		{`{"method":"notify:x","params":{}}`, wire.KindMalformed},
		{`{"method":3,"params":[]}`, wire.KindMalformed},
		{`{"id":0,"result":1}`, wire.KindMalformed},
		{`{"foo":"bar"}`, wire.KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			assert.Equal(t, tt.want, wire.Classify(decode(tt.frame)))
		})
	}
	assert.Equal(t, wire.KindMalformed, wire.Classify(nil))
}

func TestErrorPayloadMessage(t *testing.T) {
	err := &wire.ErrorPayload{Code: 404, Message: "not found"}
	assert.Equal(t, "404: not found", err.Error())
}
