package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"message","data":{"messageId":"m1","chatRoomId":"room-1",
		"senderId":"alice","content":"hello","messageType":"user",
		"createdAt":"2025-03-01T12:00:00.123Z","timestamp":1740830400123}}`))
	require.NoError(t, err)
	me, ok := ev.(MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "room-1", me.Message.RoomID)
	assert.Equal(t, []string{"alice"}, me.Message.ReadBy)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 123e6, time.UTC), me.Message.CreatedAt)
	assert.Equal(t, "1740830400123#m1", me.Message.SequenceKey)

	cases := []struct {
		raw  string
		want Event
	}{
		{`{"type":"VERIFICATION_REQUIRED","message":"verify","clientMessageId":"c1"}`,
			VerificationRequiredEvent{Message: "verify", ClientMessageID: "c1"}},
		{`{"type":"error","code":"NOT_PARTICIPANT","message":"no","clientMessageId":"c2"}`,
			ErrorEvent{Code: "NOT_PARTICIPANT", Message: "no", ClientMessageID: "c2"}},
		{`{"type":"pong"}`, PongEvent{}},
		{`{"type":"diagnostic","message":"Default route","route":"typing"}`,
			DiagnosticEvent{Message: "Default route", Route: "typing"}},
		{`{"type":"presence"}`, UnknownEvent{Type: "presence", Raw: []byte(`{"type":"presence"}`)}},
	}
	for _, tc := range cases {
		ev, err := DecodeEvent([]byte(tc.raw))
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, ev)
	}

	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
	_, err = DecodeEvent([]byte(`{"type":"message","data":"oops"}`))
	assert.Error(t, err)
}
