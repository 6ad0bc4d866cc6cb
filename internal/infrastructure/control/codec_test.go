package control

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind MessageKind
	}{
		{"handshake request", `{"app":"nearcast","ver":1,"role":"viewer","code":"1234","name":"Tablet"}`, KindHandshakeRequest},
		{"accept response", `{"ok":true,"sessionID":"abc","udpPort":7461}`, KindHandshakeResponse},
		{"decline response", `{"ok":false,"message":"Declined"}`, KindHandshakeResponse},
		{"heartbeat", `{"hb":1}`, KindHeartbeat},
		{"broadcast on", `{"on":true}`, KindBroadcastStatus},
		{"broadcast off", `{"on":false}`, KindBroadcastStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
		})
	}
}

func TestDecodeMessage_Fields(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"app":"nearcast","ver":1,"role":"viewer","code":"1234","name":"Tablet"}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Handshake)
	assert.Equal(t, "nearcast", msg.Handshake.App)
	assert.Equal(t, 1, msg.Handshake.Ver)
	assert.Equal(t, "viewer", msg.Handshake.Role)
	assert.Equal(t, "1234", msg.Handshake.Code)
	assert.Equal(t, "Tablet", msg.Handshake.Name)

	msg, err = DecodeMessage([]byte(`{"ok":true,"sessionID":"abc","udpPort":7461}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Response)
	assert.True(t, msg.Response.OK)
	assert.Equal(t, "abc", msg.Response.SessionID)
	assert.Equal(t, 7461, msg.Response.UDPPort)

	msg, err = DecodeMessage([]byte(`{"on":true}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Broadcast)
	assert.True(t, msg.Broadcast.On)
}

func TestDecodeMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "garbage"},
		{"truncated json", `{"app":"near`},
		{"unrecognized keys", `{"something":"else"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.line))
			var perr *ProtocolError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestWriteMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, &HandshakeRequest{App: AppID, Ver: ProtocolVersion, Role: RoleViewer, Code: "1234"}))
	require.NoError(t, WriteMessage(&buf, &Heartbeat{HB: 1}))
	require.NoError(t, WriteMessage(&buf, &BroadcastStatus{On: true}))

	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte{'\n'}))

	lr := NewLineReader(&buf)

	msg, err := lr.Next()
	require.NoError(t, err)
	assert.Equal(t, KindHandshakeRequest, msg.Kind)
	assert.Equal(t, "1234", msg.Handshake.Code)

	msg, err = lr.Next()
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, msg.Kind)

	msg, err = lr.Next()
	require.NoError(t, err)
	assert.Equal(t, KindBroadcastStatus, msg.Kind)

	_, err = lr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineReader_SkipsBlankLines(t *testing.T) {
	lr := NewLineReader(strings.NewReader("\n\n{\"hb\":1}\n"))

	msg, err := lr.Next()
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, msg.Kind)
}

func TestLineReader_OversizeLine(t *testing.T) {
	long := strings.Repeat("x", MaxLineBytes+16)
	lr := NewLineReader(strings.NewReader(long))

	_, err := lr.Next()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "exceeds")
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(io.EOF))
	assert.False(t, IsTimeout(errors.New("plain")))
	assert.True(t, IsTimeout(&timeoutErr{}))
}

type timeoutErr struct{}

func (*timeoutErr) Error() string   { return "deadline" }
func (*timeoutErr) Timeout() bool   { return true }
func (*timeoutErr) Temporary() bool { return true }

func TestHeartbeatConfig_Timeout(t *testing.T) {
	assert.Equal(t, 6*time.Second, HeartbeatConfig{}.Timeout())
	assert.Equal(t, 2*time.Second, HeartbeatConfig{Interval: time.Second, MissLimit: 2}.Timeout())
}

func TestHandshakeLimiter(t *testing.T) {
	l := NewHandshakeLimiter(0.001, 2)

	assert.True(t, l.Allow("192.168.1.5:40000"))
	assert.True(t, l.Allow("192.168.1.5:40001"))
	assert.False(t, l.Allow("192.168.1.5:40002"), "burst exhausted for that host")

	assert.True(t, l.Allow("192.168.1.6:40000"), "other hosts unaffected")
}
