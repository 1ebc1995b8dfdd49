package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		kind    RequestKind
		content string
	}{
		{KindLogin, "alice"},
		{KindLogout, NoContent},
		{KindMsg, "hello, world"},
		{KindNames, NoContent},
		{KindHelp, NoContent},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			data, err := EncodeRequest(tt.kind, tt.content)
			require.NoError(t, err)

			req, err := DecodeRequest(data)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, req.Kind)
			assert.Equal(t, tt.content, req.Content)
		})
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "login alice"},
		{"empty", ""},
		{"missing request field", `{"content":"alice"}`},
		{"empty request field", `{"request":"","content":"alice"}`},
		{"missing content field", `{"request":"login"}`},
		{"json array", `["login","alice"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.data))
			require.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestDecodeRequestKeepsUnknownKind(t *testing.T) {
	// Unknown kinds decode fine; rejecting them is the validator's job.
	req, err := DecodeRequest([]byte(`{"request":"dance","content":"None"}`))
	require.NoError(t, err)
	assert.Equal(t, RequestKind("dance"), req.Kind)
}

func TestResponseRoundTrip(t *testing.T) {
	for _, kind := range []ResponseKind{KindError, KindInfo, KindMessage, KindHistory} {
		t.Run(string(kind), func(t *testing.T) {
			resp := NewResponse("alice", kind, "some content")
			data, err := resp.Encode()
			require.NoError(t, err)

			decoded, err := DecodeResponse(data)
			require.NoError(t, err)
			assert.Equal(t, resp, decoded)
		})
	}
}

func TestNewResponseTimestampLayout(t *testing.T) {
	resp := NewResponse(ServerName, KindInfo, "hi")
	stamp, err := time.ParseInLocation(TimeLayout, resp.Timestamp, time.Local)
	require.NoError(t, err, "timestamp %q should match the asctime layout", resp.Timestamp)
	assert.WithinDuration(t, time.Now(), stamp, 2*time.Second)
}

func TestDecodeResponseMalformed(t *testing.T) {
	_, err := DecodeResponse([]byte("{broken"))
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = DecodeResponse([]byte(`{"timestamp":"x","sender":"y","content":"z"}`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestTakesContent(t *testing.T) {
	assert.True(t, KindLogin.TakesContent())
	assert.True(t, KindMsg.TakesContent())
	assert.False(t, KindLogout.TakesContent())
	assert.False(t, KindNames.TakesContent())
	assert.False(t, KindHelp.TakesContent())
}
