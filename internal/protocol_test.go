package internal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	message, err := DecodeClientMessage([]byte(`{"type":"heartbeat","userId":"u1","pageUrl":"/a","timestamp":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, ClientMessage{Type: TypeHeartbeat, UserID: "u1", PageURL: "/a", Timestamp: 1700000000000}, message)
}

func TestDecodeClientMessageRejectsMalformed(t *testing.T) {
	for _, payload := range []string{`not json`, `{"userId":"u1"}`, `[1,2]`, `null`, `{"type":42}`} {
		_, err := DecodeClientMessage([]byte(payload))
		assert.Truef(t, errors.Is(err, ErrInvalidMessage), "payload %s: %v", payload, err)
	}
}

func TestDecodeClientMessageKeepsUnknownTypes(t *testing.T) {
	message, err := DecodeClientMessage([]byte(`{"type":"wave"}`))
	require.NoError(t, err)
	assert.Equal(t, "wave", message.Type)
}

func TestDecodeClientMessageToleratesOddTimestamp(t *testing.T) {
	message, err := DecodeClientMessage([]byte(`{"type":"ping","timestamp":"soon"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, message.Type)
	assert.Zero(t, message.Timestamp)

	message, err = DecodeClientMessage([]byte(`{"type":"ping","timestamp":1.5e3}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), message.Timestamp)
}

func TestDecodeClientMessageToleratesMistypedFields(t *testing.T) {
	message, err := DecodeClientMessage([]byte(`{"type":"heartbeat","userId":12345,"pageUrl":{"path":"/a"},"timestamp":1}`))
	require.NoError(t, err)
	assert.Equal(t, ClientMessage{Type: TypeHeartbeat, Timestamp: 1}, message)
}

func TestServerMessageEncoding(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	payload, err := NewCountMessage(0, at).encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"count","count":0,"timestamp":1700000000123}`, string(payload))

	payload, err = NewPongMessage(at).encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","timestamp":1700000000123}`, string(payload))
}

func TestDecodeServerMessage(t *testing.T) {
	message, err := DecodeServerMessage([]byte(`{"type":"count","count":3,"timestamp":1}`))
	require.NoError(t, err)
	require.NotNil(t, message.Count)
	assert.Equal(t, 3, *message.Count)

	_, err = DecodeServerMessage([]byte(`{"count":3}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
