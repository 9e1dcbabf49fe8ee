package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-event-relay/backend/internal/model"
)

func TestSendWithoutOpenReturnsNotConnected(t *testing.T) {
	tr := NewWebSocketTransport("ws://127.0.0.1:1/api/ws", "")

	err := tr.Send([]byte(`{}`))
	assert.ErrorIs(t, err, model.ErrNotConnected)
}

func TestSendAfterCloseReturnsNotConnected(t *testing.T) {
	tr := NewWebSocketTransport("ws://127.0.0.1:1/api/ws", "")
	require.NoError(t, tr.Close())

	err := tr.Send([]byte(`{}`))
	assert.ErrorIs(t, err, model.ErrNotConnected)
}
