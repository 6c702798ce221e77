package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversationApplied(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	conv := Conversation{ThreadID: "t1", Step: 1, LastInboundID: "r1", LastInboundAt: at}

	require.True(t, conv.Applied(InboundMessage{ID: "r1"}))
	require.True(t, conv.Applied(InboundMessage{ID: "r0", ReceivedAt: at.Add(-time.Second)}))
	require.True(t, conv.Applied(InboundMessage{ID: "r1b", ReceivedAt: at}))
	require.False(t, conv.Applied(InboundMessage{ID: "r2", ReceivedAt: at.Add(time.Second)}))
	require.False(t, conv.Applied(InboundMessage{ID: "r3"}))

	require.False(t, Conversation{ThreadID: "t1"}.Applied(InboundMessage{ID: "r1", ReceivedAt: at}))
}
