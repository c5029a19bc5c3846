package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockListener_EmitsOnInterval(t *testing.T) {
	l := NewMockListener(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	msgs := l.Listen(ctx)
	msg, ok := <-msgs
	require.True(t, ok)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "mock-module", msg.KillReport.TargetModule)
}

func TestMockListener_AckRecordsID(t *testing.T) {
	l := NewMockListener(time.Second)
	require.NoError(t, l.Ack(t.Context(), "mock-1"))

	select {
	case id := <-l.Acked():
		assert.Equal(t, "mock-1", id)
	default:
		t.Fatal("expected acked id to be recorded")
	}
}
