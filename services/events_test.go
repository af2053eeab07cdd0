package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEnvelope_JSON(t *testing.T) {
	ev := NewEnvelope(EventOrderApproved, 7, map[string]any{"admin_id": 900})
	assert.Len(t, ev.ID, 36)
	assert.False(t, ev.At.IsZero())

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "OrderApproved", got["type"])
	assert.Equal(t, float64(7), got["order_id"])
	assert.Equal(t, map[string]any{"admin_id": float64(900)}, got["data"])

	b, err = json.Marshal(NewEnvelope(EventMarginChanged, 0, nil))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "order_id")
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	p.Publish(NewEnvelope(EventOrderSubmitted, 1, nil))
	p.Publish(NewEnvelope(EventOrderRejected, 1, nil))
	assert.Equal(t, []string{EventOrderSubmitted, EventOrderRejected}, p.Types())
	assert.Equal(t, int64(1), p.Events()[1].OrderID)
}

func TestKafkaPublisher_DropsAfterShutdown(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "orders", 1, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	select {
	case <-p.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not shut down")
	}
	assert.NotPanics(t, func() { p.Publish(NewEnvelope(EventOrderSubmitted, 1, nil)) })
}
