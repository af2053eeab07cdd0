package services

import (
	"context"
	"testing"
	"time"

	"smm-telegram/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMapAgencyStatus(t *testing.T) {
	tests := map[string]string{
		"Completed":   models.FulfillmentCompleted,
		"Canceled":    models.FulfillmentCanceled,
		"cancelled":   models.FulfillmentCanceled,
		"Fail":        models.FulfillmentFailed,
		"Partial":     models.FulfillmentPartial,
		"In progress": models.FulfillmentProcessing,
		"Pending":     models.FulfillmentProcessing,
		"":            models.FulfillmentProcessing,
	}
	for in, want := range tests {
		assert.Equal(t, want, MapAgencyStatus(in), in)
	}
}

func placedOrder(t *testing.T, l *MemoryLedger, ref, ext string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := l.Create(ctx, orderInput(ref, 500))
	require.NoError(t, err)
	_, err = l.SetStatus(ctx, id, models.OrderStatusApproved, 900, "")
	require.NoError(t, err)
	require.NoError(t, l.RecordFulfillment(ctx, id, ext, ""))
	return id
}

func TestStatusPoller_NotifiesOnChange(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	agency := &fakeAgency{}
	notifier := &recordingNotifier{}
	events := &MemoryPublisher{}
	p := NewStatusPoller(l, agency, notifier, events, zaptest.NewLogger(t), time.Minute)

	id := placedOrder(t, l, "r1", "ext-1")
	agency.setStatus("ext-1", &AgencyStatus{Status: "In progress"})

	n, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "unchanged status is not reported again")
	require.Len(t, notifier.to(4200), 1)
	assert.Contains(t, notifier.to(4200)[0].Text, "In progress")

	agency.setStatus("ext-1", &AgencyStatus{Status: "Partial", Remains: 157})
	n, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, _ := l.Get(ctx, id)
	assert.Equal(t, models.FulfillmentPartial, o.FulfillmentStatus)
	require.NotNil(t, o.FulfillmentRemains)
	assert.Equal(t, 157, *o.FulfillmentRemains)

	msgs := notifier.to(4200)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "Remaining: 157")
	assert.Equal(t, KindStatus+":"+models.FulfillmentPartial, msgs[1].Kind)

	inFlight, _ := l.ListInFlight(ctx)
	assert.Empty(t, inFlight, "terminal orders are no longer polled")
	assert.Equal(t, []string{EventFulfillmentStatusChanged, EventFulfillmentStatusChanged}, events.Types())
}

func TestStatusPoller_ErrorDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	agency := &fakeAgency{}
	notifier := &recordingNotifier{}
	p := NewStatusPoller(l, agency, notifier, nil, zaptest.NewLogger(t), time.Minute)

	placedOrder(t, l, "a", "ext-unknown")
	b := placedOrder(t, l, "b", "ext-b")
	agency.setStatus("ext-b", &AgencyStatus{Status: "Completed"})

	n, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	o, _ := l.Get(ctx, b)
	assert.Equal(t, models.FulfillmentCompleted, o.FulfillmentStatus)
	assert.Contains(t, notifier.to(4200)[0].Text, "successfully delivered")
}

func TestStatusPoller_RunStopsOnCancel(t *testing.T) {
	l := NewMemoryLedger()
	p := NewStatusPoller(l, &fakeAgency{}, nil, nil, zaptest.NewLogger(t), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
