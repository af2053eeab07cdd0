package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"smm-telegram/db"
	"smm-telegram/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidStatusTransition(t *testing.T) {
	tests := []struct {
		from, to models.OrderStatus
		want     bool
	}{
		{models.OrderStatusPending, models.OrderStatusApproved, true},
		{models.OrderStatusPending, models.OrderStatusRejected, true},
		{models.OrderStatusPending, models.OrderStatusPending, false},
		{models.OrderStatusApproved, models.OrderStatusRejected, false},
		{models.OrderStatusApproved, models.OrderStatusPending, false},
		{models.OrderStatusRejected, models.OrderStatusApproved, false},
		{"", models.OrderStatusApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidStatusTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func orderInput(ref string, qty int) models.CreateOrderInput {
	unit := decimal.RequireFromString("0.7")
	return models.CreateOrderInput{
		UserID:        42,
		ChatID:        4200,
		ServiceKey:    "Instagram/Followers/Instagram Followers",
		Platform:      models.PlatformInstagram,
		Category:      "Followers",
		ServiceName:   "Instagram Followers",
		APIServiceID:  101,
		Link:          "https://instagram.com/someone",
		Quantity:      qty,
		UnitCost:      decimal.RequireFromString("0.5"),
		MarginPercent: decimal.NewFromInt(40),
		UnitPrice:     unit,
		TotalPrice:    RoundMoney(unit.Mul(decimal.NewFromInt(int64(qty)))),
		PaymentRef:    ref,
		ProofRef:      "payment_4200_" + ref + ".jpg",
	}
}

func TestCheckCreateInput(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.CreateOrderInput)
		wantErr bool
	}{
		{"valid", func(*models.CreateOrderInput) {}, false},
		{"no user", func(in *models.CreateOrderInput) { in.UserID = 0 }, true},
		{"zero quantity", func(in *models.CreateOrderInput) { in.Quantity = 0 }, true},
		{"no payment ref", func(in *models.CreateOrderInput) { in.PaymentRef = "" }, true},
		{"total mismatch", func(in *models.CreateOrderInput) { in.TotalPrice = decimal.NewFromInt(1) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := orderInput("r1", 500)
			tt.mutate(&in)
			err := checkCreateInput(in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryLedger_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	id, err := l.Create(ctx, orderInput("r1", 500))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	o, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, "350", o.TotalPrice.String())
	assert.Equal(t, "250", o.Cost().String())
	assert.Equal(t, "100", o.Profit().String())

	_, err = l.Create(ctx, orderInput("r1", 100))
	assert.Error(t, err, "payment ref is unique")

	_, err = l.Get(ctx, 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryLedger_ConcurrentCreateUniqueIDs(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	const n = 50
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := l.Create(ctx, orderInput(fmt.Sprintf("r%d", i), 100))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()
	seen := map[int64]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestMemoryLedger_SetStatusIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	id, err := l.Create(ctx, orderInput("r1", 500))
	require.NoError(t, err)

	var wins, lost atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := models.OrderStatusApproved
			if i%2 == 1 {
				to = models.OrderStatusRejected
			}
			_, err := l.SetStatus(ctx, id, to, int64(900+i), "reason")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidTransition):
				lost.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), lost.Load())

	_, err = l.SetStatus(ctx, 99, models.OrderStatusApproved, 900, "")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = l.SetStatus(ctx, id, models.OrderStatusPending, 900, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestMemoryLedger_FulfillmentAndInFlight(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.Create(ctx, orderInput("a", 100))
	b, _ := l.Create(ctx, orderInput("b", 100))
	c, _ := l.Create(ctx, orderInput("c", 100))
	for _, id := range []int64{a, b, c} {
		_, err := l.SetStatus(ctx, id, models.OrderStatusApproved, 900, "")
		require.NoError(t, err)
	}
	require.NoError(t, l.RecordFulfillment(ctx, a, "ext-a", ""))
	require.NoError(t, l.RecordFulfillment(ctx, b, "", "agency down"))
	require.NoError(t, l.RecordFulfillment(ctx, c, "ext-c", ""))
	require.NoError(t, l.UpdateFulfillmentStatus(ctx, c, models.FulfillmentCompleted, nil))

	inFlight, err := l.ListInFlight(ctx)
	require.NoError(t, err)
	require.Len(t, inFlight, 1)
	assert.Equal(t, a, inFlight[0].ID)

	ob, _ := l.Get(ctx, b)
	assert.Equal(t, models.FulfillmentFailed, ob.FulfillmentStatus)
	require.NotNil(t, ob.FulfillmentError)
	assert.Equal(t, "agency down", *ob.FulfillmentError)
	assert.Equal(t, models.OrderStatusApproved, ob.Status, "failed fulfillment keeps the order approved")

	assert.True(t, errors.Is(l.MarkFulfillmentPlacing(ctx, 99), ErrNotFound))
}

func TestMemoryLedger_ListPlacing(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.Create(ctx, orderInput("a", 100))
	b, _ := l.Create(ctx, orderInput("b", 100))
	_, _ = l.Create(ctx, orderInput("c", 100))
	for _, id := range []int64{a, b} {
		_, err := l.SetStatus(ctx, id, models.OrderStatusApproved, 900, "")
		require.NoError(t, err)
		require.NoError(t, l.MarkFulfillmentPlacing(ctx, id))
	}
	require.NoError(t, l.RecordFulfillment(ctx, b, "ext-b", ""))

	stuck, err := l.ListPlacing(ctx)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, a, stuck[0].ID)
}

func TestMemoryLedger_ListAndAnalytics(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	a, _ := l.Create(ctx, orderInput("a", 500))
	b, _ := l.Create(ctx, orderInput("b", 100))
	_, _ = l.Create(ctx, orderInput("c", 1000))
	_, err := l.SetStatus(ctx, a, models.OrderStatusApproved, 900, "")
	require.NoError(t, err)
	_, err = l.SetStatus(ctx, b, models.OrderStatusRejected, 900, "blurry")
	require.NoError(t, err)

	pending, _ := l.List(ctx, models.OrderStatusPending, 0)
	require.Len(t, pending, 1)
	all, _ := l.List(ctx, "", 0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID, "newest first")
	latest, _ := l.List(ctx, "", 2)
	require.Len(t, latest, 2)
	assert.Equal(t, []int64{3, 2}, []int64{latest[0].ID, latest[1].ID})

	mine, _ := l.ListByUser(ctx, 42, 2)
	assert.Len(t, mine, 2)

	s, err := l.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalOrders)
	assert.Equal(t, 1, s.PendingCount)
	assert.Equal(t, 1, s.ApprovedCount)
	assert.Equal(t, 1, s.RejectedCount)
	assert.Equal(t, "350", s.Revenue.String())
	assert.Equal(t, "100", s.Profit.String())
}

// Integration test against Postgres. Skipped when db.Pool is nil or -short.
func TestPgLedger_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ledger integration test in short mode")
	}
	if db.Pool == nil {
		t.Skip("skipping ledger integration test: no DB pool")
	}
	ctx := context.Background()
	l := NewPgLedger(db.Pool)
	ref := fmt.Sprintf("it-%d", testUser)
	_, _ = db.Pool.Exec(ctx, `DELETE FROM orders WHERE payment_ref = $1`, ref)

	id, err := l.Create(ctx, orderInput(ref, 500))
	require.NoError(t, err)
	defer func() { _, _ = db.Pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id) }()

	o, err := l.SetStatus(ctx, id, models.OrderStatusApproved, 900, "")
	require.NoError(t, err)
	assert.Equal(t, "350", o.TotalPrice.String())
	_, err = l.SetStatus(ctx, id, models.OrderStatusRejected, 901, "late")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}
