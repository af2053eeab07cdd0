package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"smm-telegram/models"

	"github.com/shopspring/decimal"
)

// Ledger is the durable record of submitted orders.
type Ledger interface {
	// Create stores a new pending order and returns its id.
	Create(ctx context.Context, in models.CreateOrderInput) (int64, error)
	Get(ctx context.Context, id int64) (*models.Order, error)
	// List returns up to limit orders with the given status, newest first.
	// "" lists all statuses; limit <= 0 means no limit.
	List(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error)
	// SetStatus moves a pending order to approved or rejected. It fails with
	// ErrInvalidTransition when the order is not pending any more.
	SetStatus(ctx context.Context, id int64, to models.OrderStatus, adminID int64, reason string) (*models.Order, error)
	// RecordFulfillment stores the outcome of placing the order at the agency.
	// externalID is empty on failure, errMsg is empty on success.
	RecordFulfillment(ctx context.Context, id int64, externalID, errMsg string) error
	MarkFulfillmentPlacing(ctx context.Context, id int64) error
	UpdateFulfillmentStatus(ctx context.Context, id int64, status string, remains *int) error
	// ListInFlight returns approved orders placed at the agency that have not
	// reached a terminal fulfillment status.
	ListInFlight(ctx context.Context) ([]models.Order, error)
	// ListPlacing returns approved orders left in the placing state without a
	// provider order id, i.e. placements interrupted before their outcome was
	// recorded.
	ListPlacing(ctx context.Context) ([]models.Order, error)
	Analytics(ctx context.Context) (models.Analytics, error)
}

// ValidStatusTransition reports whether an order may move from -> to.
func ValidStatusTransition(from, to models.OrderStatus) bool {
	return from == models.OrderStatusPending && (to == models.OrderStatusApproved || to == models.OrderStatusRejected)
}

func checkCreateInput(in models.CreateOrderInput) error {
	switch {
	case in.UserID == 0:
		return fmt.Errorf("create order: user id required")
	case in.Quantity <= 0:
		return fmt.Errorf("create order: quantity must be positive")
	case in.PaymentRef == "":
		return fmt.Errorf("create order: payment ref required")
	case !in.TotalPrice.Equal(RoundMoney(in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))))):
		return fmt.Errorf("create order: total %s does not match unit price %s x %d", in.TotalPrice, in.UnitPrice, in.Quantity)
	}
	return nil
}

// MemoryLedger is an in-process Ledger with the same semantics as the
// Postgres one.
type MemoryLedger struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*models.Order
	refs   map[string]int64
	now    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		orders: make(map[int64]*models.Order),
		refs:   make(map[string]int64),
		now:    time.Now,
	}
}

func (l *MemoryLedger) Create(ctx context.Context, in models.CreateOrderInput) (int64, error) {
	if err := checkCreateInput(in); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.refs[in.PaymentRef]; dup {
		return 0, fmt.Errorf("create order: payment ref %s already used", in.PaymentRef)
	}
	l.nextID++
	o := &models.Order{
		ID:            l.nextID,
		UserID:        in.UserID,
		ChatID:        in.ChatID,
		ServiceKey:    in.ServiceKey,
		Platform:      in.Platform,
		Category:      in.Category,
		ServiceName:   in.ServiceName,
		APIServiceID:  in.APIServiceID,
		Link:          in.Link,
		Quantity:      in.Quantity,
		UnitCost:      in.UnitCost,
		MarginPercent: in.MarginPercent,
		UnitPrice:     in.UnitPrice,
		TotalPrice:    in.TotalPrice,
		PaymentRef:    in.PaymentRef,
		ProofRef:      in.ProofRef,
		Status:        models.OrderStatusPending,
		CreatedAt:     l.now(),
	}
	l.orders[o.ID] = o
	l.refs[in.PaymentRef] = o.ID
	return o.ID, nil
}

func (l *MemoryLedger) Get(ctx context.Context, id int64) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (l *MemoryLedger) List(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	return l.filter(func(o *models.Order) bool { return status == "" || o.Status == status }, limit), nil
}

func (l *MemoryLedger) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	return l.filter(func(o *models.Order) bool { return o.UserID == userID }, limit), nil
}

func (l *MemoryLedger) ListInFlight(ctx context.Context) ([]models.Order, error) {
	out := l.filter(func(o *models.Order) bool {
		return o.Status == models.OrderStatusApproved && o.ExternalOrderID != nil && !models.FulfillmentTerminal(o.FulfillmentStatus)
	}, 0)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemoryLedger) ListPlacing(ctx context.Context) ([]models.Order, error) {
	out := l.filter(func(o *models.Order) bool {
		return o.Status == models.OrderStatusApproved && o.ExternalOrderID == nil && o.FulfillmentStatus == models.FulfillmentPlacing
	}, 0)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemoryLedger) filter(keep func(*models.Order) bool, limit int) []models.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Order
	for _, o := range l.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (l *MemoryLedger) SetStatus(ctx context.Context, id int64, to models.OrderStatus, adminID int64, reason string) (*models.Order, error) {
	if to != models.OrderStatusApproved && to != models.OrderStatusRejected {
		return nil, fmt.Errorf("set status %q: %w", to, ErrInvalidTransition)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if !ValidStatusTransition(o.Status, to) {
		return nil, fmt.Errorf("order %d is %s: %w", id, o.Status, ErrInvalidTransition)
	}
	now := l.now()
	o.Status = to
	o.DecidedAt = &now
	o.DecidedBy = &adminID
	if to == models.OrderStatusRejected {
		o.RejectReason = &reason
	}
	cp := *o
	return &cp, nil
}

func (l *MemoryLedger) MarkFulfillmentPlacing(ctx context.Context, id int64) error {
	return l.update(id, func(o *models.Order) {
		o.FulfillmentStatus = models.FulfillmentPlacing
		o.FulfillmentError = nil
	})
}

func (l *MemoryLedger) RecordFulfillment(ctx context.Context, id int64, externalID, errMsg string) error {
	return l.update(id, func(o *models.Order) {
		if errMsg != "" {
			o.FulfillmentStatus = models.FulfillmentFailed
			o.FulfillmentError = &errMsg
			return
		}
		o.ExternalOrderID = &externalID
		o.FulfillmentStatus = models.FulfillmentPlaced
		o.FulfillmentError = nil
	})
}

func (l *MemoryLedger) UpdateFulfillmentStatus(ctx context.Context, id int64, status string, remains *int) error {
	return l.update(id, func(o *models.Order) {
		o.FulfillmentStatus = status
		o.FulfillmentRemains = remains
	})
}

func (l *MemoryLedger) update(id int64, fn func(*models.Order)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	fn(o)
	return nil
}

func (l *MemoryLedger) Analytics(ctx context.Context) (models.Analytics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := models.Analytics{Revenue: decimal.Zero, Profit: decimal.Zero}
	for _, o := range l.orders {
		a.TotalOrders++
		switch o.Status {
		case models.OrderStatusPending:
			a.PendingCount++
		case models.OrderStatusApproved:
			a.ApprovedCount++
			a.Revenue = a.Revenue.Add(o.TotalPrice)
			a.Profit = a.Profit.Add(o.Profit())
		case models.OrderStatusRejected:
			a.RejectedCount++
		}
	}
	return a, nil
}
