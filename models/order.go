package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusRejected OrderStatus = "rejected"
)

func (s OrderStatus) Valid() bool {
	return s == OrderStatusPending || s == OrderStatusApproved || s == OrderStatusRejected
}

// Fulfillment progress of an approved order at the agency.
const (
	FulfillmentPlacing    = "placing"
	FulfillmentPlaced     = "placed"
	FulfillmentFailed     = "failed"
	FulfillmentProcessing = "processing"
	FulfillmentCompleted  = "completed"
	FulfillmentPartial    = "partial"
	FulfillmentCanceled   = "canceled"
)

// FulfillmentTerminal reports whether the agency will not change the status again.
func FulfillmentTerminal(status string) bool {
	switch status {
	case FulfillmentCompleted, FulfillmentPartial, FulfillmentCanceled, FulfillmentFailed:
		return true
	}
	return false
}

type CreateOrderInput struct {
	UserID        int64
	ChatID        int64
	ServiceKey    string
	Platform      Platform
	Category      string
	ServiceName   string
	APIServiceID  int
	Link          string
	Quantity      int
	UnitCost      decimal.Decimal
	MarginPercent decimal.Decimal
	UnitPrice     decimal.Decimal
	TotalPrice    decimal.Decimal
	PaymentRef    string
	ProofRef      string
}

// Order is a submitted order. Price fields are a snapshot taken at submission.
type Order struct {
	ID            int64
	UserID        int64
	ChatID        int64
	ServiceKey    string
	Platform      Platform
	Category      string
	ServiceName   string
	APIServiceID  int
	Link          string
	Quantity      int
	UnitCost      decimal.Decimal
	MarginPercent decimal.Decimal
	UnitPrice     decimal.Decimal
	TotalPrice    decimal.Decimal
	PaymentRef    string
	ProofRef      string
	Status        OrderStatus
	CreatedAt     time.Time
	DecidedAt     *time.Time
	DecidedBy     *int64
	RejectReason  *string

	ExternalOrderID    *string
	FulfillmentStatus  string
	FulfillmentError   *string
	FulfillmentRemains *int
}

// Cost is the wholesale cost of the whole order.
func (o *Order) Cost() decimal.Decimal {
	return o.UnitCost.Mul(decimal.NewFromInt(int64(o.Quantity))).Round(2)
}

func (o *Order) Profit() decimal.Decimal {
	return o.TotalPrice.Sub(o.Cost())
}

type Analytics struct {
	TotalOrders   int
	PendingCount  int
	ApprovedCount int
	RejectedCount int
	Revenue       decimal.Decimal // sum of approved totals
	Profit        decimal.Decimal // revenue minus wholesale cost of approved orders
}
