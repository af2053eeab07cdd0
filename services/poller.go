package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"smm-telegram/models"

	"go.uber.org/zap"
)

// StatusPoller follows approved orders at the agency until they reach a
// terminal status and tells users when their order changes.
type StatusPoller struct {
	ledger   Ledger
	agency   Agency
	notify   Notifier
	events   Publisher
	log      *zap.Logger
	interval time.Duration
}

func NewStatusPoller(ledger Ledger, agency Agency, notify Notifier, events Publisher, log *zap.Logger, interval time.Duration) *StatusPoller {
	if events == nil {
		events = NopPublisher{}
	}
	return &StatusPoller{ledger: ledger, agency: agency, notify: notify, events: events, log: log, interval: interval}
}

// Run polls every interval until ctx is done.
func (p *StatusPoller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.Error("status poll", zap.Error(err))
			}
		}
	}
}

// PollOnce checks every in-flight order once and returns how many changed.
// A failed status call for one order does not stop the others.
func (p *StatusPoller) PollOnce(ctx context.Context) (int, error) {
	orders, err := p.ledger.ListInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("list in flight: %w", err)
	}
	changed := 0
	for i := range orders {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		ok, err := p.check(ctx, &orders[i])
		if err != nil {
			p.log.Warn("order status", zap.Int64("order_id", orders[i].ID), zap.Error(err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (p *StatusPoller) check(ctx context.Context, o *models.Order) (bool, error) {
	st, err := p.agency.Status(ctx, *o.ExternalOrderID)
	if err != nil {
		return false, err
	}
	status := MapAgencyStatus(st.Status)
	var remains *int
	if status == models.FulfillmentPartial {
		r := st.Remains
		remains = &r
	}
	if status == o.FulfillmentStatus && sameRemains(remains, o.FulfillmentRemains) {
		return false, nil
	}
	if err := p.ledger.UpdateFulfillmentStatus(ctx, o.ID, status, remains); err != nil {
		return false, err
	}
	p.log.Info("fulfillment status changed", zap.Int64("order_id", o.ID),
		zap.String("from", o.FulfillmentStatus), zap.String("to", status))
	p.events.Publish(NewEnvelope(EventFulfillmentStatusChanged, o.ID, map[string]any{
		"status": status, "agency_status": st.Status, "remains": st.Remains,
	}))
	if p.notify != nil {
		r := Render{ChatID: o.ChatID, Text: statusNotice(o.ID, status, st), OrderID: o.ID, Kind: KindStatus + ":" + status}
		if err := p.notify.Notify(ctx, r); err != nil {
			p.log.Error("notify status", zap.Int64("order_id", o.ID), zap.Error(err))
		}
	}
	return true, nil
}

// MapAgencyStatus normalizes the agency's status string.
func MapAgencyStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed":
		return models.FulfillmentCompleted
	case "canceled", "cancelled":
		return models.FulfillmentCanceled
	case "fail", "failed":
		return models.FulfillmentFailed
	case "partial":
		return models.FulfillmentPartial
	}
	return models.FulfillmentProcessing
}

func statusNotice(orderID int64, status string, st *AgencyStatus) string {
	switch status {
	case models.FulfillmentCompleted:
		return fmt.Sprintf("🎉 <b>Your order #%d has been successfully delivered!</b>", orderID)
	case models.FulfillmentCanceled, models.FulfillmentFailed:
		return fmt.Sprintf("❌ <b>Your order #%d could not be completed.</b> Please contact support.", orderID)
	case models.FulfillmentPartial:
		return fmt.Sprintf("⚠️ <b>Your order #%d was partially completed.</b> Remaining: %d", orderID, st.Remains)
	}
	agency := st.Status
	if agency == "" {
		agency = "Unknown"
	}
	return fmt.Sprintf("⏳ <b>Your order #%d is processing.</b> Status: %s", orderID, html.EscapeString(agency))
}

func sameRemains(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
