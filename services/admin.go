package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"smm-telegram/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notification kinds recorded in the message log.
const (
	KindRejected          = "rejected"
	KindPlaced            = "placed"
	KindFulfillmentFailed = "fulfillment_failed"
	KindStatus            = "status"
)

const defaultRejectReason = "Payment could not be verified."

// Notifier delivers a message outside of a user's own request.
type Notifier interface {
	Notify(ctx context.Context, r Render) error
}

// Agency places and tracks orders at the fulfillment provider.
type Agency interface {
	Place(ctx context.Context, apiServiceID int, link string, quantity int) (string, error)
	Status(ctx context.Context, externalID string) (*AgencyStatus, error)
}

// FulfillmentOutcome is the result of one fulfillment dispatch.
type FulfillmentOutcome struct {
	OrderID    int64
	AdminID    int64
	ExternalID string
	Skipped    bool // another dispatch already owns the order
	Err        error
}

type BroadcastResult struct {
	Sent   int
	Failed int
}

type BotStatus struct {
	Margin    decimal.Decimal
	Overrides int
	Pending   int
	Uptime    time.Duration
}

type AdminOptions struct {
	AdminIDs       []int64
	CurrencySymbol string
	AgencyTimeout  time.Duration
	// OutcomeBuffer sizes the Outcomes channel. OutcomeTimeout is how long a
	// finished dispatch waits for room before reporting to the admins itself.
	OutcomeBuffer  int
	OutcomeTimeout time.Duration
}

// Admin holds the operations available to admins.
type Admin struct {
	ledger  Ledger
	margins *Margins
	catalog *Catalog
	agency  Agency
	dedupe  Deduper
	notify  Notifier
	users   UserDirectory
	events  Publisher
	log     *zap.Logger
	opts    AdminOptions

	admins    map[int64]bool
	outcomes  chan FulfillmentOutcome
	wg        sync.WaitGroup
	closeOnce sync.Once
	started   time.Time
}

func NewAdmin(
	ledger Ledger,
	margins *Margins,
	catalog *Catalog,
	agency Agency,
	dedupe Deduper,
	notify Notifier,
	users UserDirectory,
	events Publisher,
	log *zap.Logger,
	opts AdminOptions,
) *Admin {
	if events == nil {
		events = NopPublisher{}
	}
	if dedupe == nil {
		dedupe = NewMemoryDeduper()
	}
	if opts.AgencyTimeout <= 0 {
		opts.AgencyTimeout = 15 * time.Second
	}
	if opts.OutcomeBuffer <= 0 {
		opts.OutcomeBuffer = 64
	}
	if opts.OutcomeTimeout <= 0 {
		opts.OutcomeTimeout = 5 * time.Second
	}
	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}
	return &Admin{
		ledger:   ledger,
		margins:  margins,
		catalog:  catalog,
		agency:   agency,
		dedupe:   dedupe,
		notify:   notify,
		users:    users,
		events:   events,
		log:      log,
		opts:     opts,
		admins:   admins,
		outcomes: make(chan FulfillmentOutcome, opts.OutcomeBuffer),
		started:  time.Now(),
	}
}

func (a *Admin) IsAdmin(userID int64) bool { return a.admins[userID] }

func (a *Admin) AdminIDs() []int64 { return a.opts.AdminIDs }

// Outcomes delivers the result of every fulfillment dispatch.
func (a *Admin) Outcomes() <-chan FulfillmentOutcome { return a.outcomes }

// Wait blocks until all dispatched fulfillment tasks have finished.
func (a *Admin) Wait() { a.wg.Wait() }

// Close waits for the dispatched tasks and then closes Outcomes. No order may
// be approved or retried after Close.
func (a *Admin) Close() {
	a.closeOnce.Do(func() {
		a.wg.Wait()
		close(a.outcomes)
	})
}

func (a *Admin) authorize(adminID int64) error {
	if !a.IsAdmin(adminID) {
		return ErrUnauthorized
	}
	return nil
}

func (a *Admin) SetMargin(ctx context.Context, adminID int64, percent decimal.Decimal) error {
	if err := a.authorize(adminID); err != nil {
		return err
	}
	if err := a.margins.SetGlobal(ctx, percent); err != nil {
		return err
	}
	a.log.Info("margin changed", zap.Int64("admin_id", adminID), zap.String("percent", percent.String()))
	a.events.Publish(NewEnvelope(EventMarginChanged, 0, map[string]any{
		"scope": "global", "percent": percent.String(), "admin_id": adminID,
	}))
	return nil
}

// SetServiceMargin overrides the margin of one catalog service; nil clears the
// override.
func (a *Admin) SetServiceMargin(ctx context.Context, adminID int64, serviceID int, percent *decimal.Decimal) (*models.ServiceEntry, error) {
	if err := a.authorize(adminID); err != nil {
		return nil, err
	}
	e, err := a.catalog.ByID(serviceID)
	if err != nil {
		return nil, &ValidationError{Field: "service_id", Message: fmt.Sprintf("No service with id %d.", serviceID)}
	}
	if err := a.margins.SetService(ctx, e.Key(), percent); err != nil {
		return nil, err
	}
	value := "default"
	if percent != nil {
		value = percent.String()
	}
	a.log.Info("service margin changed", zap.Int64("admin_id", adminID), zap.String("service", e.Key()), zap.String("percent", value))
	a.events.Publish(NewEnvelope(EventMarginChanged, 0, map[string]any{
		"scope": e.Key(), "percent": value, "admin_id": adminID,
	}))
	return e, nil
}

// Approve marks a pending order approved and starts fulfillment in the
// background. It does not wait for the agency.
func (a *Admin) Approve(ctx context.Context, orderID, adminID int64) (*models.Order, error) {
	if err := a.authorize(adminID); err != nil {
		return nil, err
	}
	o, err := a.ledger.SetStatus(ctx, orderID, models.OrderStatusApproved, adminID, "")
	if err != nil {
		return nil, err
	}
	a.log.Info("order approved", zap.Int64("order_id", orderID), zap.Int64("admin_id", adminID))
	a.events.Publish(NewEnvelope(EventOrderApproved, orderID, map[string]any{"admin_id": adminID}))
	a.dispatch(o, adminID)
	return o, nil
}

// Reject marks a pending order rejected and tells its owner why.
func (a *Admin) Reject(ctx context.Context, orderID, adminID int64, reason string) (*models.Order, error) {
	if err := a.authorize(adminID); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRejectReason
	}
	o, err := a.ledger.SetStatus(ctx, orderID, models.OrderStatusRejected, adminID, reason)
	if err != nil {
		return nil, err
	}
	a.log.Info("order rejected", zap.Int64("order_id", orderID), zap.Int64("admin_id", adminID), zap.String("reason", reason))
	a.events.Publish(NewEnvelope(EventOrderRejected, orderID, map[string]any{"admin_id": adminID, "reason": reason}))
	a.send(ctx, Render{
		ChatID: o.ChatID,
		Text: fmt.Sprintf("❌ <b>Your payment for order #%d was not approved.</b>\nReason: %s\n\n"+
			"Please try again or contact support if you believe this is a mistake.", o.ID, html.EscapeString(reason)),
		OrderID: o.ID,
		Kind:    KindRejected,
	})
	return o, nil
}

// RetryFulfillment dispatches an approved order whose placement failed. With
// force it also takes an order left in the placing state by an interrupted
// dispatch; the admin must have checked that the provider has no such order.
func (a *Admin) RetryFulfillment(ctx context.Context, orderID, adminID int64, force bool) error {
	if err := a.authorize(adminID); err != nil {
		return err
	}
	o, err := a.ledger.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != models.OrderStatusApproved || o.ExternalOrderID != nil {
		return &ValidationError{Field: "order", Message: fmt.Sprintf("Order #%d has no failed fulfillment to retry.", orderID)}
	}
	switch o.FulfillmentStatus {
	case models.FulfillmentFailed, "":
	case models.FulfillmentPlacing:
		if !force {
			return &ValidationError{Field: "order", Message: fmt.Sprintf(
				"Order #%d is still being placed. If the provider has no such order, use /retry %d force.", orderID, orderID)}
		}
		if err := a.dedupe.Release(ctx, fulfillmentKey(orderID)); err != nil {
			return fmt.Errorf("release fulfillment claim: %w", err)
		}
		a.log.Warn("forced fulfillment retry", zap.Int64("order_id", orderID), zap.Int64("admin_id", adminID))
	default:
		return &ValidationError{Field: "order", Message: fmt.Sprintf("Order #%d has no failed fulfillment to retry.", orderID)}
	}
	if o.APIServiceID == 0 {
		if e, err := a.catalog.Lookup(o.Platform, o.Category, o.ServiceName); err == nil {
			o.APIServiceID = e.APIServiceID
		}
	}
	a.log.Info("fulfillment retry", zap.Int64("order_id", orderID), zap.Int64("admin_id", adminID))
	a.dispatch(o, adminID)
	return nil
}

func (a *Admin) dispatch(o *models.Order, adminID int64) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.AgencyTimeout)
		defer cancel()
		out := a.fulfill(ctx, o)
		out.AdminID = adminID
		timer := time.NewTimer(a.opts.OutcomeTimeout)
		defer timer.Stop()
		select {
		case a.outcomes <- out:
		case <-timer.C:
			a.log.Warn("fulfillment outcome not consumed, notifying admins", zap.Int64("order_id", o.ID))
			a.notifyAdmins(context.Background(), out)
		}
	}()
}

// notifyAdmins reports an outcome directly. Skipped dispatches only concern
// the admin who asked.
func (a *Admin) notifyAdmins(ctx context.Context, out FulfillmentOutcome) {
	ids := a.opts.AdminIDs
	if out.Skipped {
		ids = []int64{out.AdminID}
	}
	for _, id := range ids {
		a.send(ctx, Render{ChatID: id, Text: FormatOutcome(out)})
	}
}

// ReportStuck tells every admin about approved orders whose placement was
// interrupted, typically by a restart between marking the order placing and
// recording the provider's answer. Such orders are neither polled nor
// retried automatically. It returns how many orders were reported.
func (a *Admin) ReportStuck(ctx context.Context) (int, error) {
	stuck, err := a.ledger.ListPlacing(ctx)
	if err != nil {
		return 0, fmt.Errorf("list placing orders: %w", err)
	}
	for i := range stuck {
		o := &stuck[i]
		a.log.Warn("fulfillment interrupted", zap.Int64("order_id", o.ID))
		text := fmt.Sprintf("⚠️ <b>Order #%d</b> was being placed at the provider when the bot stopped, "+
			"so its outcome is unknown.\nCheck the provider panel for %s x%d. If it is not there, use /retry %d force.",
			o.ID, html.EscapeString(o.ServiceName), o.Quantity, o.ID)
		for _, id := range a.opts.AdminIDs {
			a.send(ctx, Render{ChatID: id, Text: text})
		}
	}
	return len(stuck), nil
}

// fulfill places the order at the agency at most once per claim.
func (a *Admin) fulfill(ctx context.Context, o *models.Order) FulfillmentOutcome {
	out := FulfillmentOutcome{OrderID: o.ID}
	key := fulfillmentKey(o.ID)
	claimed, err := a.dedupe.Claim(ctx, key)
	if err != nil {
		out.Err = &FulfillmentError{OrderID: o.ID, Reason: "dedupe claim", Err: err}
		return out
	}
	if !claimed {
		out.Skipped = true
		return out
	}

	// Ledger writes must land even when the agency call used up the deadline.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	fail := func(err error) FulfillmentOutcome {
		var fe *FulfillmentError
		if !errors.As(err, &fe) {
			fe = &FulfillmentError{Reason: "place order", Err: err}
		}
		fe.OrderID = o.ID
		out.Err = fe
		if rerr := a.ledger.RecordFulfillment(wctx, o.ID, "", fe.Error()); rerr != nil {
			a.log.Error("record fulfillment failure", zap.Int64("order_id", o.ID), zap.Error(rerr))
		}
		if rerr := a.dedupe.Release(wctx, key); rerr != nil {
			a.log.Warn("release fulfillment claim", zap.Int64("order_id", o.ID), zap.Error(rerr))
		}
		a.log.Warn("fulfillment failed", zap.Int64("order_id", o.ID), zap.Error(fe))
		a.events.Publish(NewEnvelope(EventFulfillmentFailed, o.ID, map[string]any{"error": fe.Error()}))
		a.send(wctx, Render{
			ChatID: o.ChatID,
			Text: fmt.Sprintf("⚠️ <b>Your payment for order #%d was approved</b>, but the order could not be started yet. "+
				"Our team has been notified and will take care of it.", o.ID),
			OrderID: o.ID,
			Kind:    KindFulfillmentFailed,
		})
		return out
	}

	if o.APIServiceID == 0 {
		return fail(&FulfillmentError{Reason: fmt.Sprintf("service %q has no api_service_id", o.ServiceKey)})
	}
	if err := a.ledger.MarkFulfillmentPlacing(wctx, o.ID); err != nil {
		return fail(&FulfillmentError{Reason: "mark placing", Err: err})
	}
	ext, err := a.agency.Place(ctx, o.APIServiceID, o.Link, o.Quantity)
	if err != nil {
		return fail(err)
	}
	out.ExternalID = ext
	if err := a.ledger.RecordFulfillment(wctx, o.ID, ext, ""); err != nil {
		// Placed upstream; keep the claim so it is not placed twice.
		a.log.Error("record fulfillment", zap.Int64("order_id", o.ID), zap.String("external_id", ext), zap.Error(err))
	}
	a.log.Info("fulfillment placed", zap.Int64("order_id", o.ID), zap.String("external_id", ext))
	a.events.Publish(NewEnvelope(EventFulfillmentPlaced, o.ID, map[string]any{"external_id": ext}))
	a.send(wctx, Render{
		ChatID: o.ChatID,
		Text: fmt.Sprintf("✅ <b>Your payment has been approved!</b>\nYour order #%d is now being processed.\n"+
			"Provider order ID: <code>%s</code>\nThank you for your trust!", o.ID, html.EscapeString(ext)),
		OrderID: o.ID,
		Kind:    KindPlaced,
	})
	return out
}

// Broadcast sends text to every known user. Failed deliveries are counted,
// not retried.
func (a *Admin) Broadcast(ctx context.Context, adminID int64, text string) (BroadcastResult, error) {
	var res BroadcastResult
	if err := a.authorize(adminID); err != nil {
		return res, err
	}
	if strings.TrimSpace(text) == "" {
		return res, &ValidationError{Field: "text", Message: "Broadcast text must not be empty."}
	}
	chats, err := a.users.ChatIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("list users: %w", err)
	}
	for _, chatID := range chats {
		if ctx.Err() != nil {
			res.Failed += len(chats) - res.Sent - res.Failed
			break
		}
		if err := a.notify.Notify(ctx, Render{ChatID: chatID, Text: html.EscapeString(text)}); err != nil {
			res.Failed++
			a.log.Warn("broadcast send", zap.Int64("chat_id", chatID), zap.Error(err))
			continue
		}
		res.Sent++
	}
	a.log.Info("broadcast done", zap.Int64("admin_id", adminID), zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}

func (a *Admin) Analytics(ctx context.Context) (models.Analytics, error) {
	return a.ledger.Analytics(ctx)
}

func (a *Admin) Status(ctx context.Context) (BotStatus, error) {
	stats, err := a.ledger.Analytics(ctx)
	if err != nil {
		return BotStatus{}, err
	}
	return BotStatus{
		Margin:    a.margins.Global(),
		Overrides: len(a.margins.Overrides()),
		Pending:   stats.PendingCount,
		Uptime:    time.Since(a.started),
	}, nil
}

// Pending returns the newest pending orders, at most limit of them.
func (a *Admin) Pending(ctx context.Context, limit int) ([]models.Order, error) {
	return a.ledger.List(ctx, models.OrderStatusPending, limit)
}

func (a *Admin) Order(ctx context.Context, id int64) (*models.Order, error) {
	return a.ledger.Get(ctx, id)
}

func (a *Admin) send(ctx context.Context, r Render) {
	if a.notify == nil {
		return
	}
	if err := a.notify.Notify(ctx, r); err != nil {
		a.log.Error("notify user", zap.Int64("chat_id", r.ChatID), zap.Int64("order_id", r.OrderID), zap.Error(err))
	}
}

// FormatAnalytics renders analytics for the admin chat.
func FormatAnalytics(s models.Analytics, symbol string) string {
	return fmt.Sprintf("📊 <b>Analytics</b>\n\nTotal orders: %d\n⏳ Pending: %d\n✅ Approved: %d\n❌ Rejected: %d\n"+
		"💰 Revenue: %s\n📈 Profit: %s",
		s.TotalOrders, s.PendingCount, s.ApprovedCount, s.RejectedCount,
		FormatMoney(symbol, s.Revenue), FormatMoney(symbol, s.Profit))
}

func FormatStatus(s BotStatus) string {
	return fmt.Sprintf("🔄 <b>Bot status</b>\n\n- Running\n- Profit margin: %s%%\n- Service overrides: %d\n"+
		"- Pending orders: %d\n- Uptime: %s",
		s.Margin.String(), s.Overrides, s.Pending, s.Uptime.Truncate(time.Second))
}

// FormatOutcome is the admin report of a fulfillment dispatch.
func FormatOutcome(o FulfillmentOutcome) string {
	switch {
	case o.Skipped:
		return fmt.Sprintf("ℹ️ Order #%d is already being fulfilled.", o.OrderID)
	case o.Err != nil:
		return fmt.Sprintf("⚠️ <b>Fulfillment failed</b> for order #%d: %s\nFix the cause and use /retry %d.",
			o.OrderID, html.EscapeString(o.Err.Error()), o.OrderID)
	}
	return fmt.Sprintf("🚀 Order #%d placed at the provider (ID <code>%s</code>).", o.OrderID, html.EscapeString(o.ExternalID))
}

// AdminOrderDetail is the card plus the decision and fulfillment state, used
// for /order and for cards edited after a decision.
func AdminOrderDetail(o *models.Order, symbol string) string {
	var b strings.Builder
	b.WriteString(AdminOrderCard(o, "", symbol))
	if o.DecidedBy != nil {
		verb := "Approved"
		if o.Status == models.OrderStatusRejected {
			verb = "Rejected"
		}
		fmt.Fprintf(&b, "\n\n%s %s by admin %d", statusEmoji(o.Status), verb, *o.DecidedBy)
		if o.DecidedAt != nil {
			fmt.Fprintf(&b, " at %s", o.DecidedAt.UTC().Format("2006-01-02 15:04 MST"))
		}
	}
	if fs := fulfillmentStatusText(o); fs != "" {
		fmt.Fprintf(&b, "\n🚚 Fulfillment: %s", html.EscapeString(fs))
	}
	if o.ExternalOrderID != nil {
		fmt.Fprintf(&b, "\n🆔 Provider order: <code>%s</code>", html.EscapeString(*o.ExternalOrderID))
	}
	if o.FulfillmentError != nil && o.FulfillmentStatus == models.FulfillmentFailed {
		fmt.Fprintf(&b, "\n⚠️ %s", html.EscapeString(*o.FulfillmentError))
	}
	return b.String()
}

// FormatPending lists pending orders for the admin chat.
func FormatPending(orders []models.Order, symbol string) string {
	if len(orders) == 0 {
		return "✅ No pending orders."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ <b>Pending orders (%d)</b>\n", len(orders))
	for i := range orders {
		o := &orders[i]
		fmt.Fprintf(&b, "\n#%d %s / %s x%d, %s", o.ID,
			html.EscapeString(string(o.Platform)), html.EscapeString(o.ServiceName), o.Quantity, FormatMoney(symbol, o.TotalPrice))
	}
	b.WriteString("\n\nUse /proof &lt;id&gt; to see the screenshot.")
	return b.String()
}

// MarginOverrides returns the per-service margins by service key.
func (a *Admin) MarginOverrides() map[string]decimal.Decimal { return a.margins.Overrides() }
