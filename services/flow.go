package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"smm-telegram/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuantityPresets are offered as buttons; any other amount is typed.
var QuantityPresets = []int{100, 500, 1000, 5000}

// FlowOptions carries the static settings of the order flow.
type FlowOptions struct {
	AdminIDs       []int64
	LinkHosts      map[models.Platform][]string
	UPIID          string
	PayeeName      string
	CurrencyCode   string
	CurrencySymbol string
}

// Flow drives each user through
// platform → category → service → link → quantity → review → payment → proof.
type Flow struct {
	catalog  *Catalog
	margins  *Margins
	sessions *SessionStore
	ledger   Ledger
	proofs   *ProofStore
	users    UserDirectory
	events   Publisher
	log      *zap.Logger
	opts     FlowOptions
	newRef   func() string
}

func NewFlow(
	catalog *Catalog,
	margins *Margins,
	sessions *SessionStore,
	ledger Ledger,
	proofs *ProofStore,
	users UserDirectory,
	events Publisher,
	log *zap.Logger,
	opts FlowOptions,
) *Flow {
	if events == nil {
		events = NopPublisher{}
	}
	return &Flow{
		catalog:  catalog,
		margins:  margins,
		sessions: sessions,
		ledger:   ledger,
		proofs:   proofs,
		users:    users,
		events:   events,
		log:      log,
		opts:     opts,
		newRef:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:16] },
	}
}

// Handle applies one user action and returns the messages to send. Actions of
// the same user are handled one at a time.
func (f *Flow) Handle(ctx context.Context, a Action) []Render {
	unlock := f.sessions.Lock(a.UserID)
	defer unlock()

	if f.users != nil {
		if err := f.users.Touch(ctx, a.UserID, a.ChatID, a.Username); err != nil {
			f.log.Warn("touch user", zap.Int64("user_id", a.UserID), zap.Error(err))
		}
	}

	sess, expired := f.sessions.Get(a.UserID)
	var out []Render
	if expired {
		out = append(out, f.text(a.ChatID, "⌛ Your previous order session expired. Please start again."))
		if a.Type != ActionStart && a.Type != ActionCancel {
			return append(out, f.platformMenu(a.ChatID, "Choose a platform:"))
		}
	}

	switch a.Type {
	case ActionStart:
		f.sessions.Delete(a.UserID)
		return append(out, f.platformMenu(a.ChatID, welcomeText))
	case ActionCancel:
		f.sessions.Delete(a.UserID)
		return append(out, f.text(a.ChatID, "❌ Order cancelled."), f.platformMenu(a.ChatID, "Choose a platform:"))
	case ActionManagerAccess:
		return append(out, f.text(a.ChatID, managerAccessText))
	case ActionMyOrders:
		return append(out, f.myOrders(ctx, a))
	}

	if sess == nil {
		sess = &Session{UserID: a.UserID, ChatID: a.ChatID, State: StateIdle}
	}
	sess.ChatID = a.ChatID
	from := sess.State

	renders, err := f.apply(ctx, sess, a)
	if err != nil {
		if msg := UserMessage(err); msg != "" {
			out = append(out, f.text(a.ChatID, "❌ "+html.EscapeString(msg)))
		} else {
			f.log.Error("order flow", zap.Int64("user_id", a.UserID), zap.String("state", from.String()),
				zap.String("action", string(a.Type)), zap.Error(err))
			out = append(out, f.text(a.ChatID, "⚠️ Something went wrong. Please try again."))
		}
		if sess.State != StateIdle {
			f.sessions.Put(sess)
		}
		return append(out, f.prompt(sess))
	}

	switch sess.State {
	case StateIdle, StateSubmitted:
		f.sessions.Delete(a.UserID)
	default:
		f.sessions.Put(sess)
	}
	if from != sess.State {
		f.log.Debug("session transition", zap.Int64("user_id", a.UserID),
			zap.String("from", from.String()), zap.String("to", sess.State.String()))
	}
	return append(out, renders...)
}

// apply performs at most one transition. Actions that do not fit the state
// re-render the current prompt.
func (f *Flow) apply(ctx context.Context, s *Session, a Action) ([]Render, error) {
	switch {
	case a.Type == ActionBack:
		return f.back(s)

	case a.Type == ActionPlatform && s.State == StateIdle:
		p := models.Platform(a.Payload)
		if !f.catalog.HasPlatform(p) {
			return nil, &ValidationError{Field: "platform", Message: "Unknown platform. Please choose one from the menu."}
		}
		s.Platform = p
		s.State = StatePlatformChosen

	case a.Type == ActionCategory && s.State == StatePlatformChosen:
		i, err := strconv.Atoi(a.Payload)
		category, ok := f.catalog.CategoryAt(s.Platform, i)
		if err != nil || !ok {
			return nil, &ValidationError{Field: "category", Message: "Unknown category. Please choose one from the menu."}
		}
		s.Category = category
		s.State = StateCategoryChosen

	case a.Type == ActionService && s.State == StateCategoryChosen:
		id, err := strconv.Atoi(a.Payload)
		if err != nil {
			return nil, &ValidationError{Field: "service", Message: "Unknown service. Please choose one from the menu."}
		}
		e, err := f.catalog.ByID(id)
		if err != nil || e.Platform != s.Platform || e.Category != s.Category {
			return nil, &ValidationError{Field: "service", Message: "That service is not in this category. Please choose one from the menu."}
		}
		s.Service = e
		s.State = StateServiceChosen

	case a.Type == ActionText && s.State == StateServiceChosen:
		link, err := f.checkLink(s.Platform, a.Payload)
		if err != nil {
			return nil, err
		}
		s.Link = link
		s.State = StateLinkProvided
		if s.Service.FixedPackage() {
			return f.chooseQuantity(s, s.Service.PackageQuantity)
		}

	case a.Type == ActionCustomQuantity && s.State == StateLinkProvided:
		return []Render{f.text(s.ChatID, fmt.Sprintf("💡 Type the quantity you want (%d to %d):",
			s.Service.MinQuantity, s.Service.MaxQuantity))}, nil

	case (a.Type == ActionQuantity || a.Type == ActionText) && s.State == StateLinkProvided:
		q, err := strconv.Atoi(strings.TrimSpace(a.Payload))
		if err != nil || q <= 0 {
			return nil, &ValidationError{Field: "quantity", Message: "Please enter a whole number, for example 1000."}
		}
		return f.chooseQuantity(s, q)

	case a.Type == ActionConfirm && s.State == StateReviewReady:
		if err := f.quote(s); err != nil {
			s.State = StateLinkProvided
			return nil, err
		}
		s.PaymentRef = f.newRef()
		s.State = StateAwaitingPayment
		return []Render{
			f.text(s.ChatID, "🎉 <b>Thank you for choosing AUTOSOCI!</b>\nOne step left: complete the payment below."),
			f.prompt(s),
		}, nil

	case a.Type == ActionPaid && s.State == StateAwaitingPayment:
		s.State = StateAwaitingProof

	case a.Type == ActionProof && (s.State == StateAwaitingPayment || s.State == StateAwaitingProof):
		return f.submit(ctx, s, a)

	default:
		return []Render{f.prompt(s)}, nil
	}
	return []Render{f.prompt(s)}, nil
}

// chooseQuantity validates q and moves through QuantityChosen to ReviewReady.
func (f *Flow) chooseQuantity(s *Session, q int) ([]Render, error) {
	if err := CheckQuantity(s.Service, q); err != nil {
		return nil, err
	}
	s.Quantity = q
	s.State = StateQuantityChosen
	if err := f.quote(s); err != nil {
		return nil, err
	}
	s.State = StateReviewReady
	return []Render{f.prompt(s)}, nil
}

// quote prices the session at the current margin.
func (f *Flow) quote(s *Session) error {
	margin := f.margins.For(s.Service.Key())
	total, err := Quote(s.Service, s.Quantity, margin)
	if err != nil {
		return err
	}
	s.MarginPercent = margin
	s.UnitPrice = UnitPrice(s.Service, margin)
	s.ComputedPrice = &total
	return nil
}

func (f *Flow) back(s *Session) ([]Render, error) {
	switch s.State {
	case StatePlatformChosen:
		s.Platform = ""
		s.State = StateIdle
	case StateCategoryChosen:
		s.Category = ""
		s.State = StatePlatformChosen
	case StateServiceChosen:
		s.Service = nil
		s.State = StateCategoryChosen
	case StateLinkProvided:
		s.Link = ""
		s.State = StateServiceChosen
	case StateQuantityChosen, StateReviewReady:
		s.Quantity = 0
		s.ComputedPrice = nil
		s.State = StateLinkProvided
		if s.Service.FixedPackage() {
			s.Link = ""
			s.State = StateServiceChosen
		}
	case StateAwaitingPayment:
		s.PaymentRef = ""
		if err := f.quote(s); err != nil {
			s.Quantity = 0
			s.ComputedPrice = nil
			s.State = StateLinkProvided
			return nil, err
		}
		s.State = StateReviewReady
	case StateAwaitingProof:
		s.State = StateAwaitingPayment
	}
	return []Render{f.prompt(s)}, nil
}

// checkLink accepts absolute http(s) URLs on one of the platform's hosts.
func (f *Flow) checkLink(p models.Platform, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	invalid := &ValidationError{Field: "link", Message: "That doesn't look like a valid link. Please send a link starting with http:// or https://"}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", invalid
	}
	hosts := f.opts.LinkHosts[p]
	if len(hosts) == 0 {
		return raw, nil
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return raw, nil
		}
	}
	return "", &ValidationError{
		Field:   "link",
		Message: fmt.Sprintf("Please send a %s link (%s).", p, strings.Join(hosts, ", ")),
	}
}

// submit stores the proof and records the order. If recording fails the proof
// is discarded and the user can send it again.
func (f *Flow) submit(ctx context.Context, s *Session, a Action) ([]Render, error) {
	if len(a.Asset) == 0 {
		return nil, &ValidationError{Field: "proof", Message: "Please send the payment screenshot as a photo."}
	}
	if s.ComputedPrice == nil || s.PaymentRef == "" {
		return nil, fmt.Errorf("session of user %d in %s without a quote", s.UserID, s.State)
	}
	proofRef, err := f.proofs.Save(s.ChatID, s.PaymentRef, a.Asset)
	if err != nil {
		if errors.Is(err, ErrProofExists) {
			return nil, &ValidationError{Field: "proof", Message: "This payment screenshot was already received."}
		}
		return nil, fmt.Errorf("save proof: %w", err)
	}

	in := models.CreateOrderInput{
		UserID:        s.UserID,
		ChatID:        s.ChatID,
		ServiceKey:    s.Service.Key(),
		Platform:      s.Platform,
		Category:      s.Category,
		ServiceName:   s.Service.Name,
		APIServiceID:  s.Service.APIServiceID,
		Link:          s.Link,
		Quantity:      s.Quantity,
		UnitCost:      s.Service.UnitCost,
		MarginPercent: s.MarginPercent,
		UnitPrice:     s.UnitPrice,
		TotalPrice:    *s.ComputedPrice,
		PaymentRef:    s.PaymentRef,
		ProofRef:      proofRef,
	}
	id, err := f.ledger.Create(ctx, in)
	if err != nil {
		if derr := f.proofs.Discard(proofRef); derr != nil {
			f.log.Warn("discard proof", zap.String("proof", proofRef), zap.Error(derr))
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.State = StateSubmitted

	f.log.Info("order submitted",
		zap.Int64("order_id", id),
		zap.Int64("user_id", s.UserID),
		zap.String("service", in.ServiceKey),
		zap.Int("quantity", in.Quantity),
		zap.String("total", in.TotalPrice.StringFixed(CurrencyScale)),
	)
	f.events.Publish(NewEnvelope(EventOrderSubmitted, id, map[string]any{
		"user_id":  in.UserID,
		"service":  in.ServiceKey,
		"quantity": in.Quantity,
		"total":    in.TotalPrice.StringFixed(CurrencyScale),
	}))

	out := []Render{f.text(s.ChatID, fmt.Sprintf(
		"✅ Payment screenshot received! Your order <b>#%d</b> is now pending admin verification.", id))}

	order := &models.Order{
		ID: id, UserID: in.UserID, ChatID: in.ChatID, ServiceKey: in.ServiceKey,
		Platform: in.Platform, Category: in.Category, ServiceName: in.ServiceName,
		Link: in.Link, Quantity: in.Quantity, UnitCost: in.UnitCost, MarginPercent: in.MarginPercent,
		UnitPrice: in.UnitPrice, TotalPrice: in.TotalPrice, PaymentRef: in.PaymentRef, ProofRef: in.ProofRef,
		Status: models.OrderStatusPending,
	}
	card := AdminOrderCard(order, a.Username, f.opts.CurrencySymbol)
	for _, adminID := range f.opts.AdminIDs {
		out = append(out, Render{
			ChatID:   adminID,
			Text:     card,
			Buttons:  DecisionButtons(id),
			Photo:    &Asset{Name: proofRef, Bytes: a.Asset},
			OrderID:  id,
			Audience: AudienceAdmin,
		})
	}
	return out, nil
}

// AdminOrderCard is the caption of the proof photo sent to admins.
func AdminOrderCard(o *models.Order, username, symbol string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🆕 <b>Order #%d</b> %s %s\n", o.ID, statusEmoji(o.Status), o.Status)
	user := strconv.FormatInt(o.UserID, 10)
	if username != "" {
		user = "@" + html.EscapeString(username) + " (" + user + ")"
	}
	fmt.Fprintf(&b, "👤 User: %s\n", user)
	fmt.Fprintf(&b, "🟢 Service: %s / %s / %s\n",
		html.EscapeString(string(o.Platform)), html.EscapeString(o.Category), html.EscapeString(o.ServiceName))
	fmt.Fprintf(&b, "🔗 Link: %s\n", html.EscapeString(o.Link))
	fmt.Fprintf(&b, "🔢 Quantity: %d\n", o.Quantity)
	fmt.Fprintf(&b, "💰 Amount (user): %s\n", FormatMoney(symbol, o.TotalPrice))
	fmt.Fprintf(&b, "💵 Cost: %s\n", FormatMoney(symbol, o.Cost()))
	fmt.Fprintf(&b, "📈 Profit: %s (margin %s%%)\n", FormatMoney(symbol, o.Profit()), o.MarginPercent.String())
	fmt.Fprintf(&b, "🧾 Payment ref: <code>%s</code>", html.EscapeString(o.PaymentRef))
	if o.RejectReason != nil {
		fmt.Fprintf(&b, "\n📝 Reason: %s", html.EscapeString(*o.RejectReason))
	}
	return b.String()
}

// prompt renders what the user should do next in the current state.
func (f *Flow) prompt(s *Session) Render {
	switch s.State {
	case StatePlatformChosen:
		rows := make([][]Button, 0)
		for i, c := range f.catalog.Categories(s.Platform) {
			rows = append(rows, []Button{{Text: c, CallbackData: cbCategory + strconv.Itoa(i)}})
		}
		rows = append(rows, navRow())
		return Render{ChatID: s.ChatID, Text: fmt.Sprintf("You selected <b>%s</b>. Now choose a category:",
			html.EscapeString(string(s.Platform))), Buttons: rows}

	case StateCategoryChosen:
		rows := make([][]Button, 0)
		for _, e := range f.catalog.Services(s.Platform, s.Category) {
			m := f.margins.For(e.Key())
			label := fmt.Sprintf("%s (%s/1k)", e.Name, FormatMoney(f.opts.CurrencySymbol, PricePer1K(e, m)))
			if e.FixedPackage() {
				total, _ := Quote(e, e.PackageQuantity, m)
				label = fmt.Sprintf("%s (%s)", e.Name, FormatMoney(f.opts.CurrencySymbol, total))
			}
			rows = append(rows, []Button{{Text: label, CallbackData: cbService + strconv.Itoa(e.ID)}})
		}
		rows = append(rows, navRow())
		return Render{ChatID: s.ChatID, Text: fmt.Sprintf("You selected <b>%s</b>. Now choose a service:",
			html.EscapeString(s.Category)), Buttons: rows}

	case StateServiceChosen:
		var b strings.Builder
		fmt.Fprintf(&b, "✅ You selected <b>%s</b>\n", html.EscapeString(s.Service.Name))
		if s.Service.FixedPackage() {
			fmt.Fprintf(&b, "📦 Fixed package of %d\n", s.Service.PackageQuantity)
		} else {
			fmt.Fprintf(&b, "🔢 Quantity: %d to %d\n", s.Service.MinQuantity, s.Service.MaxQuantity)
		}
		if s.Service.Notes != "" {
			b.WriteString("\n" + html.EscapeString(s.Service.Notes) + "\n")
		}
		b.WriteString("\n" + linkPrompt(s.Service))
		rows := [][]Button{}
		if s.Service.ManagerAccess {
			rows = append(rows, []Button{{Text: "ℹ️ What is Manager Access?", CallbackData: cbManagerAccess}})
		}
		rows = append(rows, navRow())
		return Render{ChatID: s.ChatID, Text: b.String(), Buttons: rows}

	case StateLinkProvided, StateQuantityChosen:
		var row []Button
		for _, q := range QuantityPresets {
			row = append(row, Button{Text: strconv.Itoa(q), CallbackData: cbQuantity + strconv.Itoa(q)})
		}
		return Render{
			ChatID: s.ChatID,
			Text: fmt.Sprintf("✅ Link received! How much engagement would you like? (%d to %d)",
				s.Service.MinQuantity, s.Service.MaxQuantity),
			Buttons: [][]Button{row, {{Text: "✏️ Custom quantity", CallbackData: cbCustomQty}}, navRow()},
		}

	case StateReviewReady:
		total := decimal.Zero
		if s.ComputedPrice != nil {
			total = *s.ComputedPrice
		}
		text := fmt.Sprintf("<b>📝 Order Summary</b>\n\n"+
			"🟢 Platform: %s\n🟢 Category: %s\n🟢 Service: %s\n🟢 Link: %s\n🟢 Quantity: %d\n"+
			"💰 <b>Total Amount: %s</b>",
			html.EscapeString(string(s.Platform)), html.EscapeString(s.Category), html.EscapeString(s.Service.Name),
			html.EscapeString(s.Link), s.Quantity, FormatMoney(f.opts.CurrencySymbol, total))
		return Render{ChatID: s.ChatID, Text: text, Buttons: [][]Button{
			{{Text: "✅ Confirm Order", CallbackData: cbConfirm}},
			navRow(),
		}}

	case StateAwaitingPayment:
		req := f.paymentRequest(s)
		r := Render{
			ChatID: s.ChatID,
			Text: fmt.Sprintf("💳 Pay <b>%s</b> to UPI ID <code>%s</code> or scan the QR code.\n"+
				"Reference: <code>Order%s</code>\n\nAfter paying tap <b>I have paid</b> and send the screenshot.",
				FormatMoney(f.opts.CurrencySymbol, req.Amount), html.EscapeString(req.UPIID), req.Ref),
			Buttons: [][]Button{{{Text: "✅ I have paid", CallbackData: cbPaid}}, navRow()},
		}
		png, err := req.QRCode()
		if err != nil {
			f.log.Error("render payment qr", zap.Int64("user_id", s.UserID), zap.Error(err))
			r.Text += "\n\n" + html.EscapeString(req.UPILink())
			return r
		}
		r.Photo = &Asset{Name: "upi_qr_" + s.PaymentRef + ".png", Bytes: png}
		return r

	case StateAwaitingProof:
		return Render{ChatID: s.ChatID, Text: "📸 Please upload your payment screenshot to complete your order.",
			Buttons: [][]Button{navRow()}}
	}
	return f.platformMenu(s.ChatID, "Choose a platform:")
}

func (f *Flow) paymentRequest(s *Session) PaymentRequest {
	amount := decimal.Zero
	if s.ComputedPrice != nil {
		amount = *s.ComputedPrice
	}
	return PaymentRequest{
		UPIID:     f.opts.UPIID,
		PayeeName: f.opts.PayeeName,
		Currency:  f.opts.CurrencyCode,
		Amount:    amount,
		Ref:       s.PaymentRef,
	}
}

func (f *Flow) platformMenu(chatID int64, text string) Render {
	var rows [][]Button
	var row []Button
	for _, p := range f.catalog.Platforms() {
		emoji := platformEmoji[p]
		if emoji == "" {
			emoji = "🔹"
		}
		row = append(row, Button{Text: emoji + " " + string(p), CallbackData: cbPlatform + string(p)})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return Render{ChatID: chatID, Text: text, Buttons: rows}
}

func (f *Flow) myOrders(ctx context.Context, a Action) Render {
	orders, err := f.ledger.ListByUser(ctx, a.UserID, 10)
	if err != nil {
		f.log.Error("list user orders", zap.Int64("user_id", a.UserID), zap.Error(err))
		return f.text(a.ChatID, "⚠️ Could not load your orders. Please try again later.")
	}
	if len(orders) == 0 {
		return f.text(a.ChatID, "You have no orders yet. Tap /start to place one.")
	}
	var b strings.Builder
	b.WriteString("<b>🧾 Your orders</b>\n")
	for i := range orders {
		o := &orders[i]
		fmt.Fprintf(&b, "\n%s #%d %s x%d, %s, %s", statusEmoji(o.Status), o.ID,
			html.EscapeString(o.ServiceName), o.Quantity, FormatMoney(f.opts.CurrencySymbol, o.TotalPrice), o.Status)
		if fs := fulfillmentStatusText(o); fs != "" {
			fmt.Fprintf(&b, " (%s)", fs)
		}
	}
	return f.text(a.ChatID, b.String())
}

func (f *Flow) text(chatID int64, text string) Render {
	return Render{ChatID: chatID, Text: text}
}

func navRow() []Button {
	return []Button{
		{Text: "⬅️ Back", CallbackData: cbBack},
		{Text: "✖️ Cancel", CallbackData: cbCancel},
	}
}
