package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"

	"smm-telegram/models"
	"smm-telegram/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const panelPrefix = "admin:"

const pendingListLimit = 20

const adminHelp = `🛠 <b>Admin commands</b>
/pending - pending orders
/order &lt;id&gt; - order details
/proof &lt;id&gt; - payment screenshot
/approve &lt;id&gt; - approve and place the order
/reject &lt;id&gt; [reason] - reject with a reason
/retry &lt;id&gt; [force] - retry a failed placement; force also retries an interrupted one
/margin [percent] [service_id] - show or set the profit margin
/broadcast &lt;text&gt; - message every user
/stats - analytics
/status - bot status`

func parsePanelCallback(data string) (string, bool) {
	if !strings.HasPrefix(data, panelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(data, panelPrefix), true
}

func adminPanel(chatID int64) services.Render {
	return services.Render{
		ChatID: chatID,
		Text:   "🛠 <b>Admin panel</b>\nChoose an option:",
		Buttons: [][]services.Button{
			{{Text: "📊 Analytics", CallbackData: panelPrefix + "analytics"}, {Text: "🔄 Bot status", CallbackData: panelPrefix + "status"}},
			{{Text: "⏳ Pending orders", CallbackData: panelPrefix + "pending"}, {Text: "💰 Set margin", CallbackData: panelPrefix + "margin"}},
			{{Text: "🛍 Place an order", CallbackData: panelPrefix + "shop"}},
		},
	}
}

// errorText is the reply for a failed admin operation.
func errorText(err error) string {
	if msg := services.UserMessage(err); msg != "" {
		return "❌ " + html.EscapeString(msg)
	}
	return "⚠️ Something went wrong. Check the logs."
}

func parseOrderID(args []string) (int64, bool) {
	if len(args) < 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	return id, err == nil && id > 0
}

// handleAdminMessage handles admin commands and rejection reasons. It returns
// false for messages that belong to the order flow.
func (b *Bot) handleAdminMessage(ctx context.Context, msg *tgbotapi.Message) bool {
	chatID, userID := msg.Chat.ID, msg.From.ID
	text := strings.TrimSpace(msg.Text)
	cmd, args := parseCommand(text)

	// Any other command abandons a reason prompt.
	if cmd != "" && cmd != "/skip" {
		b.clearPendingReject(userID)
	}
	if cmd == "/login" {
		b.handleLogin(ctx, msg, args)
		return true
	}
	if cmd == "" {
		if text == "" || !b.auth.LoggedIn(userID) {
			return false
		}
		orderID, ok := b.takePendingReject(userID)
		if !ok {
			return false
		}
		b.reject(ctx, chatID, userID, orderID, text)
		return true
	}

	switch cmd {
	case "/start", "/help", "/skip", "/margin", "/approve", "/reject", "/retry",
		"/broadcast", "/stats", "/status", "/pending", "/order", "/proof":
	default:
		return false
	}
	if !b.auth.LoggedIn(userID) {
		if cmd == "/start" {
			return false
		}
		b.out.send(chatID, "🔒 Please /login &lt;password&gt; first.")
		return true
	}

	switch cmd {
	case "/start":
		b.dispatch(ctx, []services.Render{adminPanel(chatID)})
	case "/help":
		b.out.send(chatID, adminHelp)
	case "/skip":
		orderID, ok := b.takePendingReject(userID)
		if !ok {
			b.out.send(chatID, "Nothing to skip.")
			return true
		}
		b.reject(ctx, chatID, userID, orderID, "")
	case "/margin":
		b.handleMargin(ctx, chatID, userID, args)
	case "/approve":
		id, ok := parseOrderID(args)
		if !ok {
			b.out.send(chatID, "Usage: /approve &lt;order_id&gt;")
			return true
		}
		b.approve(ctx, chatID, userID, id)
	case "/reject":
		id, ok := parseOrderID(args)
		if !ok {
			b.out.send(chatID, "Usage: /reject &lt;order_id&gt; [reason]")
			return true
		}
		b.reject(ctx, chatID, userID, id, commandRest(commandRest(text)))
	case "/retry":
		id, ok := parseOrderID(args)
		if !ok || len(args) > 2 || (len(args) == 2 && !strings.EqualFold(args[1], "force")) {
			b.out.send(chatID, "Usage: /retry &lt;order_id&gt; [force]")
			return true
		}
		force := len(args) == 2
		if err := b.admin.RetryFulfillment(ctx, id, userID, force); err != nil {
			b.out.send(chatID, errorText(err))
			return true
		}
		b.out.send(chatID, fmt.Sprintf("🔁 Retrying order #%d…", id))
	case "/broadcast":
		b.broadcast(ctx, chatID, userID, commandRest(text))
	case "/stats":
		b.sendAnalytics(ctx, chatID)
	case "/status":
		b.sendStatus(ctx, chatID)
	case "/pending":
		b.sendPending(ctx, chatID)
	case "/order":
		id, ok := parseOrderID(args)
		if !ok {
			b.out.send(chatID, "Usage: /order &lt;order_id&gt;")
			return true
		}
		b.sendOrder(ctx, chatID, id)
	case "/proof":
		id, ok := parseOrderID(args)
		if !ok {
			b.out.send(chatID, "Usage: /proof &lt;order_id&gt;")
			return true
		}
		b.sendProof(ctx, chatID, id)
	}
	return true
}

func (b *Bot) handlePanel(ctx context.Context, chatID, userID int64, username, cmd string) {
	if !b.admin.IsAdmin(userID) {
		b.out.send(chatID, "Unauthorized.")
		return
	}
	if !b.auth.LoggedIn(userID) {
		b.out.send(chatID, "🔒 Please /login &lt;password&gt; first.")
		return
	}
	switch cmd {
	case "analytics":
		b.sendAnalytics(ctx, chatID)
	case "status":
		b.sendStatus(ctx, chatID)
	case "pending":
		b.sendPending(ctx, chatID)
	case "margin":
		b.out.send(chatID, fmt.Sprintf("💰 Current profit margin: %s%%\nSend /margin &lt;percent&gt; to change it, e.g. /margin 40",
			b.currentMargin(ctx)))
	case "shop":
		b.dispatch(ctx, b.flow.Handle(ctx, services.Action{
			UserID: userID, ChatID: chatID, Username: username, Type: services.ActionStart,
		}))
	}
}

func (b *Bot) handleDecision(ctx context.Context, cq *tgbotapi.CallbackQuery, approve bool, orderID int64) {
	chatID, userID := cq.Message.Chat.ID, cq.From.ID
	if !b.admin.IsAdmin(userID) {
		b.out.answer(cq.ID, "Unauthorized.")
		return
	}
	if !b.auth.LoggedIn(userID) {
		b.out.answer(cq.ID, "🔒 Please /login first.")
		return
	}
	if approve {
		b.out.answer(cq.ID, "")
		b.approve(ctx, chatID, userID, orderID)
		return
	}

	o, err := b.admin.Order(ctx, orderID)
	if err != nil {
		b.out.answer(cq.ID, services.UserMessage(err))
		return
	}
	if o.Status != models.OrderStatusPending {
		b.out.answer(cq.ID, "This order has already been decided.")
		b.refreshCards(ctx, o)
		return
	}
	b.out.answer(cq.ID, "")
	b.rejectMu.Lock()
	b.pendingReject[userID] = rejectPrompt{orderID: orderID, at: b.now()}
	b.rejectMu.Unlock()
	b.out.send(chatID, fmt.Sprintf("📝 Send the reason for rejecting order #%d, or /skip to use the default reason.", orderID))
}

// rejectPrompt is an order whose Reject button was tapped and that waits for
// the admin's next plain text as the reason.
type rejectPrompt struct {
	orderID int64
	at      time.Time
}

func (b *Bot) takePendingReject(userID int64) (int64, bool) {
	b.rejectMu.Lock()
	defer b.rejectMu.Unlock()
	p, ok := b.pendingReject[userID]
	delete(b.pendingReject, userID)
	if !ok || b.now().Sub(p.at) > rejectPromptTTL {
		return 0, false
	}
	return p.orderID, true
}

func (b *Bot) clearPendingReject(userID int64) {
	b.rejectMu.Lock()
	delete(b.pendingReject, userID)
	b.rejectMu.Unlock()
}

func (b *Bot) approve(ctx context.Context, chatID, adminID, orderID int64) {
	o, err := b.admin.Approve(ctx, orderID, adminID)
	if err != nil {
		b.out.send(chatID, errorText(err))
		if errors.Is(err, services.ErrInvalidTransition) {
			if cur, gerr := b.admin.Order(ctx, orderID); gerr == nil {
				b.refreshCards(ctx, cur)
			}
		}
		return
	}
	b.out.send(chatID, fmt.Sprintf("✅ Order #%d approved. Placing it at the provider…", orderID))
	b.refreshCards(ctx, o)
}

func (b *Bot) reject(ctx context.Context, chatID, adminID, orderID int64, reason string) {
	o, err := b.admin.Reject(ctx, orderID, adminID, reason)
	if err != nil {
		b.out.send(chatID, errorText(err))
		if errors.Is(err, services.ErrInvalidTransition) {
			if cur, gerr := b.admin.Order(ctx, orderID); gerr == nil {
				b.refreshCards(ctx, cur)
			}
		}
		return
	}
	b.out.send(chatID, fmt.Sprintf("❌ Order #%d rejected. The user has been notified.", orderID))
	b.refreshCards(ctx, o)
}

func (b *Bot) currentMargin(ctx context.Context) string {
	st, err := b.admin.Status(ctx)
	if err != nil {
		return "?"
	}
	return st.Margin.String()
}

// handleMargin: /margin shows margins, /margin <pct> sets the global margin,
// /margin <pct> <service_id> overrides one service and /margin default
// <service_id> clears the override.
func (b *Bot) handleMargin(ctx context.Context, chatID, adminID int64, args []string) {
	switch len(args) {
	case 0:
		var sb strings.Builder
		fmt.Fprintf(&sb, "💰 Profit margin: %s%%", b.currentMargin(ctx))
		overrides := b.admin.MarginOverrides()
		keys := make([]string, 0, len(overrides))
		for k := range overrides {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\n• %s: %s%%", html.EscapeString(k), overrides[k].String())
		}
		b.out.send(chatID, sb.String())
		return
	case 1, 2:
	default:
		b.out.send(chatID, "Usage: /margin [percent] [service_id]")
		return
	}

	var pct *decimal.Decimal
	if v := strings.ToLower(args[0]); v != "default" && v != "reset" {
		d, err := decimal.NewFromString(strings.TrimSuffix(args[0], "%"))
		if err != nil {
			b.out.send(chatID, "❌ Please send a valid number, e.g. /margin 40")
			return
		}
		pct = &d
	}

	if len(args) == 1 {
		if pct == nil {
			b.out.send(chatID, "Usage: /margin default &lt;service_id&gt;")
			return
		}
		if err := b.admin.SetMargin(ctx, adminID, *pct); err != nil {
			b.out.send(chatID, errorText(err))
			return
		}
		b.out.send(chatID, fmt.Sprintf("✅ Profit margin set to %s%%.", pct.String()))
		return
	}

	serviceID, err := strconv.Atoi(args[1])
	if err != nil {
		b.out.send(chatID, "❌ The service id must be a number.")
		return
	}
	e, err := b.admin.SetServiceMargin(ctx, adminID, serviceID, pct)
	if err != nil {
		b.out.send(chatID, errorText(err))
		return
	}
	if pct == nil {
		b.out.send(chatID, fmt.Sprintf("✅ %s now uses the global margin.", html.EscapeString(e.Name)))
		return
	}
	b.out.send(chatID, fmt.Sprintf("✅ Margin for %s set to %s%%.", html.EscapeString(e.Name), pct.String()))
}

func (b *Bot) broadcast(ctx context.Context, chatID, adminID int64, text string) {
	res, err := b.admin.Broadcast(ctx, adminID, text)
	if err != nil {
		b.out.send(chatID, errorText(err))
		return
	}
	b.out.send(chatID, fmt.Sprintf("📣 Broadcast sent to %d users, %d failed.", res.Sent, res.Failed))
}

func (b *Bot) sendAnalytics(ctx context.Context, chatID int64) {
	s, err := b.admin.Analytics(ctx)
	if err != nil {
		b.log.Error("analytics", zap.Error(err))
		b.out.send(chatID, errorText(err))
		return
	}
	b.out.send(chatID, services.FormatAnalytics(s, b.symbol))
}

func (b *Bot) sendStatus(ctx context.Context, chatID int64) {
	st, err := b.admin.Status(ctx)
	if err != nil {
		b.log.Error("bot status", zap.Error(err))
		b.out.send(chatID, errorText(err))
		return
	}
	b.out.send(chatID, services.FormatStatus(st))
}

func (b *Bot) sendPending(ctx context.Context, chatID int64) {
	orders, err := b.admin.Pending(ctx, pendingListLimit)
	if err != nil {
		b.log.Error("pending orders", zap.Error(err))
		b.out.send(chatID, errorText(err))
		return
	}
	b.out.send(chatID, services.FormatPending(orders, b.symbol))
}

func (b *Bot) sendOrder(ctx context.Context, chatID, orderID int64) {
	o, err := b.admin.Order(ctx, orderID)
	if err != nil {
		b.out.send(chatID, errorText(err))
		return
	}
	r := services.Render{ChatID: chatID, Text: services.AdminOrderDetail(o, b.symbol)}
	if o.Status == models.OrderStatusPending {
		r.Buttons = services.DecisionButtons(o.ID)
	}
	b.dispatch(ctx, []services.Render{r})
}

// sendProof re-sends the payment screenshot as a new admin card.
func (b *Bot) sendProof(ctx context.Context, chatID, orderID int64) {
	o, err := b.admin.Order(ctx, orderID)
	if err != nil {
		b.out.send(chatID, errorText(err))
		return
	}
	data, err := b.proofs.Open(o.ProofRef)
	if err != nil {
		b.log.Warn("open proof", zap.Int64("order_id", orderID), zap.String("proof_ref", o.ProofRef), zap.Error(err))
		b.out.send(chatID, fmt.Sprintf("❌ No screenshot stored for order #%d.", orderID))
		return
	}
	r := services.Render{
		ChatID:   chatID,
		Text:     services.AdminOrderDetail(o, b.symbol),
		Photo:    &services.Asset{Name: o.ProofRef, Bytes: data},
		OrderID:  o.ID,
		Audience: services.AudienceAdmin,
	}
	if o.Status == models.OrderStatusPending {
		r.Buttons = services.DecisionButtons(o.ID)
	}
	b.dispatch(ctx, []services.Render{r})
}

func (b *Bot) handleLogin(ctx context.Context, msg *tgbotapi.Message, args []string) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	// the message carries the password
	if _, err := b.out.tg.Request(tgbotapi.NewDeleteMessage(chatID, msg.MessageID)); err != nil {
		b.log.Debug("delete login message", zap.Error(err))
	}
	if !b.admin.IsAdmin(userID) {
		b.out.send(chatID, "Unauthorized.")
		return
	}
	if !b.auth.Required() {
		b.out.send(chatID, "🔓 No admin password is configured.")
		return
	}
	if len(args) != 1 {
		b.out.send(chatID, "Usage: /login &lt;password&gt;")
		return
	}
	if b.throttle != nil {
		wait, err := b.throttle.WaitSeconds(ctx, userID)
		if err != nil {
			b.log.Error("login throttle", zap.Int64("user_id", userID), zap.Error(err))
		}
		if wait > 0 {
			b.out.send(chatID, fmt.Sprintf("⏳ Too many attempts. Try again in %d s.", wait))
			return
		}
	}
	if !b.auth.Login(userID, args[0]) {
		b.log.Warn("admin login failed", zap.Int64("user_id", userID))
		if b.throttle == nil {
			b.out.send(chatID, "❌ Wrong password.")
			return
		}
		wait, err := b.throttle.Failed(ctx, userID)
		if err != nil {
			b.log.Error("login throttle", zap.Int64("user_id", userID), zap.Error(err))
		}
		b.out.send(chatID, fmt.Sprintf("❌ Wrong password. Try again in %d s.", wait))
		return
	}
	if b.throttle != nil {
		if err := b.throttle.Succeeded(ctx, userID); err != nil {
			b.log.Error("login throttle", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	b.log.Info("admin logged in", zap.Int64("user_id", userID))
	b.out.send(chatID, "🔓 Logged in.")
	b.dispatch(ctx, []services.Render{adminPanel(chatID)})
}
