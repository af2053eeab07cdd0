package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"smm-telegram/models"
	"smm-telegram/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const maxProofBytes = 10 << 20

// rejectPromptTTL bounds how long a tapped Reject waits for its reason.
const rejectPromptTTL = 5 * time.Minute

type cardStore interface {
	Save(ctx context.Context, orderID int64, chatID int64, messageID int) error
	List(ctx context.Context, orderID int64) ([]services.CardPointer, error)
}

type loginThrottle interface {
	WaitSeconds(ctx context.Context, tgUserID int64) (int, error)
	Failed(ctx context.Context, tgUserID int64) (int, error)
	Succeeded(ctx context.Context, tgUserID int64) error
}

// Deps are the services the bot dispatches to.
type Deps struct {
	Flow           *services.Flow
	Admin          *services.Admin
	Auth           *services.AdminAuth
	Throttle       loginThrottle
	Proofs         *services.ProofStore
	Cards          cardStore
	CurrencySymbol string
}

type Bot struct {
	api   *tgbotapi.BotAPI
	out   *Outbox
	flow  *services.Flow
	admin *services.Admin
	auth  *services.AdminAuth

	throttle loginThrottle
	proofs   *services.ProofStore
	cards    cardStore
	symbol   string
	log      *zap.Logger
	hc       *http.Client

	rejectMu      sync.Mutex
	pendingReject map[int64]rejectPrompt // by admin user id
	now           func() time.Time
	reportsDone   chan struct{}

	orderLocks sync.Map // map[orderID]*sync.Mutex, serializes card edits
}

func New(api *tgbotapi.BotAPI, out *Outbox, deps Deps, log *zap.Logger) *Bot {
	auth := deps.Auth
	if auth == nil {
		auth = services.NewAdminAuth("")
	}
	return &Bot{
		api:           api,
		out:           out,
		flow:          deps.Flow,
		admin:         deps.Admin,
		auth:          auth,
		throttle:      deps.Throttle,
		proofs:        deps.Proofs,
		cards:         deps.Cards,
		symbol:        deps.CurrencySymbol,
		log:           log,
		hc:            &http.Client{Timeout: 30 * time.Second},
		pendingReject: make(map[int64]rejectPrompt),
		now:           time.Now,
		reportsDone:   make(chan struct{}),
	}
}

func (b *Bot) setBotCommands() error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Place a new order"},
		tgbotapi.BotCommand{Command: "orders", Description: "My orders"},
		tgbotapi.BotCommand{Command: "cancel", Description: "Cancel the current order"},
		tgbotapi.BotCommand{Command: "manageraccess", Description: "About manager access"},
	)
	_, err := b.api.Request(cfg)
	return err
}

// Start long-polls Telegram until ctx is done. Outcome reports keep running
// until the admin's Outcomes channel is closed; see WaitReports.
func (b *Bot) Start(ctx context.Context) {
	if err := b.setBotCommands(); err != nil {
		b.log.Warn("set bot commands", zap.Error(err))
	}
	go b.reportOutcomes(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if b.admin.IsAdmin(msg.From.ID) && b.handleAdminMessage(ctx, msg) {
		return
	}
	a, ok := actionFromMessage(msg)
	if !ok {
		b.out.send(msg.Chat.ID, "Please use the buttons, or tap /start to place an order.")
		return
	}
	if a.Type == services.ActionProof {
		data, err := b.download(ctx, a.Payload)
		if err != nil {
			b.log.Warn("download proof", zap.Int64("user_id", a.UserID), zap.Error(err))
			b.out.send(a.ChatID, "⚠️ Could not download your screenshot. Please send it again.")
			return
		}
		a.Asset = data
	}
	b.dispatch(ctx, b.flow.Handle(ctx, a))
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	userID := cq.From.ID
	data := cq.Data

	// Any button tap abandons a reason prompt; Reject sets a new one.
	b.clearPendingReject(userID)

	if approve, orderID, ok := services.ParseDecisionCallback(data); ok {
		b.handleDecision(ctx, cq, approve, orderID)
		return
	}

	b.out.answer(cq.ID, "")
	if cmd, ok := parsePanelCallback(data); ok {
		b.handlePanel(ctx, chatID, userID, cq.From.UserName, cmd)
		return
	}
	t, payload, ok := services.ParseCallback(data)
	if !ok {
		return
	}
	b.dispatch(ctx, b.flow.Handle(ctx, services.Action{
		UserID:   userID,
		ChatID:   chatID,
		Username: cq.From.UserName,
		Type:     t,
		Payload:  payload,
	}))
}

// dispatch delivers renders in order and remembers admin cards.
func (b *Bot) dispatch(ctx context.Context, renders []services.Render) {
	for _, r := range renders {
		sent, err := b.out.deliver(r)
		if err != nil {
			b.log.Error("send", zap.Int64("chat_id", r.ChatID), zap.Int64("order_id", r.OrderID), zap.Error(err))
			continue
		}
		if r.Audience == services.AudienceAdmin && r.OrderID != 0 && b.cards != nil {
			if err := b.cards.Save(ctx, r.OrderID, r.ChatID, sent.MessageID); err != nil {
				b.log.Error("save admin card", zap.Int64("order_id", r.OrderID), zap.Error(err))
			}
		}
	}
}

// download fetches a file the user sent to the bot.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	if b.api == nil {
		return nil, errors.New("no telegram client")
	}
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.hc.Do(req)
	if err != nil {
		// the token is in the URL
		if ue, ok := err.(*url.Error); ok {
			err = ue.Err
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get file: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProofBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxProofBytes {
		return nil, fmt.Errorf("file larger than %d bytes", maxProofBytes)
	}
	return data, nil
}

// lockOrder serializes edits of the same order's cards.
func (b *Bot) lockOrder(orderID int64) func() {
	v, _ := b.orderLocks.LoadOrStore(orderID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// refreshCards rewrites every admin's card for o with its current state.
// Decided orders lose their buttons.
func (b *Bot) refreshCards(ctx context.Context, o *models.Order) {
	if b.cards == nil {
		return
	}
	unlock := b.lockOrder(o.ID)
	defer unlock()

	pointers, err := b.cards.List(ctx, o.ID)
	if err != nil {
		b.log.Error("list admin cards", zap.Int64("order_id", o.ID), zap.Error(err))
		return
	}
	var buttons [][]services.Button
	if o.Status == models.OrderStatusPending {
		buttons = services.DecisionButtons(o.ID)
	}
	caption := services.AdminOrderDetail(o, b.symbol)
	for _, p := range pointers {
		if err := b.out.editCard(p.ChatID, p.MessageID, caption, buttons); err != nil {
			b.log.Warn("edit admin card", zap.Int64("order_id", o.ID), zap.Int64("chat_id", p.ChatID), zap.Error(err))
		}
	}
}

// reportOutcomes tells the admins how each fulfillment dispatch went. It
// drains the channel until Admin.Close, so dispatches still running at
// shutdown are reported too.
func (b *Bot) reportOutcomes(ctx context.Context) {
	defer close(b.reportsDone)
	ctx = context.WithoutCancel(ctx)
	for o := range b.admin.Outcomes() {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		b.reportOutcome(rctx, o)
		cancel()
	}
}

// WaitReports blocks until every fulfillment outcome has been reported. Call
// it after Start returned and the admin service was closed.
func (b *Bot) WaitReports() { <-b.reportsDone }

func (b *Bot) reportOutcome(ctx context.Context, o services.FulfillmentOutcome) {
	if ord, err := b.admin.Order(ctx, o.OrderID); err == nil {
		b.refreshCards(ctx, ord)
	}
	text := services.FormatOutcome(o)
	if o.Skipped {
		b.out.send(o.AdminID, text)
		return
	}
	for _, id := range b.admin.AdminIDs() {
		b.out.send(id, text)
	}
}
