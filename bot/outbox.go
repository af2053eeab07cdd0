package bot

import (
	"context"
	"strings"

	"smm-telegram/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// sender is the part of *tgbotapi.BotAPI used to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type messageLog interface {
	SaveOutbound(ctx context.Context, chatID int64, content string, meta map[string]any) error
	SentForOrder(ctx context.Context, orderID int64, kind string) (bool, error)
}

// Outbox turns services.Render values into Telegram messages. It is also the
// services.Notifier used for messages sent outside of a user's request.
type Outbox struct {
	tg       sender
	messages messageLog
	log      *zap.Logger
}

func NewOutbox(tg sender, messages messageLog, log *zap.Logger) *Outbox {
	return &Outbox{tg: tg, messages: messages, log: log}
}

// cardMarkup converts Render buttons to a Telegram inline keyboard (URL vs callback).
func cardMarkup(buttons [][]services.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var btns []tgbotapi.InlineKeyboardButton
		for _, btn := range row {
			if btn.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.CallbackData))
			}
		}
		rows = append(rows, btns)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// deliver sends one render. Renders with a photo become a photo with caption.
func (o *Outbox) deliver(r services.Render) (tgbotapi.Message, error) {
	kb := cardMarkup(r.Buttons)
	if r.Photo != nil {
		p := tgbotapi.NewPhoto(r.ChatID, tgbotapi.FileBytes{Name: r.Photo.Name, Bytes: r.Photo.Bytes})
		p.Caption = r.Text
		p.ParseMode = tgbotapi.ModeHTML
		if kb != nil {
			p.ReplyMarkup = *kb
		}
		return o.tg.Send(p)
	}
	msg := tgbotapi.NewMessage(r.ChatID, r.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	return o.tg.Send(msg)
}

func (o *Outbox) send(chatID int64, text string) {
	if _, err := o.deliver(services.Render{ChatID: chatID, Text: text}); err != nil {
		o.log.Error("send", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// answer sends a short toast for the callback (no new message).
func (o *Outbox) answer(callbackQueryID, text string) {
	if _, err := o.tg.Request(tgbotapi.NewCallback(callbackQueryID, text)); err != nil {
		o.log.Debug("answer callback", zap.Error(err))
	}
}

// editCard replaces the caption of an admin card and drops its buttons.
func (o *Outbox) editCard(chatID int64, messageID int, caption string, buttons [][]services.Button) error {
	edit := tgbotapi.NewEditMessageCaption(chatID, messageID, caption)
	edit.ParseMode = tgbotapi.ModeHTML
	if kb := cardMarkup(buttons); kb != nil {
		edit.ReplyMarkup = kb
	} else {
		edit.ReplyMarkup = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}
	_, err := o.tg.Send(edit)
	if err != nil && strings.Contains(err.Error(), "not modified") {
		return nil
	}
	return err
}

// Notify delivers a message about an order. Messages tagged with an order and
// kind are logged, and a kind already logged for the order is not sent again.
func (o *Outbox) Notify(ctx context.Context, r services.Render) error {
	tracked := r.OrderID != 0 && r.Kind != "" && o.messages != nil
	if tracked {
		sent, err := o.messages.SentForOrder(ctx, r.OrderID, r.Kind)
		if err != nil {
			o.log.Warn("message log lookup", zap.Int64("order_id", r.OrderID), zap.Error(err))
		} else if sent {
			o.log.Debug("notification already sent", zap.Int64("order_id", r.OrderID), zap.String("kind", r.Kind))
			return nil
		}
	}
	if _, err := o.deliver(r); err != nil {
		return err
	}
	if tracked {
		meta := map[string]any{"order_id": r.OrderID, "kind": r.Kind}
		if err := o.messages.SaveOutbound(ctx, r.ChatID, r.Text, meta); err != nil {
			o.log.Error("message log save", zap.Int64("order_id", r.OrderID), zap.Error(err))
		}
	}
	return nil
}
