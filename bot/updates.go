package bot

import (
	"strings"

	"smm-telegram/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// parseCommand splits "/cmd@botname a b" into "/cmd" and its arguments. cmd is
// "" when text is not a command.
func parseCommand(text string) (cmd string, args []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd = strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

// commandRest returns everything after the command word, line breaks kept.
func commandRest(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, " \t\n")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}

// proofFileID returns the file id of an image attached to msg: the largest
// photo size, or an image sent as a document.
func proofFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return best.FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID
	}
	return ""
}

// actionFromMessage maps a user message to an order flow action. For proofs
// Payload is the Telegram file id; the caller downloads the bytes.
func actionFromMessage(msg *tgbotapi.Message) (services.Action, bool) {
	if msg.From == nil || msg.Chat == nil {
		return services.Action{}, false
	}
	a := services.Action{UserID: msg.From.ID, ChatID: msg.Chat.ID, Username: msg.From.UserName}
	if id := proofFileID(msg); id != "" {
		a.Type, a.Payload = services.ActionProof, id
		return a, true
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return a, false
	}
	cmd, _ := parseCommand(text)
	switch cmd {
	case "":
		a.Type, a.Payload = services.ActionText, text
	case "/start":
		a.Type = services.ActionStart
	case "/cancel":
		a.Type = services.ActionCancel
	case "/orders":
		a.Type = services.ActionMyOrders
	case "/manageraccess":
		a.Type = services.ActionManagerAccess
	default:
		return a, false
	}
	return a, true
}
