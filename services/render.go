package services

import (
	"strconv"
	"strings"
)

// Button is one inline button (text + callback data or url).
type Button struct {
	Text         string
	CallbackData string
	URL          string // if set, use as URL button instead of callback
}

// Asset is a binary attachment, sent as a photo.
type Asset struct {
	Name  string
	Bytes []byte
}

const AudienceAdmin = "admin"

// Render is one outbound message for the chat transport to deliver.
type Render struct {
	ChatID  int64
	Text    string
	Buttons [][]Button
	Photo   *Asset
	// Admin order cards carry the order they belong to so the transport can
	// remember the sent message and edit it after a decision.
	OrderID  int64
	Audience string
	// Kind tags user notifications about an order in the message log.
	Kind string
}

// ActionType names an inbound user action.
type ActionType string

const (
	ActionStart          ActionType = "start"
	ActionPlatform       ActionType = "platform"
	ActionCategory       ActionType = "category"
	ActionService        ActionType = "service"
	ActionText           ActionType = "text"
	ActionQuantity       ActionType = "quantity"
	ActionCustomQuantity ActionType = "custom_quantity"
	ActionConfirm        ActionType = "confirm"
	ActionPaid           ActionType = "paid"
	ActionProof          ActionType = "proof"
	ActionBack           ActionType = "back"
	ActionCancel         ActionType = "cancel"
	ActionManagerAccess  ActionType = "manager_access"
	ActionMyOrders       ActionType = "my_orders"
)

// Action is one inbound event from a user.
type Action struct {
	UserID   int64
	ChatID   int64
	Username string
	Type     ActionType
	Payload  string
	Asset    []byte
}

// Callback data prefixes. Telegram limits callback data to 64 bytes.
const (
	cbPlatform      = "platform:"
	cbCategory      = "category:"
	cbService       = "service:"
	cbQuantity      = "qty:"
	cbCustomQty     = "qty:custom"
	cbConfirm       = "confirm"
	cbPaid          = "paid"
	cbBack          = "back"
	cbCancel        = "cancel"
	cbManagerAccess = "manager_access"

	CallbackApprove = "approve:"
	CallbackReject  = "reject:"
)

// ParseCallback maps user callback data to an action. ok is false for data
// that is not part of the ordering flow (admin buttons, stale formats).
func ParseCallback(data string) (t ActionType, payload string, ok bool) {
	switch {
	case data == cbConfirm:
		return ActionConfirm, "", true
	case data == cbPaid:
		return ActionPaid, "", true
	case data == cbBack:
		return ActionBack, "", true
	case data == cbCancel:
		return ActionCancel, "", true
	case data == cbManagerAccess:
		return ActionManagerAccess, "", true
	case data == cbCustomQty:
		return ActionCustomQuantity, "", true
	case strings.HasPrefix(data, cbPlatform):
		return ActionPlatform, strings.TrimPrefix(data, cbPlatform), true
	case strings.HasPrefix(data, cbCategory):
		return ActionCategory, strings.TrimPrefix(data, cbCategory), true
	case strings.HasPrefix(data, cbService):
		return ActionService, strings.TrimPrefix(data, cbService), true
	case strings.HasPrefix(data, cbQuantity):
		return ActionQuantity, strings.TrimPrefix(data, cbQuantity), true
	}
	return "", "", false
}

// ParseDecisionCallback parses "approve:<id>" / "reject:<id>".
func ParseDecisionCallback(data string) (approve bool, orderID int64, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(data, CallbackApprove):
		approve, rest = true, strings.TrimPrefix(data, CallbackApprove)
	case strings.HasPrefix(data, CallbackReject):
		rest = strings.TrimPrefix(data, CallbackReject)
	default:
		return false, 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return false, 0, false
	}
	return approve, id, true
}

// DecisionButtons are the Approve/Reject buttons of an admin order card.
func DecisionButtons(orderID int64) [][]Button {
	id := strconv.FormatInt(orderID, 10)
	return [][]Button{{
		{Text: "✅ Approve", CallbackData: CallbackApprove + id},
		{Text: "❌ Reject", CallbackData: CallbackReject + id},
	}}
}
