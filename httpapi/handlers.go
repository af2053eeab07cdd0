package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"smm-telegram/models"
	"smm-telegram/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

type analyticsResp struct {
	TotalOrders   int    `json:"total_orders"`
	PendingCount  int    `json:"pending"`
	ApprovedCount int    `json:"approved"`
	RejectedCount int    `json:"rejected"`
	Revenue       string `json:"revenue"`
	Profit        string `json:"profit"`
}

type orderResp struct {
	ID                 int64      `json:"id"`
	UserID             int64      `json:"user_id"`
	Platform           string     `json:"platform"`
	Category           string     `json:"category"`
	Service            string     `json:"service"`
	Link               string     `json:"link"`
	Quantity           int        `json:"quantity"`
	UnitPrice          string     `json:"unit_price"`
	TotalPrice         string     `json:"total_price"`
	MarginPercent      string     `json:"margin_percent"`
	PaymentRef         string     `json:"payment_ref"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	DecidedBy          *int64     `json:"decided_by,omitempty"`
	RejectReason       *string    `json:"reject_reason,omitempty"`
	ExternalOrderID    *string    `json:"external_order_id,omitempty"`
	FulfillmentStatus  string     `json:"fulfillment_status,omitempty"`
	FulfillmentError   *string    `json:"fulfillment_error,omitempty"`
	FulfillmentRemains *int       `json:"fulfillment_remains,omitempty"`
}

type marginsResp struct {
	Global   string            `json:"global"`
	Services map[string]string `json:"services"`
}

func toOrderResp(o *models.Order) orderResp {
	return orderResp{
		ID:                 o.ID,
		UserID:             o.UserID,
		Platform:           string(o.Platform),
		Category:           o.Category,
		Service:            o.ServiceName,
		Link:               o.Link,
		Quantity:           o.Quantity,
		UnitPrice:          o.UnitPrice.String(),
		TotalPrice:         o.TotalPrice.StringFixed(2),
		MarginPercent:      o.MarginPercent.String(),
		PaymentRef:         o.PaymentRef,
		Status:             string(o.Status),
		CreatedAt:          o.CreatedAt,
		DecidedAt:          o.DecidedAt,
		DecidedBy:          o.DecidedBy,
		RejectReason:       o.RejectReason,
		ExternalOrderID:    o.ExternalOrderID,
		FulfillmentStatus:  o.FulfillmentStatus,
		FulfillmentError:   o.FulfillmentError,
		FulfillmentRemains: o.FulfillmentRemains,
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, map[string]string{"error": msg})
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.ledger.Analytics(r.Context())
	if err != nil {
		s.log.Error("api analytics", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, r, analyticsResp{
		TotalOrders:   a.TotalOrders,
		PendingCount:  a.PendingCount,
		ApprovedCount: a.ApprovedCount,
		RejectedCount: a.RejectedCount,
		Revenue:       a.Revenue.StringFixed(2),
		Profit:        a.Profit.StringFixed(2),
	})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	status := models.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, http.StatusBadRequest, "status must be pending, approved or rejected")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = n
	}
	orders, err := s.ledger.List(r.Context(), status, limit)
	if err != nil {
		s.log.Error("api list orders", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]orderResp, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderResp(&orders[i]))
	}
	render.JSON(w, r, out)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := s.ledger.Get(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.log.Error("api get order", zap.Int64("order_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, r, toOrderResp(o))
}

func (s *Server) getMargins(w http.ResponseWriter, r *http.Request) {
	overrides := s.margins.Overrides()
	resp := marginsResp{Global: s.margins.Global().String(), Services: make(map[string]string, len(overrides))}
	for k, v := range overrides {
		resp.Services[k] = v.String()
	}
	render.JSON(w, r, resp)
}
