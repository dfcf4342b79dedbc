package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/service"
)

type dripRunResponse struct {
	Quantity    int64     `json:"quantity"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type orderResponse struct {
	ID              int64             `json:"id"`
	Service         int64             `json:"service"`
	ServiceName     string            `json:"service_name"`
	Link            string            `json:"link"`
	Quantity        int64             `json:"quantity"`
	Charge          float64           `json:"charge"`
	Status          model.OrderStatus `json:"status"`
	SupplierOrderID string            `json:"supplier_order_id,omitempty"`
	StartCount      *int64            `json:"start_count,omitempty"`
	Remains         *int64            `json:"remains,omitempty"`
	Drip            []dripRunResponse `json:"drip,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		Service:         o.ServiceID,
		ServiceName:     o.ServiceName,
		Link:            o.Link,
		Quantity:        o.Quantity,
		Charge:          pesos(o.Charge),
		Status:          o.Status,
		SupplierOrderID: o.SupplierOrderID,
		StartCount:      o.StartCount,
		Remains:         o.Remains,
		CreatedAt:       o.CreatedAt,
	}
	for _, run := range o.Drip {
		resp.Drip = append(resp.Drip, dripRunResponse{Quantity: run.Quantity, ScheduledAt: run.ScheduledAt})
	}
	return resp
}

type placeOrderRequest struct {
	Service  int64  `json:"service"`
	Link     string `json:"link"`
	Quantity int64  `json:"quantity"`
	Runs     int64  `json:"runs,omitempty"`
	Interval int64  `json:"interval,omitempty"`
}

// PlaceOrder размещает заказ от имени текущего пользователя.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), u, service.PlaceOrderRequest{
		ServiceID:           req.Service,
		Link:                req.Link,
		Quantity:            req.Quantity,
		DripRuns:            req.Runs,
		DripIntervalMinutes: req.Interval,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

type massOrderRequest struct {
	Orders []placeOrderRequest `json:"orders"`
}

// PlaceMassOrder размещает несколько заказов одним запросом. Строки
// независимы: ответ перечисляет результат каждой.
func (h *Handler) PlaceMassOrder(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req massOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	lines := make([]service.MassOrderLine, 0, len(req.Orders))
	for _, o := range req.Orders {
		lines = append(lines, service.MassOrderLine{
			ServiceID: o.Service,
			Link:      o.Link,
			Quantity:  o.Quantity,
		})
	}

	result, err := h.service.PlaceMassOrder(r.Context(), u, lines)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetOrders возвращает заказы текущего пользователя, новые первыми.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), u)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, newOrderResponse(&orders[i]))
	}

	h.writeJSON(w, http.StatusOK, out)
}

// GetOrder возвращает один заказ текущего пользователя.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), u, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}
