package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// Проверку роли выполняет бизнес-логика: обработчики лишь передают
// текущего пользователя как действующее лицо.

// ListPendingPayments возвращает заявки на пополнение, ожидающие решения.
func (h *Handler) ListPendingPayments(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	payments, err := h.service.ListPendingPayments(r.Context(), u)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, newPaymentResponse(&payments[i]))
	}

	h.writeJSON(w, http.StatusOK, out)
}

type paymentDecisionRequest struct {
	Note string `json:"note"`
}

func paymentIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// ApprovePayment подтверждает заявку и зачисляет средства пользователю.
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	paymentID, ok := paymentIDParam(w, r)
	if !ok {
		return
	}

	var req paymentDecisionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.service.ApprovePayment(r.Context(), u, paymentID, req.Note); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// RejectPayment отклоняет заявку на пополнение.
func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	paymentID, ok := paymentIDParam(w, r)
	if !ok {
		return
	}

	var req paymentDecisionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.service.RejectPayment(r.Context(), u, paymentID, req.Note); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type adjustBalanceRequest struct {
	UserID int64   `json:"user_id"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

type adjustBalanceResponse struct {
	Balance float64 `json:"balance"`
}

// AdjustBalance корректирует баланс произвольного пользователя на
// подписанную сумму в песо.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req adjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.AdminAdjustBalance(r.Context(), u, req.UserID, centavos(req.Amount), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, adjustBalanceResponse{Balance: pesos(balance)})
}

type orderStatusRequest struct {
	Status model.OrderStatus `json:"status"`
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// SetOrderStatus меняет статус заказа вручную.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetOrderStatus(r.Context(), u, orderID, req.Status); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// RefundOrder возвращает сумму заказа владельцу и помечает заказ Refunded.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.RefundOrder(r.Context(), u, orderID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetUserActivity возвращает журнал действий произвольного пользователя.
func (h *Handler) GetUserActivity(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entries, err := h.service.ListUserActivity(r.Context(), u, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newActivityResponse(entries))
}

type unlockRequest struct {
	Email string `json:"email"`
}

// UnlockLogin снимает блокировку входа с указанного e-mail.
func (h *Handler) UnlockLogin(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UnlockLogin(r.Context(), u, req.Email); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
