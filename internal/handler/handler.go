// Package handler содержит HTTP-обработчики API SMM-панели.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/middleware"
	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
	"github.com/mmeshcher/smmpanel-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, name, email, password, confirmPassword string) (*model.User, *model.Session, error)
	Login(ctx context.Context, email, password string, rememberMe bool) (*model.User, *model.Session, error)
	Logout(ctx context.Context, token string) error

	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	SubmitPayment(ctx context.Context, actor *model.User, method, reference string, amount int64) (*model.Payment, error)
	ListActivity(ctx context.Context, actor *model.User) ([]model.ActivityEntry, error)

	Catalog(ctx context.Context) ([]model.CatalogService, error)
	PlaceOrder(ctx context.Context, actor *model.User, req service.PlaceOrderRequest) (*model.Order, error)
	PlaceMassOrder(ctx context.Context, actor *model.User, lines []service.MassOrderLine) (*service.MassOrderResult, error)
	GetOrder(ctx context.Context, actor *model.User, orderID int64) (*model.Order, error)
	ListOrders(ctx context.Context, actor *model.User) ([]model.Order, error)

	ListPendingPayments(ctx context.Context, actor *model.User) ([]model.Payment, error)
	ApprovePayment(ctx context.Context, actor *model.User, paymentID int64, note string) error
	RejectPayment(ctx context.Context, actor *model.User, paymentID int64, note string) error
	AdminAdjustBalance(ctx context.Context, actor *model.User, userID, amount int64, reason string) (int64, error)
	SetOrderStatus(ctx context.Context, actor *model.User, orderID int64, status model.OrderStatus) error
	RefundOrder(ctx context.Context, actor *model.User, orderID int64) error
	ListUserActivity(ctx context.Context, actor *model.User, userID int64) ([]model.ActivityEntry, error)
	UnlockLogin(ctx context.Context, actor *model.User, email string) error
}

// Handler реализует HTTP-обработчики API SMM-панели.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// centavos переводит сумму в песо из запроса во внутренние сентаво.
func centavos(pesos float64) int64 {
	return int64(math.Round(pesos * 100))
}

func pesos(centavos int64) float64 {
	return float64(centavos) / 100
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError переводит ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var locked *service.LockedError
	if errors.As(err, &locked) {
		seconds := int(locked.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		h.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrBadCredentials), errors.Is(err, service.ErrSessionExpired):
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrInsufficientBalance):
		h.writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrNotAuthorized):
		h.writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, service.ErrServiceNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, service.ErrPaymentReviewed),
		errors.Is(err, service.ErrInvalidStatusChange):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrQuantityOutOfRange):
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

type userResponse struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

func newSessionResponse(u *model.User, s *model.Session) sessionResponse {
	return sessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User: userResponse{
			ID:    u.ID,
			Name:  u.Name,
			Email: u.Email,
			Role:  u.Role,
		},
	}
}

type registerRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, session, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newSessionResponse(u, session))
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// Login выполняет аутентификацию пользователя и выдаёт токен сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, session, err := h.service.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newSessionResponse(u, session))
}

// Logout завершает текущую сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	u, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}
	return u, true
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

type paymentRequest struct {
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
}

type paymentResponse struct {
	ID        int64               `json:"id"`
	Method    string              `json:"method"`
	Reference string              `json:"reference"`
	Amount    float64             `json:"amount"`
	Status    model.PaymentStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

func newPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:        p.ID,
		Method:    p.Method,
		Reference: p.Reference,
		Amount:    pesos(p.Amount),
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
}

// SubmitPayment регистрирует заявку на ручное пополнение.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.SubmitPayment(r.Context(), u, req.Method, req.Reference, centavos(req.Amount))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, newPaymentResponse(p))
}

type activityResponse struct {
	Action    string    `json:"action"`
	Amount    float64   `json:"amount"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newActivityResponse(entries []model.ActivityEntry) []activityResponse {
	out := make([]activityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityResponse{
			Action:    e.Action,
			Amount:    pesos(e.Amount),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

// GetActivity возвращает журнал действий текущего пользователя.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListActivity(r.Context(), u)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newActivityResponse(entries))
}

type catalogServiceResponse struct {
	ID       int64   `json:"service"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Min      int64   `json:"min"`
	Max      int64   `json:"max"`
	Rate     float64 `json:"rate"`
	Refill   bool    `json:"refill"`
}

// GetServices возвращает каталог услуг с розничными ценами в песо.
func (h *Handler) GetServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.Catalog(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]catalogServiceResponse, 0, len(services))
	for _, svc := range services {
		out = append(out, catalogServiceResponse{
			ID:       svc.ID,
			Name:     svc.Name,
			Category: svc.Category,
			Min:      svc.Min,
			Max:      svc.Max,
			Rate:     pesos(svc.Rate),
			Refill:   svc.Refill,
		})
	}

	h.writeJSON(w, http.StatusOK, out)
}
