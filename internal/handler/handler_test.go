package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/middleware"
	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
	"github.com/mmeshcher/smmpanel-system/internal/service"
)

type stubService struct {
	authUser *model.User
	authErr  error

	registerUser    *model.User
	registerSession *model.Session
	registerErr     error

	loginUser    *model.User
	loginSession *model.Session
	loginErr     error

	logoutErr error

	balanceResp *model.Balance
	balanceErr  error

	paymentResp *model.Payment
	paymentErr  error

	activityResp []model.ActivityEntry
	activityErr  error

	catalogResp []model.CatalogService
	catalogErr  error

	placeOrderResp *model.Order
	placeOrderErr  error

	massResp *service.MassOrderResult
	massErr  error

	orderResp *model.Order
	orderErr  error

	ordersResp []model.Order
	ordersErr  error

	pendingResp []model.Payment
	pendingErr  error

	approveErr error
	rejectErr  error

	adjustBalance int64
	adjustErr     error

	setStatusErr error
	refundErr    error

	userActivityResp []model.ActivityEntry
	userActivityErr  error

	unlockErr error
}

func (s *stubService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) Register(ctx context.Context, name, email, password, confirmPassword string) (*model.User, *model.Session, error) {
	return s.registerUser, s.registerSession, s.registerErr
}

func (s *stubService) Login(ctx context.Context, email, password string, rememberMe bool) (*model.User, *model.Session, error) {
	return s.loginUser, s.loginSession, s.loginErr
}

func (s *stubService) Logout(ctx context.Context, token string) error {
	return s.logoutErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) SubmitPayment(ctx context.Context, actor *model.User, method, reference string, amount int64) (*model.Payment, error) {
	return s.paymentResp, s.paymentErr
}

func (s *stubService) ListActivity(ctx context.Context, actor *model.User) ([]model.ActivityEntry, error) {
	return s.activityResp, s.activityErr
}

func (s *stubService) Catalog(ctx context.Context) ([]model.CatalogService, error) {
	return s.catalogResp, s.catalogErr
}

func (s *stubService) PlaceOrder(ctx context.Context, actor *model.User, req service.PlaceOrderRequest) (*model.Order, error) {
	return s.placeOrderResp, s.placeOrderErr
}

func (s *stubService) PlaceMassOrder(ctx context.Context, actor *model.User, lines []service.MassOrderLine) (*service.MassOrderResult, error) {
	return s.massResp, s.massErr
}

func (s *stubService) GetOrder(ctx context.Context, actor *model.User, orderID int64) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) ListOrders(ctx context.Context, actor *model.User) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) ListPendingPayments(ctx context.Context, actor *model.User) ([]model.Payment, error) {
	return s.pendingResp, s.pendingErr
}

func (s *stubService) ApprovePayment(ctx context.Context, actor *model.User, paymentID int64, note string) error {
	return s.approveErr
}

func (s *stubService) RejectPayment(ctx context.Context, actor *model.User, paymentID int64, note string) error {
	return s.rejectErr
}

func (s *stubService) AdminAdjustBalance(ctx context.Context, actor *model.User, userID, amount int64, reason string) (int64, error) {
	return s.adjustBalance, s.adjustErr
}

func (s *stubService) SetOrderStatus(ctx context.Context, actor *model.User, orderID int64, status model.OrderStatus) error {
	return s.setStatusErr
}

func (s *stubService) RefundOrder(ctx context.Context, actor *model.User, orderID int64) error {
	return s.refundErr
}

func (s *stubService) ListUserActivity(ctx context.Context, actor *model.User, userID int64) ([]model.ActivityEntry, error) {
	return s.userActivityResp, s.userActivityErr
}

func (s *stubService) UnlockLogin(ctx context.Context, actor *model.User, email string) error {
	return s.unlockErr
}

func newTestHandler(t *testing.T, svc *stubService) *Handler {
	t.Helper()

	logger := zap.NewNop()
	auth := middleware.NewAuthMiddleware(svc)

	return NewHandler(svc, logger, auth)
}

func testUser() *model.User {
	return &model.User{ID: 42, Name: "Test User", Email: "user@example.com", Role: model.RoleUser}
}

func testSession() *model.Session {
	now := time.Now()
	return &model.Session{
		Token:     "session-token",
		UserID:    42,
		Role:      model.RoleUser,
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func doRequest(t *testing.T, h *Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(w, req)
	return w
}

func TestRegister_OK(t *testing.T) {
	svc := &stubService{
		registerUser:    testUser(),
		registerSession: testSession(),
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodPost, "/api/user/register", registerRequest{
		Name:            "Test User",
		Email:           "user@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	}, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want 200, body %s", w.Code, w.Body.String())
	}

	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token != "session-token" {
		t.Fatalf("token: got %q", resp.Token)
	}
	if resp.User.Email != "user@example.com" {
		t.Fatalf("email: got %q", resp.User.Email)
	}
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid input", service.ErrInvalidInput, http.StatusBadRequest},
		{"duplicate email", repository.ErrUserExists, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{registerErr: tt.err}
			h := newTestHandler(t, svc)

			w := doRequest(t, h, http.MethodPost, "/api/user/register", registerRequest{
				Name: "x", Email: "x@example.com", Password: "password123", ConfirmPassword: "password123",
			}, "")

			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestLogin_Lockout(t *testing.T) {
	svc := &stubService{
		loginErr: &service.LockedError{RetryAfter: 10 * time.Minute},
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodPost, "/api/user/login", loginRequest{
		Email: "user@example.com", Password: "password123",
	}, "")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "600" {
		t.Fatalf("Retry-After: got %q want 600", got)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	svc := &stubService{loginErr: service.ErrBadCredentials}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodPost, "/api/user/login", loginRequest{
		Email: "user@example.com", Password: "wrong",
	}, "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d want 401", w.Code)
	}
}

func TestGetBalance_OK(t *testing.T) {
	svc := &stubService{
		authUser:    testUser(),
		balanceResp: &model.Balance{Current: 68.50, TotalSpent: 31.50, TotalOrders: 1},
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodGet, "/api/user/balance", nil, "session-token")

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want 200", w.Code)
	}

	var resp model.Balance
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Current != 68.50 {
		t.Fatalf("current: got %v want 68.50", resp.Current)
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	svc := &stubService{authErr: service.ErrSessionExpired}
	h := newTestHandler(t, svc)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/user/balance"},
		{http.MethodGet, "/api/user/activity"},
		{http.MethodPost, "/api/orders/"},
		{http.MethodGet, "/api/orders/"},
		{http.MethodGet, "/api/admin/payments"},
	}
	for _, p := range paths {
		w := doRequest(t, h, p.method, p.path, nil, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: got %d want 401", p.method, p.path, w.Code)
		}
	}
}

func TestPlaceOrder_OK(t *testing.T) {
	svc := &stubService{
		authUser: testUser(),
		placeOrderResp: &model.Order{
			ID:        7,
			ServiceID: 101,
			Link:      "https://instagram.com/someprofile",
			Quantity:  500,
			Charge:    3150,
			Status:    model.OrderStatusPending,
			CreatedAt: time.Now(),
		},
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodPost, "/api/orders/", placeOrderRequest{
		Service: 101, Link: "https://instagram.com/someprofile", Quantity: 500,
	}, "session-token")

	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d want 201, body %s", w.Code, w.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Charge != 31.50 {
		t.Fatalf("charge: got %v want 31.50 pesos", resp.Charge)
	}
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"insufficient balance", repository.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"quantity out of range", service.ErrQuantityOutOfRange, http.StatusUnprocessableEntity},
		{"unknown service", service.ErrServiceNotFound, http.StatusNotFound},
		{"bad link", service.ErrInvalidInput, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				authUser:      testUser(),
				placeOrderErr: tt.err,
			}
			h := newTestHandler(t, svc)

			w := doRequest(t, h, http.MethodPost, "/api/orders/", placeOrderRequest{
				Service: 101, Link: "https://instagram.com/someprofile", Quantity: 500,
			}, "session-token")

			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestPlaceMassOrder_OK(t *testing.T) {
	svc := &stubService{
		authUser: testUser(),
		massResp: &service.MassOrderResult{
			Lines: []service.MassOrderLineResult{
				{Link: "https://instagram.com/one", OrderID: 1, Charge: 3150},
				{Link: "https://instagram.com/two", Error: "service not found"},
			},
			Succeeded:   1,
			Failed:      1,
			TotalCharge: 3150,
		},
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodPost, "/api/orders/mass", massOrderRequest{
		Orders: []placeOrderRequest{
			{Service: 101, Link: "https://instagram.com/one", Quantity: 500},
			{Service: 999, Link: "https://instagram.com/two", Quantity: 500},
		},
	}, "session-token")

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want 200", w.Code)
	}

	var resp service.MassOrderResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Succeeded != 1 || resp.Failed != 1 {
		t.Fatalf("summary: %+v", resp)
	}
}

func TestGetServices_Public(t *testing.T) {
	svc := &stubService{
		catalogResp: []model.CatalogService{
			{ID: 101, Name: "Followers", Min: 50, Max: 10000, Rate: 6300, Refill: true},
		},
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodGet, "/api/services", nil, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want 200", w.Code)
	}

	var resp []catalogServiceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp) != 1 || resp[0].Rate != 63.0 {
		t.Fatalf("catalog: %+v", resp)
	}
}

func TestAdminEndpoints_Forbidden(t *testing.T) {
	svc := &stubService{
		authUser:   testUser(),
		pendingErr: service.ErrNotAuthorized,
		adjustErr:  service.ErrNotAuthorized,
		refundErr:  service.ErrNotAuthorized,
	}
	h := newTestHandler(t, svc)

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/admin/payments", nil},
		{http.MethodPost, "/api/admin/balance", adjustBalanceRequest{UserID: 1, Amount: 50}},
		{http.MethodPost, "/api/admin/orders/7/refund", nil},
	}
	for _, tt := range tests {
		w := doRequest(t, h, tt.method, tt.path, tt.body, "session-token")
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s %s: got %d want 403", tt.method, tt.path, w.Code)
		}
	}
}

func TestApprovePayment_Conflict(t *testing.T) {
	svc := &stubService{
		authUser:   &model.User{ID: 1, Role: model.RoleAdmin},
		approveErr: service.ErrPaymentReviewed,
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodPost, "/api/admin/payments/5/approve", paymentDecisionRequest{Note: "again"}, "session-token")

	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d want 409", w.Code)
	}
}

func TestSetOrderStatus_InvalidTransition(t *testing.T) {
	svc := &stubService{
		authUser:     &model.User{ID: 1, Role: model.RoleAdmin},
		setStatusErr: service.ErrInvalidStatusChange,
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodPost, "/api/admin/orders/7/status", orderStatusRequest{Status: model.OrderStatusCompleted}, "session-token")

	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d want 409", w.Code)
	}
}

func TestLedgerInconsistency_Is500(t *testing.T) {
	svc := &stubService{
		authUser:      testUser(),
		placeOrderErr: service.ErrLedgerInconsistent,
	}
	h := newTestHandler(t, svc)

	w := doRequest(t, h, http.MethodPost, "/api/orders/", placeOrderRequest{
		Service: 101, Link: "https://instagram.com/someprofile", Quantity: 500,
	}, "session-token")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d want 500", w.Code)
	}
}
