package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/store"
)

func newTestRepo(t *testing.T) *FileRepository {
	t.Helper()

	kv, err := store.New(filepath.Join(t.TempDir(), "ledger.json"), "test-secret")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return NewFileRepository(kv)
}

func createTestUser(t *testing.T, r *FileRepository, email string, balance int64) *model.User {
	t.Helper()

	u := &model.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: []byte("hash"),
		Balance:      balance,
		Role:         model.RoleUser,
		CreatedAt:    time.Now(),
	}
	id, err := r.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	u.ID = id
	return u
}

func TestCreateUser_DuplicateEmailCaseInsensitive(t *testing.T) {
	r := newTestRepo(t)
	createTestUser(t, r, "user@example.com", 0)

	_, err := r.CreateUser(context.Background(), &model.User{
		Name:  "Other",
		Email: "USER@Example.COM",
		Role:  model.RoleUser,
	})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("err = %v, want ErrUserExists", err)
	}
}

func TestDebitBalance_InsufficientLeavesBalanceUnchanged(t *testing.T) {
	r := newTestRepo(t)
	u := createTestUser(t, r, "user@example.com", 5000)

	_, err := r.DebitBalance(context.Background(), u.ID, 5001)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	got, err := r.GetUserByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.Balance != 5000 {
		t.Fatalf("balance = %d, want unchanged 5000", got.Balance)
	}
}

func TestBalance_SequentialOperationsStayConsistent(t *testing.T) {
	r := newTestRepo(t)
	u := createTestUser(t, r, "user@example.com", 0)
	ctx := context.Background()

	// Последовательность credit/debit должна применяться атомарно по
	// одной операции: баланс всегда >= 0 и равен сумме применённых.
	ops := []struct {
		credit bool
		amount int64
		ok     bool
	}{
		{true, 10000, true},
		{false, 6000, true},
		{false, 6000, false}, // нехватка: 4000 < 6000
		{true, 2500, true},
		{false, 6500, true},
		{false, 1, false},
	}

	var want int64
	for i, op := range ops {
		var err error
		if op.credit {
			_, err = r.CreditBalance(ctx, u.ID, op.amount)
		} else {
			_, err = r.DebitBalance(ctx, u.ID, op.amount)
		}

		if op.ok {
			if err != nil {
				t.Fatalf("op %d: unexpected error %v", i, err)
			}
			if op.credit {
				want += op.amount
			} else {
				want -= op.amount
			}
		} else if !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("op %d: err = %v, want ErrInsufficientBalance", i, err)
		}

		got, err := r.GetUserByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("op %d: GetUserByID: %v", i, err)
		}
		if got.Balance != want {
			t.Fatalf("op %d: balance = %d, want %d", i, got.Balance, want)
		}
		if got.Balance < 0 {
			t.Fatalf("op %d: balance went negative: %d", i, got.Balance)
		}
	}
}

func TestCreateOrder_NewestFirstAndStats(t *testing.T) {
	r := newTestRepo(t)
	u := createTestUser(t, r, "user@example.com", 100000)
	ctx := context.Background()

	first := &model.Order{
		UserID: u.ID, ServiceID: 101, ServiceName: "Followers",
		Link: "https://example.com/a", Quantity: 500, Charge: 3150,
		Status: model.OrderStatusPending, NeedsSync: true, CreatedAt: time.Now(),
	}
	second := &model.Order{
		UserID: u.ID, ServiceID: 102, ServiceName: "Likes",
		Link: "https://example.com/b", Quantity: 1000, Charge: 6300,
		Status: model.OrderStatusPending, NeedsSync: true, CreatedAt: time.Now(),
	}

	if _, err := r.CreateOrder(ctx, first); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := r.CreateOrder(ctx, second); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	orders, err := r.GetOrdersByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetOrdersByUser: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("len = %d, want 2", len(orders))
	}
	if orders[0].ServiceID != 102 {
		t.Fatalf("orders are not newest-first: %+v", orders)
	}

	got, err := r.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.TotalOrders != 2 {
		t.Fatalf("TotalOrders = %d, want 2", got.TotalOrders)
	}
	if got.TotalSpent != 3150+6300 {
		t.Fatalf("TotalSpent = %d, want %d", got.TotalSpent, 3150+6300)
	}
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	r := newTestRepo(t)

	err := r.UpdateOrderStatus(context.Background(), 999, model.OrderStatusCompleted, nil)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestUpdateOrderStatus_DeliveryMetadata(t *testing.T) {
	r := newTestRepo(t)
	u := createTestUser(t, r, "user@example.com", 100000)
	ctx := context.Background()

	o := &model.Order{
		UserID: u.ID, ServiceID: 101, ServiceName: "Followers",
		Link: "https://example.com/a", Quantity: 500, Charge: 3150,
		Status: model.OrderStatusPending, CreatedAt: time.Now(),
	}
	id, err := r.CreateOrder(ctx, o)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	start := int64(1200)
	remains := int64(350)
	err = r.UpdateOrderStatus(ctx, id, model.OrderStatusInProgress, &model.DeliveryUpdate{
		StartCount: &start,
		Remains:    &remains,
	})
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	got, err := r.GetOrderByID(ctx, id)
	if err != nil {
		t.Fatalf("GetOrderByID: %v", err)
	}
	if got.Status != model.OrderStatusInProgress {
		t.Fatalf("status = %s, want In progress", got.Status)
	}
	if got.StartCount == nil || *got.StartCount != 1200 {
		t.Fatalf("startCount = %v, want 1200", got.StartCount)
	}
	if got.Remains == nil || *got.Remains != 350 {
		t.Fatalf("remains = %v, want 350", got.Remains)
	}
	// Сумма списания не пересчитывается после создания.
	if got.Charge != 3150 {
		t.Fatalf("charge = %d, want fixed 3150", got.Charge)
	}
}

func TestGetOrdersForSync(t *testing.T) {
	r := newTestRepo(t)
	u := createTestUser(t, r, "user@example.com", 100000)
	ctx := context.Background()

	unsent := &model.Order{
		UserID: u.ID, ServiceID: 1, ServiceName: "A", Link: "https://e.com/1",
		Quantity: 100, Charge: 100, Status: model.OrderStatusPending,
		NeedsSync: true, CreatedAt: time.Now(),
	}
	unsentID, err := r.CreateOrder(ctx, unsent)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	done := &model.Order{
		UserID: u.ID, ServiceID: 2, ServiceName: "B", Link: "https://e.com/2",
		Quantity: 100, Charge: 100, Status: model.OrderStatusPending,
		NeedsSync: true, CreatedAt: time.Now(),
	}
	doneID, err := r.CreateOrder(ctx, done)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := r.MarkOrderSynced(ctx, doneID, "sup-42"); err != nil {
		t.Fatalf("MarkOrderSynced: %v", err)
	}
	if err := r.UpdateOrderStatus(ctx, doneID, model.OrderStatusCompleted, nil); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	orders, err := r.GetOrdersForSync(ctx, 10)
	if err != nil {
		t.Fatalf("GetOrdersForSync: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != unsentID {
		t.Fatalf("unexpected sync set: %+v", orders)
	}
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	s := &model.Session{
		Token:        "token-123",
		UserID:       1,
		Role:         model.RoleUser,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
		LastActivity: now,
	}
	if err := r.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	later := now.Add(10 * time.Minute)
	if err := r.TouchSession(ctx, "token-123", later); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}

	got, err := r.GetSession(ctx, "token-123")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.LastActivity.Equal(later) {
		t.Fatalf("lastActivity = %v, want %v", got.LastActivity, later)
	}

	if err := r.DeleteSession(ctx, "token-123"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := r.GetSession(ctx, "token-123"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestPayments(t *testing.T) {
	r := newTestRepo(t)
	u := createTestUser(t, r, "user@example.com", 0)
	ctx := context.Background()

	id, err := r.CreatePayment(ctx, &model.Payment{
		UserID:    u.ID,
		Method:    "gcash",
		Reference: "REF-001",
		Amount:    50000,
		Status:    model.PaymentStatusPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	pending, err := r.ListPendingPayments(ctx)
	if err != nil {
		t.Fatalf("ListPendingPayments: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("unexpected pending payments: %+v", pending)
	}

	if err := r.UpdatePaymentStatus(ctx, id, model.PaymentStatusApproved, "ok", time.Now()); err != nil {
		t.Fatalf("UpdatePaymentStatus: %v", err)
	}

	pending, err = r.ListPendingPayments(ctx)
	if err != nil {
		t.Fatalf("ListPendingPayments: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("approved payment still pending: %+v", pending)
	}

	got, err := r.GetPaymentByID(ctx, id)
	if err != nil {
		t.Fatalf("GetPaymentByID: %v", err)
	}
	if got.Status != model.PaymentStatusApproved || got.ReviewedAt == nil {
		t.Fatalf("unexpected payment after review: %+v", got)
	}
}

func TestActivityLog_CappedWindow(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < activityCap+25; i++ {
		err := r.AppendActivity(ctx, &model.ActivityEntry{
			UserID:    1,
			Action:    "debit",
			Amount:    int64(i),
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendActivity %d: %v", i, err)
		}
	}

	entries, err := r.ListActivityByUser(ctx, 1, activityCap+100)
	if err != nil {
		t.Fatalf("ListActivityByUser: %v", err)
	}
	if len(entries) != activityCap {
		t.Fatalf("len = %d, want capped at %d", len(entries), activityCap)
	}
	// Последняя запись должна быть самой свежей.
	if entries[0].Amount != int64(activityCap+24) {
		t.Fatalf("newest entry amount = %d, want %d", entries[0].Amount, activityCap+24)
	}
}

func TestLoginAttempts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	got, err := r.GetLoginAttempt(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetLoginAttempt: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil attempt, got %+v", got)
	}

	now := time.Now()
	err = r.SaveLoginAttempt(ctx, &model.LoginAttempt{
		Email:       "user@example.com",
		Count:       3,
		WindowStart: now,
	})
	if err != nil {
		t.Fatalf("SaveLoginAttempt: %v", err)
	}

	got, err = r.GetLoginAttempt(ctx, "USER@example.com")
	if err != nil {
		t.Fatalf("GetLoginAttempt: %v", err)
	}
	if got == nil || got.Count != 3 {
		t.Fatalf("unexpected attempt: %+v", got)
	}

	if err := r.ClearLoginAttempt(ctx, "user@example.com"); err != nil {
		t.Fatalf("ClearLoginAttempt: %v", err)
	}
	got, err = r.GetLoginAttempt(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetLoginAttempt: %v", err)
	}
	if got != nil {
		t.Fatalf("cleared attempt still present: %+v", got)
	}
}
