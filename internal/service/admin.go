package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

func requireAdmin(actor *model.User) error {
	if !actor.IsAdmin() {
		return ErrNotAuthorized
	}
	return nil
}

// ListPendingPayments возвращает заявки на пополнение, ожидающие решения.
func (s *Service) ListPendingPayments(ctx context.Context, actor *model.User) ([]model.Payment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.ListPendingPayments(ctx)
}

// ApprovePayment подтверждает заявку на пополнение и зачисляет её сумму
// на баланс пользователя. Решение по заявке принимается ровно один раз.
func (s *Service) ApprovePayment(ctx context.Context, actor *model.User, paymentID int64, note string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	p, err := s.repo.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != model.PaymentStatusPending {
		return fmt.Errorf("%w: payment %d is %s", ErrPaymentReviewed, p.ID, p.Status)
	}

	if _, err := s.repo.CreditBalance(ctx, p.UserID, p.Amount); err != nil {
		return fmt.Errorf("credit approved payment: %w", err)
	}

	if err := s.repo.UpdatePaymentStatus(ctx, p.ID, model.PaymentStatusApproved, note, time.Now()); err != nil {
		// Зачисление уже произошло, а заявка осталась Pending: повторное
		// подтверждение удвоит сумму. Требует ручного вмешательства.
		s.logger.Error("payment approved but status update failed",
			zap.Error(err), zap.Int64("paymentID", p.ID))
		return fmt.Errorf("%w: payment %d credited but not marked approved: %v", ErrLedgerInconsistent, p.ID, err)
	}

	s.logActivity(ctx, p.UserID, "payment_approved", p.Amount, p.Method+" "+p.Reference)
	return nil
}

// RejectPayment отклоняет заявку на пополнение. Баланс не меняется.
func (s *Service) RejectPayment(ctx context.Context, actor *model.User, paymentID int64, note string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	p, err := s.repo.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != model.PaymentStatusPending {
		return fmt.Errorf("%w: payment %d is %s", ErrPaymentReviewed, p.ID, p.Status)
	}

	if err := s.repo.UpdatePaymentStatus(ctx, p.ID, model.PaymentStatusRejected, note, time.Now()); err != nil {
		return err
	}

	s.logActivity(ctx, p.UserID, "payment_rejected", p.Amount, note)
	return nil
}

// AdminAdjustBalance корректирует баланс произвольного пользователя на
// подписанную сумму в сентаво. Отрицательная корректировка подчиняется
// обычному запрету ухода в минус.
func (s *Service) AdminAdjustBalance(ctx context.Context, actor *model.User, userID, amount int64, reason string) (int64, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: adjustment must not be zero", ErrInvalidInput)
	}

	var (
		balance int64
		err     error
		action  string
	)
	if amount > 0 {
		balance, err = s.repo.CreditBalance(ctx, userID, amount)
		action = "admin_credit"
	} else {
		balance, err = s.repo.DebitBalance(ctx, userID, -amount)
		action = "admin_debit"
	}
	if err != nil {
		return 0, err
	}

	s.logActivity(ctx, userID, action, amount, reason)
	return balance, nil
}

// SetOrderStatus меняет статус заказа вручную. В отличие от фоновой
// синхронизации ручная смена проверяется на допустимость перехода.
func (s *Service) SetOrderStatus(ctx context.Context, actor *model.User, orderID int64, status model.OrderStatus) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if _, ok := mapSupplierStatus(string(status)); !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !model.CanTransition(order.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChange, order.Status, status)
	}

	return s.repo.UpdateOrderStatus(ctx, orderID, status, nil)
}

// RefundOrder возвращает сумму заказа на баланс владельца и переводит
// заказ в Refunded. Возврат доступен из любого статуса, кроме уже
// выполненного возврата; сумма возврата равна зафиксированному списанию.
func (s *Service) RefundOrder(ctx context.Context, actor *model.User, orderID int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == model.OrderStatusRefunded {
		return fmt.Errorf("%w: order %d is already refunded", ErrInvalidStatusChange, order.ID)
	}

	owner, err := s.repo.GetUserByID(ctx, order.UserID)
	if err != nil {
		return err
	}

	if !owner.IsAdmin() && order.Charge > 0 {
		if _, err := s.repo.CreditBalance(ctx, owner.ID, order.Charge); err != nil {
			return fmt.Errorf("credit refund: %w", err)
		}
	}

	if err := s.repo.UpdateOrderStatus(ctx, order.ID, model.OrderStatusRefunded, nil); err != nil {
		s.logger.Error("refund credited but status update failed",
			zap.Error(err), zap.Int64("orderID", order.ID))
		return fmt.Errorf("%w: order %d refunded but not marked: %v", ErrLedgerInconsistent, order.ID, err)
	}

	s.logActivity(ctx, owner.ID, "order_refunded", order.Charge, fmt.Sprintf("order %d", order.ID))
	return nil
}

// ListUserActivity возвращает журнал действий произвольного пользователя.
func (s *Service) ListUserActivity(ctx context.Context, actor *model.User, userID int64) ([]model.ActivityEntry, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.ListActivityByUser(ctx, userID, activityListLimit)
}

// UnlockLogin снимает блокировку входа с указанного e-mail.
func (s *Service) UnlockLogin(ctx context.Context, actor *model.User, email string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.repo.ClearLoginAttempt(ctx, normalizeEmail(email))
}
