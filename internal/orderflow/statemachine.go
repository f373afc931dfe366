package orderflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
)

// StateMachine проверяет и применяет смену статусов заказа.
type StateMachine struct {
	store    Store
	notifier *Notifier
	clock    Clock
	logger   *zap.Logger
}

// NewStateMachine создаёт StateMachine. notifier может быть nil.
func NewStateMachine(store Store, notifier *Notifier, clock Clock, logger *zap.Logger) *StateMachine {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{store: store, notifier: notifier, clock: clock, logger: logger}
}

// RequestTransition переводит заказ в статус target от имени actor.
// Порядок этапов не проверяется: из любого нетерминального статуса можно перейти в любой другой.
// Новый заказ без участия человека отменяет только AutoCancel.
func (m *StateMachine) RequestTransition(ctx context.Context, orderID int64, target string, actor Actor) (models.Order, error) {
	var updated models.Order
	err := m.store.WithOrderLock(ctx, orderID, func(tx Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == constants.STATUS_NEW && target == constants.STATUS_CANCELLED && !isHumanRole(actor.Role) {
			return fmt.Errorf("%w: роль %s не может отменить новый заказ #%d", ErrInvalidTransition, actor.Role, order.ID)
		}
		if err := m.applyTransition(ctx, tx, &order, target, actor, true); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}
	m.logger.Info("Статус заказа изменён",
		zap.Int64("order_id", orderID), zap.String("status", updated.Status),
		zap.String("actor", actor.Name), zap.String("role", actor.Role))
	return updated, nil
}

// AutoCancel отменяет неоплаченный заказ по истечении TTL под собственной блокировкой.
func (m *StateMachine) AutoCancel(ctx context.Context, orderID int64, setting models.OrderSetting, now time.Time) (bool, error) {
	var cancelled bool
	err := m.store.WithOrderLock(ctx, orderID, func(tx Tx) error {
		var err error
		_, cancelled, err = m.AutoCancelInTx(ctx, tx, orderID, setting, now)
		return err
	})
	return cancelled, err
}

// AutoCancelInTx - путь автоотмены внутри уже взятой блокировки.
// Статус оплаты, статус заказа и истечение TTL перечитываются под блокировкой;
// если хоть одно условие не выполнено, возвращает cancelled == false без ошибки.
func (m *StateMachine) AutoCancelInTx(ctx context.Context, tx Tx, orderID int64, setting models.OrderSetting, now time.Time) (models.Order, bool, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, false, err
	}
	payment, err := tx.GetPayment(ctx, orderID)
	if err != nil {
		return order, false, err
	}
	if order.IsDeleted || constants.IsTerminalOrderStatus(order.Status) {
		return order, false, nil
	}
	if payment.Status != constants.PAYMENT_STATUS_PENDING || order.PaymentStatus != constants.PAYMENT_STATUS_PENDING {
		return order, false, nil
	}
	if now.Before(PaymentDeadline(order, setting)) {
		return order, false, nil
	}

	actor := Actor{Name: "scheduler", Role: constants.ROLE_SCHEDULER}
	if err := m.applyTransition(ctx, tx, &order, constants.STATUS_CANCELLED, actor, false); err != nil {
		return order, false, err
	}
	m.logger.Info("Заказ автоматически отменён: оплата не поступила",
		zap.Int64("order_id", orderID), zap.Int("ttl_minutes", setting.PaymentTTLMinutes))
	return order, true, nil
}

// applyTransition - общий шаг перехода: проверка, отмена ожидающего платежа,
// сохранение, история и уведомления.
func (m *StateMachine) applyTransition(ctx context.Context, tx Tx, order *models.Order, target string, actor Actor, notifyCustomer bool) error {
	if constants.IsTerminalOrderStatus(order.Status) {
		return fmt.Errorf("%w: заказ #%d уже в статусе %s", ErrInvalidTransition, order.ID, order.Status)
	}
	if !constants.IsKnownOrderStatus(target) {
		return fmt.Errorf("%w: неизвестный статус %q", ErrInvalidTransition, target)
	}
	if order.Status == target {
		return fmt.Errorf("%w: заказ #%d уже в статусе %s", ErrInvalidTransition, order.ID, target)
	}

	now := m.clock().UTC()
	if target == constants.STATUS_CANCELLED {
		payment, err := tx.GetPayment(ctx, order.ID)
		if err != nil {
			return err
		}
		if cancelPendingPayment(&payment, now) {
			if err := tx.UpdatePayment(ctx, payment); err != nil {
				return err
			}
			order.PaymentStatus = payment.Status
		}
	}

	previous := order.Status
	order.Status = target
	order.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		return err
	}
	if err := tx.InsertStatusHistory(ctx, models.OrderStatusHistory{
		OrderID:   order.ID,
		Previous:  previous,
		New:       target,
		Actor:     actor.Name,
		Role:      actor.Role,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	// Сообщения уходят под блокировкой заказа, каждый вызов мессенджера ограничен
	// его таймаутом. При откате транзакции отправленное не отзывается.
	if m.notifier != nil {
		m.notifier.OnStatusChanged(ctx, tx, *order, previous, notifyCustomer)
	}
	return nil
}

func isHumanRole(role string) bool {
	return role == constants.ROLE_ADMIN || role == constants.ROLE_STAFF
}

// PaymentDeadline - момент автоотмены неоплаченного заказа.
func PaymentDeadline(order models.Order, setting models.OrderSetting) time.Time {
	return order.CreatedAt.Add(time.Duration(setting.PaymentTTLMinutes) * time.Minute)
}

// OrderView - данные заказа для внешнего API чтения.
type OrderView struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Status           string          `json:"status"`
	PaymentStatus    string          `json:"payment_status"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	DeliveryCost     decimal.Decimal `json:"delivery_cost"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	RefundableAmount decimal.Decimal `json:"refundable_amount"`
	ConfirmationURL  string          `json:"confirmation_url,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Describe собирает OrderView. Вернуть можно только успешно оплаченные деньги.
func Describe(order models.Order, payment models.Payment) OrderView {
	view := OrderView{
		ID:               order.ID,
		Code:             order.Code,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		TotalAmount:      order.TotalAmount,
		DeliveryCost:     order.DeliveryCost,
		PaidAmount:       decimal.Zero,
		RefundedAmount:   payment.RefundedAmount,
		RefundableAmount: decimal.Zero,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
	if isRefundable(payment.Status) {
		view.PaidAmount = payment.Amount
		view.RefundableAmount = payment.Refundable()
	} else if payment.Status == constants.PAYMENT_STATUS_REFUNDED {
		view.PaidAmount = payment.Amount
	}
	if payment.Status == constants.PAYMENT_STATUS_PENDING {
		view.ConfirmationURL = payment.ConfirmationURL
	}
	return view
}
