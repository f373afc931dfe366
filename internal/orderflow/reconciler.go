package orderflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/utils"
)

// Outcome - результат применения события шлюза.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"   // состояние платежа изменилось
	OutcomeDuplicate Outcome = "duplicate" // событие уже было обработано
	OutcomeUnchanged Outcome = "unchanged" // событие новое, но состояние не меняет
	OutcomeIgnored   Outcome = "ignored"   // неизвестный тип, чужая или устаревшая транзакция
)

// Reconciler - единственный, кто меняет состояние платежей.
type Reconciler struct {
	store    Store
	machine  *StateMachine
	gateway  Gateway
	clock    Clock
	currency string
	logger   *zap.Logger
}

// NewReconciler создаёт Reconciler. gateway нужен только для возвратов и ссылок на оплату.
func NewReconciler(store Store, machine *StateMachine, gateway Gateway, clock Clock, logger *zap.Logger) *Reconciler {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		machine:  machine,
		gateway:  gateway,
		clock:    clock,
		currency: constants.DEFAULT_CURRENCY,
		logger:   logger,
	}
}

// ApplyGatewayEvent применяет событие шлюза. Повтор того же события
// (transaction_id, тип, event_id) ничего не меняет и не считается ошибкой.
func (r *Reconciler) ApplyGatewayEvent(ctx context.Context, ev GatewayEvent) (Outcome, error) {
	if ev.Type == "" || ev.TransactionID == "" {
		return "", fmt.Errorf("%w: нет типа события или ID транзакции", ErrInvalidEvent)
	}
	if !isKnownEvent(ev.Type) {
		r.logger.Info("ApplyGatewayEvent: неизвестный тип события, пропускаем",
			zap.String("event", ev.Type), zap.String("transaction_id", ev.TransactionID))
		return OutcomeIgnored, nil
	}

	orderID, err := r.resolveOrderID(ctx, ev)
	if errors.Is(err, ErrPaymentNotFound) {
		r.logger.Warn("ApplyGatewayEvent: платёж для события не найден",
			zap.String("event", ev.Type), zap.String("transaction_id", ev.TransactionID), zap.Int64("order_id", ev.OrderID))
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	var outcome Outcome
	err = r.store.WithOrderLock(ctx, orderID, func(tx Tx) error {
		var err error
		outcome, err = r.applyInTx(ctx, tx, orderID, ev)
		return err
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("Событие шлюза обработано",
		zap.String("event", ev.Type), zap.String("transaction_id", ev.TransactionID),
		zap.Int64("order_id", orderID), zap.String("outcome", string(outcome)))
	return outcome, nil
}

// resolveOrderID ищет платёж по transaction_id, затем по order_id из metadata.
func (r *Reconciler) resolveOrderID(ctx context.Context, ev GatewayEvent) (int64, error) {
	payment, err := r.store.FindPaymentByTransactionID(ctx, ev.TransactionID)
	if err == nil {
		return payment.OrderID, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) || ev.OrderID == 0 {
		return 0, err
	}
	payment, err = r.store.GetPaymentByOrderID(ctx, ev.OrderID)
	if err != nil {
		return 0, err
	}
	return payment.OrderID, nil
}

func (r *Reconciler) applyInTx(ctx context.Context, tx Tx, orderID int64, ev GatewayEvent) (Outcome, error) {
	payment, err := tx.GetPayment(ctx, orderID)
	if err != nil {
		return "", err
	}
	bound := false
	switch {
	case !payment.TransactionID.Valid || payment.TransactionID.String == "":
		payment.TransactionID = models.NewNullString(ev.TransactionID)
		bound = true
	case payment.TransactionID.String != ev.TransactionID:
		// К платежу уже привязана другая транзакция, например после перевыпуска ссылки.
		r.logger.Warn("ApplyGatewayEvent: событие по устаревшей транзакции",
			zap.Int64("order_id", orderID), zap.String("transaction_id", ev.TransactionID),
			zap.String("bound_transaction_id", payment.TransactionID.String))
		return OutcomeIgnored, nil
	}

	now := r.clock().UTC()
	// Событие сначала проверяется на копии платежа. Отклонённое событие
	// не попадает в журнал, и повторная доставка применит его.
	changed, err := applyEventToPayment(&payment, ev, now)
	if err != nil {
		return "", err
	}
	inserted, err := tx.MarkEventProcessed(ctx, models.ProcessedGatewayEvent{
		TransactionID: ev.TransactionID,
		EventType:     ev.Type,
		EventID:       ev.EventID,
		ProcessedAt:   now,
	})
	if err != nil {
		return "", err
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}
	if !changed {
		if bound {
			payment.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, payment); err != nil {
				return "", err
			}
		}
		return OutcomeUnchanged, nil
	}
	if len(ev.Payload) > 0 {
		payment.ProviderResponse = models.JSONB(ev.Payload)
	}
	payment.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return "", err
	}

	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	order.PaymentStatus = payment.Status

	if ev.Type == constants.EVENT_PAYMENT_SUCCEEDED {
		switch {
		case order.Status == constants.STATUS_NEW && r.machine != nil:
			actor := Actor{Name: "yookassa", Role: constants.ROLE_GATEWAY}
			if err := r.machine.applyTransition(ctx, tx, &order, constants.STATUS_ACCEPTED, actor, true); err != nil {
				return "", err
			}
			return OutcomeApplied, nil
		case order.Status == constants.STATUS_CANCELLED:
			r.logger.Warn("ApplyGatewayEvent: оплата пришла по отменённому заказу, требуется возврат",
				zap.Int64("order_id", orderID), zap.String("amount", payment.Amount.String()))
		}
	}

	order.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// applyEventToPayment меняет платёж по событию. changed == false - состояние не изменилось.
func applyEventToPayment(p *models.Payment, ev GatewayEvent, now time.Time) (bool, error) {
	switch ev.Type {
	case constants.EVENT_PAYMENT_SUCCEEDED:
		switch p.Status {
		case constants.PAYMENT_STATUS_PENDING, constants.PAYMENT_STATUS_PROCESSING,
			constants.PAYMENT_STATUS_FAILED, constants.PAYMENT_STATUS_CANCELLED:
			p.Status = constants.PAYMENT_STATUS_SUCCEEDED
			if !p.PaidAt.Valid {
				p.PaidAt = models.NewNullTime(now)
			}
			return true, nil
		}
		return false, nil

	case constants.EVENT_PAYMENT_WAITING_FOR_CAPTURE:
		if p.Status == constants.PAYMENT_STATUS_PENDING {
			p.Status = constants.PAYMENT_STATUS_PROCESSING
			return true, nil
		}
		return false, nil

	case constants.EVENT_PAYMENT_CANCELED:
		if p.Status == constants.PAYMENT_STATUS_PENDING || p.Status == constants.PAYMENT_STATUS_PROCESSING {
			p.Status = constants.PAYMENT_STATUS_FAILED
			return true, nil
		}
		return false, nil

	case constants.EVENT_REFUND_SUCCEEDED:
		amount := ev.RefundAmount
		if amount == nil {
			amount = ev.Amount
		}
		if amount == nil || !amount.IsPositive() {
			return false, fmt.Errorf("%w: в событии возврата нет суммы", ErrInvalidEvent)
		}
		switch {
		case p.Status == constants.PAYMENT_STATUS_REFUNDED:
			return false, nil
		case !isRefundable(p.Status):
			// Возврат обогнал payment.succeeded: шлюз повторит доставку.
			return false, fmt.Errorf("%w: возврат %s для платежа в статусе %s", ErrEventOutOfOrder, ev.EventID, p.Status)
		}
		applyRefund(p, *amount, now)
		return true, nil
	}
	return false, nil
}

// applyRefund прибавляет возврат с ограничением сверху суммой платежа и пересчитывает статус.
func applyRefund(p *models.Payment, amount decimal.Decimal, now time.Time) {
	refunded := p.RefundedAmount.Add(amount)
	if refunded.GreaterThan(p.Amount) {
		refunded = p.Amount
	}
	p.RefundedAmount = refunded
	p.RefundedAt = models.NewNullTime(now)
	p.Status = DerivePaymentStatus(p.Amount, p.RefundedAmount)
}

// DerivePaymentStatus - статус оплаченного платежа по сумме возвратов.
func DerivePaymentStatus(amount, refunded decimal.Decimal) string {
	switch {
	case !refunded.IsPositive():
		return constants.PAYMENT_STATUS_SUCCEEDED
	case amount.IsPositive() && refunded.GreaterThanOrEqual(amount):
		return constants.PAYMENT_STATUS_REFUNDED
	default:
		return constants.PAYMENT_STATUS_PARTIALLY_REFUNDED
	}
}

// RequestRefund оформляет возврат через шлюз. amount == nil - вернуть весь остаток.
func (r *Reconciler) RequestRefund(ctx context.Context, orderID int64, amount *decimal.Decimal, actor Actor) (models.Payment, error) {
	var result models.Payment
	err := r.store.WithOrderLock(ctx, orderID, func(tx Tx) error {
		payment, err := tx.GetPayment(ctx, orderID)
		if err != nil {
			return err
		}
		if !isRefundable(payment.Status) {
			return fmt.Errorf("%w: возврат невозможен в статусе %s", ErrInvalidState, payment.Status)
		}
		if !payment.TransactionID.Valid || payment.TransactionID.String == "" {
			return fmt.Errorf("%w: у платежа нет транзакции в шлюзе", ErrInvalidState)
		}

		remaining := payment.Refundable()
		refundAmount := remaining
		if amount != nil {
			refundAmount = *amount
		}
		if !refundAmount.IsPositive() {
			return fmt.Errorf("%w: сумма возврата должна быть положительной", ErrAmountExceeded)
		}
		if refundAmount.GreaterThan(remaining) {
			return fmt.Errorf("%w: запрошено %s, доступно %s", ErrAmountExceeded, refundAmount, remaining)
		}
		if r.gateway == nil {
			return fmt.Errorf("%w: шлюз не настроен", ErrGatewayUnavailable)
		}

		refund, err := r.gateway.CreateRefund(ctx, RefundRequest{
			TransactionID:  payment.TransactionID.String,
			Amount:         refundAmount,
			Currency:       r.currency,
			IdempotenceKey: utils.GenerateUUID(),
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}

		if refund.Status == constants.PAYMENT_STATUS_SUCCEEDED {
			now := r.clock().UTC()
			// Тот же ключ, что у будущего вебхука refund.succeeded, поэтому вебхук станет повтором.
			inserted, err := tx.MarkEventProcessed(ctx, models.ProcessedGatewayEvent{
				TransactionID: payment.TransactionID.String,
				EventType:     constants.EVENT_REFUND_SUCCEEDED,
				EventID:       refund.ID,
				ProcessedAt:   now,
			})
			if err != nil {
				return err
			}
			if inserted {
				applyRefund(&payment, refundAmount, now)
				if len(refund.Raw) > 0 {
					payment.ProviderResponse = models.JSONB(refund.Raw)
				}
				payment.UpdatedAt = now
				if err := tx.UpdatePayment(ctx, payment); err != nil {
					return err
				}
				if err := r.mirrorPaymentStatus(ctx, tx, orderID, payment.Status, now); err != nil {
					return err
				}
			}
		}

		r.logger.Info("Возврат оформлен",
			zap.Int64("order_id", orderID), zap.String("refund_id", refund.ID),
			zap.String("refund_status", refund.Status), zap.String("amount", refundAmount.String()),
			zap.String("actor", actor.Name))
		result = payment
		return nil
	})
	if err != nil {
		return models.Payment{}, err
	}
	return result, nil
}

// IssuePaymentLink создаёт платёж в шлюзе для неоплаченного заказа.
// Действующая ссылка ожидающего платежа переиспользуется.
func (r *Reconciler) IssuePaymentLink(ctx context.Context, orderID int64, returnURL string) (models.Payment, error) {
	var result models.Payment
	err := r.store.WithOrderLock(ctx, orderID, func(tx Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if constants.IsTerminalOrderStatus(order.Status) {
			return fmt.Errorf("%w: заказ #%d в статусе %s", ErrInvalidState, orderID, order.Status)
		}
		payment, err := tx.GetPayment(ctx, orderID)
		if err != nil {
			return err
		}
		switch payment.Status {
		case constants.PAYMENT_STATUS_PENDING:
			if payment.ConfirmationURL != "" {
				result = payment
				return nil
			}
		case constants.PAYMENT_STATUS_FAILED:
		default:
			return fmt.Errorf("%w: ссылка на оплату не нужна в статусе %s", ErrInvalidState, payment.Status)
		}
		if r.gateway == nil {
			return fmt.Errorf("%w: шлюз не настроен", ErrGatewayUnavailable)
		}

		created, err := r.gateway.CreatePayment(ctx, PaymentLinkRequest{
			OrderID:        order.ID,
			OrderCode:      order.Code,
			Amount:         payment.Amount,
			Currency:       r.currency,
			Description:    fmt.Sprintf("Оплата заказа %s", order.Code),
			ReturnURL:      returnURL,
			IdempotenceKey: utils.GenerateUUID(),
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}

		now := r.clock().UTC()
		payment.Status = constants.PAYMENT_STATUS_PENDING
		payment.TransactionID = models.NewNullString(created.ID)
		payment.ConfirmationURL = created.ConfirmationURL
		if len(created.Raw) > 0 {
			payment.ProviderResponse = models.JSONB(created.Raw)
		}
		payment.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		if err := r.mirrorPaymentStatus(ctx, tx, orderID, payment.Status, now); err != nil {
			return err
		}
		result = payment
		return nil
	})
	if err != nil {
		return models.Payment{}, err
	}
	return result, nil
}

func (r *Reconciler) mirrorPaymentStatus(ctx context.Context, tx Tx, orderID int64, status string, now time.Time) error {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus == status {
		return nil
	}
	order.PaymentStatus = status
	order.UpdatedAt = now
	return tx.UpdateOrder(ctx, order)
}

// cancelPendingPayment отменяет ещё не оплаченный платёж. false - отменять нечего.
func cancelPendingPayment(p *models.Payment, now time.Time) bool {
	if p.Status != constants.PAYMENT_STATUS_PENDING && p.Status != constants.PAYMENT_STATUS_PROCESSING {
		return false
	}
	p.Status = constants.PAYMENT_STATUS_CANCELLED
	p.UpdatedAt = now
	return true
}

func isRefundable(status string) bool {
	return status == constants.PAYMENT_STATUS_SUCCEEDED || status == constants.PAYMENT_STATUS_PARTIALLY_REFUNDED
}

func isKnownEvent(eventType string) bool {
	switch eventType {
	case constants.EVENT_PAYMENT_SUCCEEDED, constants.EVENT_PAYMENT_WAITING_FOR_CAPTURE,
		constants.EVENT_PAYMENT_CANCELED, constants.EVENT_REFUND_SUCCEEDED:
		return true
	}
	return false
}
