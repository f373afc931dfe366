package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
)

// pgTx - операции внутри транзакции с заблокированной строкой заказа.
type pgTx struct {
	tx      *sql.Tx
	orderID int64
	clock   orderflow.Clock
}

func (t *pgTx) checkOrder(orderID int64) error {
	if orderID != t.orderID {
		return fmt.Errorf("db: заказ #%d не заблокирован в этой транзакции (заблокирован #%d)", orderID, t.orderID)
	}
	return nil
}

func (t *pgTx) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: ошибка построения запроса: %w", err)
	}
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *pgTx) GetOrder(ctx context.Context, orderID int64) (models.Order, error) {
	if err := t.checkOrder(orderID); err != nil {
		return models.Order{}, err
	}
	return getOrder(ctx, t.tx, orderID)
}

func (t *pgTx) UpdateOrder(ctx context.Context, order models.Order) error {
	if err := t.checkOrder(order.ID); err != nil {
		return err
	}
	if _, err := t.exec(ctx, updateOrderQuery(order)); err != nil {
		return fmt.Errorf("db: ошибка обновления заказа #%d: %w", order.ID, err)
	}
	return nil
}

func (t *pgTx) GetPayment(ctx context.Context, orderID int64) (models.Payment, error) {
	if err := t.checkOrder(orderID); err != nil {
		return models.Payment{}, err
	}
	return getPayment(ctx, t.tx, sq.Eq{"order_id": orderID}, fmt.Sprintf("заказ #%d", orderID))
}

func (t *pgTx) UpdatePayment(ctx context.Context, payment models.Payment) error {
	if err := t.checkOrder(payment.OrderID); err != nil {
		return err
	}
	if _, err := t.exec(ctx, updatePaymentQuery(payment)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("db: транзакция %s уже привязана к другому заказу: %w", payment.TransactionID.String, err)
		}
		return fmt.Errorf("db: ошибка обновления платежа заказа #%d: %w", payment.OrderID, err)
	}
	return nil
}

func (t *pgTx) InsertStatusHistory(ctx context.Context, rec models.OrderStatusHistory) error {
	if err := t.checkOrder(rec.OrderID); err != nil {
		return err
	}
	if _, err := t.exec(ctx, insertHistoryQuery(rec)); err != nil {
		return fmt.Errorf("db: ошибка записи истории заказа #%d: %w", rec.OrderID, err)
	}
	return nil
}

func (t *pgTx) MarkEventProcessed(ctx context.Context, ev models.ProcessedGatewayEvent) (bool, error) {
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = t.clock().UTC()
	}
	res, err := t.exec(ctx, insertEventQuery(ev))
	if err != nil {
		return false, fmt.Errorf("db: ошибка записи события %s/%s: %w", ev.TransactionID, ev.EventType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *pgTx) FindNotification(ctx context.Context, orderID int64, notificationType string, statuses ...string) (models.OrderNotification, bool, error) {
	if err := t.checkOrder(orderID); err != nil {
		return models.OrderNotification{}, false, err
	}
	query, args, err := findNotificationQuery(orderID, notificationType, statuses).ToSql()
	if err != nil {
		return models.OrderNotification{}, false, fmt.Errorf("db: ошибка построения запроса уведомления: %w", err)
	}
	var n models.OrderNotification
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(notificationFields(&n)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.OrderNotification{}, false, nil
		}
		return models.OrderNotification{}, false, fmt.Errorf("db: ошибка поиска уведомления: %w", err)
	}
	return n, true, nil
}

// InsertNotification сначала проверяет активную запись: нарушение уникального индекса
// прерывает всю транзакцию, а проверка под блокировкой заказа его не допускает.
func (t *pgTx) InsertNotification(ctx context.Context, n models.OrderNotification) (models.OrderNotification, error) {
	if err := t.checkOrder(n.OrderID); err != nil {
		return models.OrderNotification{}, err
	}
	if n.Status == constants.NOTIFICATION_STATUS_ACTIVE {
		_, found, err := t.FindNotification(ctx, n.OrderID, n.NotificationType, constants.NOTIFICATION_STATUS_ACTIVE)
		if err != nil {
			return models.OrderNotification{}, err
		}
		if found {
			return models.OrderNotification{}, fmt.Errorf("%w: заказ #%d, тип %s", orderflow.ErrDuplicateActive, n.OrderID, n.NotificationType)
		}
	}

	query, args, err := insertNotificationQuery(n).ToSql()
	if err != nil {
		return models.OrderNotification{}, fmt.Errorf("db: ошибка построения запроса уведомления: %w", err)
	}
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&n.ID); err != nil {
		if isUniqueViolation(err) {
			return models.OrderNotification{}, fmt.Errorf("%w: заказ #%d, тип %s", orderflow.ErrDuplicateActive, n.OrderID, n.NotificationType)
		}
		return models.OrderNotification{}, fmt.Errorf("db: ошибка записи уведомления: %w", err)
	}
	return n, nil
}

func (t *pgTx) UpdateNotification(ctx context.Context, n models.OrderNotification) error {
	if err := t.checkOrder(n.OrderID); err != nil {
		return err
	}
	if n.ID == 0 {
		return fmt.Errorf("db: у уведомления нет ID")
	}
	res, err := t.exec(ctx, updateNotificationQuery(n))
	if err != nil {
		return fmt.Errorf("db: ошибка обновления уведомления #%d: %w", n.ID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("db: уведомление #%d заказа #%d не найдено", n.ID, n.OrderID)
	}
	return nil
}
