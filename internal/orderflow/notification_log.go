package orderflow

import (
	"context"
	"fmt"
	"time"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
)

// NotificationLog ведёт журнал внешних сообщений по заказам:
// не больше одной активной записи на пару (заказ, тип уведомления).
// Все методы вызываются под блокировкой заказа.
type NotificationLog struct {
	clock Clock
}

// NewNotificationLog создаёт журнал уведомлений.
func NewNotificationLog(clock Clock) *NotificationLog {
	if clock == nil {
		clock = time.Now
	}
	return &NotificationLog{clock: clock}
}

// RecordSent фиксирует отправленное сообщение. ttl == 0 означает бессрочную запись.
// Если активная запись уже есть, возвращает ErrDuplicateActive: сначала её нужно снять через Retire.
func (l *NotificationLog) RecordSent(ctx context.Context, tx Tx, orderID int64, notificationType string, recipientID int64, messageRef string, ttl time.Duration) (models.OrderNotification, error) {
	_, found, err := tx.FindNotification(ctx, orderID, notificationType, constants.NOTIFICATION_STATUS_ACTIVE)
	if err != nil {
		return models.OrderNotification{}, err
	}
	if found {
		return models.OrderNotification{}, fmt.Errorf("%w: заказ #%d, тип %s", ErrDuplicateActive, orderID, notificationType)
	}

	now := l.clock().UTC()
	n := models.OrderNotification{
		OrderID:          orderID,
		RecipientID:      recipientID,
		MessageRef:       messageRef,
		NotificationType: notificationType,
		Status:           constants.NOTIFICATION_STATUS_ACTIVE,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if ttl > 0 {
		n.ExpiresAt = models.NewNullTime(now.Add(ttl))
	}
	return tx.InsertNotification(ctx, n)
}

// Retire помечает текущую активную/обновлённую запись удалённой.
// Возвращает снятую запись; found == false, если снимать было нечего.
func (l *NotificationLog) Retire(ctx context.Context, tx Tx, orderID int64, notificationType string) (models.OrderNotification, bool, error) {
	n, found, err := tx.FindNotification(ctx, orderID, notificationType,
		constants.NOTIFICATION_STATUS_ACTIVE, constants.NOTIFICATION_STATUS_UPDATED)
	if err != nil || !found {
		return models.OrderNotification{}, false, err
	}
	n.Status = constants.NOTIFICATION_STATUS_DELETED
	n.UpdatedAt = l.clock().UTC()
	if err := tx.UpdateNotification(ctx, n); err != nil {
		return models.OrderNotification{}, false, err
	}
	return n, true, nil
}

// MarkEdited переводит активную запись в статус updated без создания новой строки.
func (l *NotificationLog) MarkEdited(ctx context.Context, tx Tx, orderID int64, notificationType string) (models.OrderNotification, bool, error) {
	n, found, err := tx.FindNotification(ctx, orderID, notificationType,
		constants.NOTIFICATION_STATUS_ACTIVE, constants.NOTIFICATION_STATUS_UPDATED)
	if err != nil || !found {
		return models.OrderNotification{}, false, err
	}
	if n.Status == constants.NOTIFICATION_STATUS_ACTIVE {
		n.Status = constants.NOTIFICATION_STATUS_UPDATED
	}
	n.UpdatedAt = l.clock().UTC()
	if err := tx.UpdateNotification(ctx, n); err != nil {
		return models.OrderNotification{}, false, err
	}
	return n, true, nil
}

// Current возвращает неснятую (active/updated) запись.
func (l *NotificationLog) Current(ctx context.Context, tx Tx, orderID int64, notificationType string) (models.OrderNotification, bool, error) {
	return tx.FindNotification(ctx, orderID, notificationType,
		constants.NOTIFICATION_STATUS_ACTIVE, constants.NOTIFICATION_STATUS_UPDATED)
}

// Exists сообщает, отправлялось ли уведомление этого типа когда-либо.
func (l *NotificationLog) Exists(ctx context.Context, tx Tx, orderID int64, notificationType string) (bool, error) {
	_, found, err := tx.FindNotification(ctx, orderID, notificationType)
	return found, err
}
