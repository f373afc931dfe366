package memstore

import (
	"context"
	"fmt"
	"time"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
)

// memTx копит изменения одного заказа до фиксации.
type memTx struct {
	store   *Store
	orderID int64

	order         *models.Order
	payment       *models.Payment
	history       []models.OrderStatusHistory
	events        map[eventKey]models.ProcessedGatewayEvent
	notifications map[int64]models.OrderNotification
}

func newTx(s *Store, orderID int64) *memTx {
	return &memTx{
		store:         s,
		orderID:       orderID,
		events:        make(map[eventKey]models.ProcessedGatewayEvent),
		notifications: make(map[int64]models.OrderNotification),
	}
}

func (t *memTx) checkOrder(orderID int64) error {
	if orderID != t.orderID {
		return fmt.Errorf("memstore: заказ #%d не заблокирован в этой транзакции (заблокирован #%d)", orderID, t.orderID)
	}
	return nil
}

func (t *memTx) GetOrder(ctx context.Context, orderID int64) (models.Order, error) {
	if err := t.checkOrder(orderID); err != nil {
		return models.Order{}, err
	}
	if t.order != nil {
		return *t.order, nil
	}
	return t.store.GetOrder(ctx, orderID)
}

func (t *memTx) UpdateOrder(_ context.Context, order models.Order) error {
	if err := t.checkOrder(order.ID); err != nil {
		return err
	}
	t.order = &order
	return nil
}

func (t *memTx) GetPayment(ctx context.Context, orderID int64) (models.Payment, error) {
	if err := t.checkOrder(orderID); err != nil {
		return models.Payment{}, err
	}
	if t.payment != nil {
		return *t.payment, nil
	}
	return t.store.GetPaymentByOrderID(ctx, orderID)
}

func (t *memTx) UpdatePayment(_ context.Context, payment models.Payment) error {
	if err := t.checkOrder(payment.OrderID); err != nil {
		return err
	}
	if payment.TransactionID.Valid {
		t.store.mu.RLock()
		for orderID, p := range t.store.payments {
			if orderID != payment.OrderID && p.TransactionID.Valid && p.TransactionID.String == payment.TransactionID.String {
				t.store.mu.RUnlock()
				return fmt.Errorf("memstore: транзакция %s уже привязана к заказу #%d", payment.TransactionID.String, orderID)
			}
		}
		t.store.mu.RUnlock()
	}
	t.payment = &payment
	return nil
}

func (t *memTx) InsertStatusHistory(_ context.Context, rec models.OrderStatusHistory) error {
	if err := t.checkOrder(rec.OrderID); err != nil {
		return err
	}
	t.history = append(t.history, rec)
	return nil
}

func (t *memTx) MarkEventProcessed(_ context.Context, ev models.ProcessedGatewayEvent) (bool, error) {
	key := eventKey{transactionID: ev.TransactionID, eventType: ev.EventType, eventID: ev.EventID}
	if _, ok := t.events[key]; ok {
		return false, nil
	}
	t.store.mu.RLock()
	_, ok := t.store.events[key]
	t.store.mu.RUnlock()
	if ok {
		return false, nil
	}
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = time.Now().UTC()
	}
	t.events[key] = ev
	return true, nil
}

// FindNotification возвращает последнюю (по ID) подходящую запись с учётом незафиксированных изменений.
func (t *memTx) FindNotification(_ context.Context, orderID int64, notificationType string, statuses ...string) (models.OrderNotification, bool, error) {
	if err := t.checkOrder(orderID); err != nil {
		return models.OrderNotification{}, false, err
	}
	merged := make(map[int64]models.OrderNotification)
	t.store.mu.RLock()
	for id, n := range t.store.notifications {
		if n.OrderID == orderID && n.NotificationType == notificationType {
			merged[id] = n
		}
	}
	t.store.mu.RUnlock()
	for id, n := range t.notifications {
		if n.NotificationType == notificationType {
			merged[id] = n
		}
	}

	var best models.OrderNotification
	found := false
	for _, n := range merged {
		if !statusIn(n.Status, statuses) {
			continue
		}
		if !found || n.ID > best.ID {
			best, found = n, true
		}
	}
	return best, found, nil
}

func (t *memTx) InsertNotification(ctx context.Context, n models.OrderNotification) (models.OrderNotification, error) {
	if err := t.checkOrder(n.OrderID); err != nil {
		return models.OrderNotification{}, err
	}
	if n.Status == constants.NOTIFICATION_STATUS_ACTIVE {
		if _, found, _ := t.FindNotification(ctx, n.OrderID, n.NotificationType, constants.NOTIFICATION_STATUS_ACTIVE); found {
			return models.OrderNotification{}, fmt.Errorf("%w: заказ #%d, тип %s", orderflow.ErrDuplicateActive, n.OrderID, n.NotificationType)
		}
	}
	t.store.mu.Lock()
	n.ID = t.store.nextID()
	t.store.mu.Unlock()
	t.notifications[n.ID] = n
	return n, nil
}

func (t *memTx) UpdateNotification(_ context.Context, n models.OrderNotification) error {
	if err := t.checkOrder(n.OrderID); err != nil {
		return err
	}
	if n.ID == 0 {
		return fmt.Errorf("memstore: у уведомления нет ID")
	}
	t.notifications[n.ID] = n
	return nil
}

func statusIn(status string, statuses []string) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
