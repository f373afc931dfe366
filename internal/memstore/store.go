// Package memstore - хранилище заказов в памяти процесса.
// Используется в тестах и при STORAGE=memory для локального запуска.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
)

type eventKey struct {
	transactionID string
	eventType     string
	eventID       string
}

// Store реализует orderflow.Store.
type Store struct {
	mu            sync.RWMutex // защищает все карты ниже
	orders        map[int64]models.Order
	payments      map[int64]models.Payment // ключ: ID заказа
	history       []models.OrderStatusHistory
	events        map[eventKey]models.ProcessedGatewayEvent
	notifications map[int64]models.OrderNotification
	orderSetting  *models.OrderSetting
	delivery      *models.DeliverySetting
	lastID        int64

	// Карта мьютексов, по одному на заказ.
	orderLocks    map[int64]*sync.Mutex
	orderLocksMap sync.Mutex

	clock orderflow.Clock
}

// New создаёт пустое хранилище.
func New(clock orderflow.Clock) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		orders:        make(map[int64]models.Order),
		payments:      make(map[int64]models.Payment),
		events:        make(map[eventKey]models.ProcessedGatewayEvent),
		notifications: make(map[int64]models.OrderNotification),
		orderLocks:    make(map[int64]*sync.Mutex),
		clock:         clock,
	}
}

var _ orderflow.Store = (*Store)(nil)

// getOrderLock получает или создаёт мьютекс заказа.
func (s *Store) getOrderLock(orderID int64) *sync.Mutex {
	s.orderLocksMap.Lock()
	defer s.orderLocksMap.Unlock()
	l, ok := s.orderLocks[orderID]
	if !ok {
		l = &sync.Mutex{}
		s.orderLocks[orderID] = l
	}
	return l
}

func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

// WithOrderLock выполняет fn под мьютексом заказа. Изменения копятся в tx
// и применяются только при успешном завершении fn.
func (s *Store) WithOrderLock(ctx context.Context, orderID int64, fn func(tx orderflow.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.getOrderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: #%d", orderflow.ErrOrderNotFound, orderID)
	}

	tx := newTx(s, orderID)
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.order != nil {
		s.orders[tx.orderID] = *tx.order
	}
	if tx.payment != nil {
		s.payments[tx.orderID] = *tx.payment
	}
	s.history = append(s.history, tx.history...)
	for k, ev := range tx.events {
		if _, exists := s.events[k]; !exists {
			s.events[k] = ev
		}
	}
	for id, n := range tx.notifications {
		s.notifications[id] = n
	}
}

// GetOrder возвращает заказ.
func (s *Store) GetOrder(_ context.Context, orderID int64) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return models.Order{}, fmt.Errorf("%w: #%d", orderflow.ErrOrderNotFound, orderID)
	}
	return o, nil
}

// GetPaymentByOrderID возвращает платёж заказа.
func (s *Store) GetPaymentByOrderID(_ context.Context, orderID int64) (models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[orderID]
	if !ok {
		return models.Payment{}, fmt.Errorf("%w: заказ #%d", orderflow.ErrPaymentNotFound, orderID)
	}
	return p, nil
}

// FindPaymentByTransactionID ищет платёж по ID транзакции в шлюзе.
func (s *Store) FindPaymentByTransactionID(_ context.Context, transactionID string) (models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.TransactionID.Valid && p.TransactionID.String == transactionID {
			return p, nil
		}
	}
	return models.Payment{}, fmt.Errorf("%w: транзакция %s", orderflow.ErrPaymentNotFound, transactionID)
}

// ListUnpaidOrders возвращает кандидатов для планировщика по возрастанию ID.
func (s *Store) ListUnpaidOrders(_ context.Context) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.IsDeleted || constants.IsTerminalOrderStatus(o.Status) || o.PaymentStatus != constants.PAYMENT_STATUS_PENDING {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateOrder сохраняет заказ и его платёж.
func (s *Store) CreateOrder(_ context.Context, order models.Order, payment models.Payment) (models.Order, models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.TransactionID.Valid {
		for _, p := range s.payments {
			if p.TransactionID.Valid && p.TransactionID.String == payment.TransactionID.String {
				return models.Order{}, models.Payment{}, fmt.Errorf("memstore: транзакция %s уже привязана", payment.TransactionID.String)
			}
		}
	}

	now := s.clock().UTC()
	order.ID = s.nextID()
	if order.Code == "" {
		order.Code = orderflow.FormatOrderCode(order.ID)
	}
	if order.Status == "" {
		order.Status = constants.STATUS_NEW
	}
	if payment.Status == "" {
		payment.Status = constants.PAYMENT_STATUS_PENDING
	}
	order.PaymentStatus = payment.Status
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	payment.ID = s.nextID()
	payment.OrderID = order.ID
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = order.CreatedAt
	}
	payment.UpdatedAt = payment.CreatedAt

	s.orders[order.ID] = order
	s.payments[order.ID] = payment
	return order, payment, nil
}

// ListStatusHistory возвращает историю статусов заказа в порядке записи.
func (s *Store) ListStatusHistory(_ context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.OrderStatusHistory
	for _, h := range s.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

// ListPaymentReport возвращает заказы за период с их платежами.
func (s *Store) ListPaymentReport(_ context.Context, from, to time.Time) ([]orderflow.PaymentReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orderflow.PaymentReportRow
	for id, o := range s.orders {
		if o.IsDeleted || o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		out = append(out, orderflow.PaymentReportRow{Order: o, Payment: s.payments[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order.ID < out[j].Order.ID })
	return out, nil
}

// LoadOrderSetting возвращает настройки, создавая их со значениями по умолчанию.
func (s *Store) LoadOrderSetting(_ context.Context) (models.OrderSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orderSetting == nil {
		def := models.DefaultOrderSetting()
		s.orderSetting = &def
	}
	return *s.orderSetting, nil
}

// LoadDeliverySetting возвращает настройки доставки, создавая их со значениями по умолчанию.
func (s *Store) LoadDeliverySetting(_ context.Context) (models.DeliverySetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivery == nil {
		def := models.DefaultDeliverySetting()
		s.delivery = &def
	}
	out := *s.delivery
	out.Zones = append(models.DeliveryZones(nil), s.delivery.Zones...)
	return out, nil
}

// SetOrderSetting заменяет настройки заказов.
func (s *Store) SetOrderSetting(setting models.OrderSetting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderSetting = &setting
}

// SetDeliverySetting заменяет настройки доставки.
func (s *Store) SetDeliverySetting(setting models.DeliverySetting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivery = &setting
}

// Notifications возвращает все записи журнала уведомлений заказа по возрастанию ID.
func (s *Store) Notifications(orderID int64) []models.OrderNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.OrderNotification
	for _, n := range s.notifications {
		if n.OrderID == orderID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProcessedEvents возвращает число записей журнала событий шлюза.
func (s *Store) ProcessedEvents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
