package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
)

// uniqueViolation - SQLSTATE нарушения уникального ограничения.
const uniqueViolation = "23505"

// Store реализует orderflow.Store поверх PostgreSQL.
// Блокировка заказа - SELECT ... FOR UPDATE на строке orders внутри транзакции.
type Store struct {
	db     *sql.DB
	clock  orderflow.Clock
	logger *zap.Logger
}

var _ orderflow.Store = (*Store)(nil)

// NewStore создаёт хранилище поверх открытого пула.
func NewStore(conn *sql.DB, clock orderflow.Clock, logger *zap.Logger) *Store {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: conn, clock: clock, logger: logger}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func orderFields(o *models.Order) []interface{} {
	return []interface{}{
		&o.ID, &o.Code, &o.CustomerChatID, &o.Status, &o.PaymentStatus,
		&o.TotalAmount, &o.DeliveryCost, &o.DeliveryMethod, &o.DeliveryAddress,
		&o.DeliveryDistanceKm, &o.DeliveryZoneLabel, &o.IsDeleted, &o.CreatedAt, &o.UpdatedAt,
	}
}

func paymentFields(p *models.Payment) []interface{} {
	return []interface{}{
		&p.ID, &p.OrderID, &p.Status, &p.Amount, &p.RefundedAmount, &p.TransactionID,
		&p.ConfirmationURL, &p.ProviderResponse, &p.PaidAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	}
}

func notificationFields(n *models.OrderNotification) []interface{} {
	return []interface{}{
		&n.ID, &n.OrderID, &n.RecipientID, &n.MessageRef, &n.NotificationType,
		&n.Status, &n.ExpiresAt, &n.CreatedAt, &n.UpdatedAt,
	}
}

func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	err := row.Scan(orderFields(&o)...)
	return o, err
}

func scanPayment(row rowScanner) (models.Payment, error) {
	var p models.Payment
	err := row.Scan(paymentFields(&p)...)
	return p, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// WithOrderLock открывает транзакцию, блокирует строку заказа и выполняет fn.
func (s *Store) WithOrderLock(ctx context.Context, orderID int64, fn func(tx orderflow.Tx) error) (err error) {
	query, args, err := lockOrderQuery(orderID).ToSql()
	if err != nil {
		return fmt.Errorf("db: ошибка построения запроса блокировки: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: ошибка начала транзакции: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("db: ошибка отката транзакции", zap.Int64("order_id", orderID), zap.Error(rbErr))
			}
		}
	}()

	if _, err = scanOrder(tx.QueryRowContext(ctx, query, args...)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: #%d", orderflow.ErrOrderNotFound, orderID)
		}
		return fmt.Errorf("db: ошибка блокировки заказа #%d: %w", orderID, err)
	}

	if err = fn(&pgTx{tx: tx, orderID: orderID, clock: s.clock}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("db: ошибка фиксации транзакции заказа #%d: %w", orderID, err)
	}
	return nil
}

// GetOrder возвращает заказ без блокировки.
func (s *Store) GetOrder(ctx context.Context, orderID int64) (models.Order, error) {
	return getOrder(ctx, s.db, orderID)
}

// GetPaymentByOrderID возвращает платёж заказа.
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (models.Payment, error) {
	return getPayment(ctx, s.db, sq.Eq{"order_id": orderID}, fmt.Sprintf("заказ #%d", orderID))
}

// FindPaymentByTransactionID ищет платёж по ID транзакции в шлюзе.
func (s *Store) FindPaymentByTransactionID(ctx context.Context, transactionID string) (models.Payment, error) {
	return getPayment(ctx, s.db, sq.Eq{"transaction_id": transactionID}, "транзакция "+transactionID)
}

// ListUnpaidOrders возвращает кандидатов для планировщика по возрастанию ID.
func (s *Store) ListUnpaidOrders(ctx context.Context) ([]models.Order, error) {
	query, args, err := unpaidOrdersQuery().ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: ошибка построения запроса неоплаченных заказов: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: ошибка выборки неоплаченных заказов: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("db: ошибка чтения заказа: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOrder сохраняет заказ и его платёж в одной транзакции.
func (s *Store) CreateOrder(ctx context.Context, order models.Order, payment models.Payment) (_ models.Order, _ models.Payment, err error) {
	now := s.clock().UTC()
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
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = order.CreatedAt
	}
	payment.UpdatedAt = payment.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Order{}, models.Payment{}, fmt.Errorf("db: ошибка начала транзакции: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	query, args, err := insertOrderQuery(order).ToSql()
	if err != nil {
		return models.Order{}, models.Payment{}, fmt.Errorf("db: ошибка построения запроса заказа: %w", err)
	}
	if err = tx.QueryRowContext(ctx, query, args...).Scan(&order.ID); err != nil {
		return models.Order{}, models.Payment{}, fmt.Errorf("db: ошибка создания заказа: %w", err)
	}

	if order.Code == "" {
		order.Code = orderflow.FormatOrderCode(order.ID)
		query, args, err = psql.Update("orders").Set("code", order.Code).Where(sq.Eq{"id": order.ID}).ToSql()
		if err != nil {
			return models.Order{}, models.Payment{}, fmt.Errorf("db: ошибка построения запроса кода заказа: %w", err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return models.Order{}, models.Payment{}, fmt.Errorf("db: ошибка сохранения кода заказа #%d: %w", order.ID, err)
		}
	}

	payment.OrderID = order.ID
	query, args, err = insertPaymentQuery(payment).ToSql()
	if err != nil {
		return models.Order{}, models.Payment{}, fmt.Errorf("db: ошибка построения запроса платежа: %w", err)
	}
	if err = tx.QueryRowContext(ctx, query, args...).Scan(&payment.ID); err != nil {
		if isUniqueViolation(err) {
			return models.Order{}, models.Payment{}, fmt.Errorf("db: транзакция %s уже привязана: %w", payment.TransactionID.String, err)
		}
		return models.Order{}, models.Payment{}, fmt.Errorf("db: ошибка создания платежа: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return models.Order{}, models.Payment{}, fmt.Errorf("db: ошибка фиксации заказа: %w", err)
	}
	s.logger.Info("Заказ создан", zap.Int64("order_id", order.ID), zap.String("code", order.Code))
	return order, payment, nil
}

// ListStatusHistory возвращает историю статусов заказа в порядке записи.
func (s *Store) ListStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	query, args, err := selectHistoryQuery(orderID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: ошибка построения запроса истории: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: ошибка выборки истории заказа #%d: %w", orderID, err)
	}
	defer rows.Close()

	var out []models.OrderStatusHistory
	for rows.Next() {
		var h models.OrderStatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Previous, &h.New, &h.Actor, &h.Role, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("db: ошибка чтения истории: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListPaymentReport возвращает заказы за период с их платежами.
func (s *Store) ListPaymentReport(ctx context.Context, from, to time.Time) ([]orderflow.PaymentReportRow, error) {
	query, args, err := paymentReportQuery(from, to).ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: ошибка построения запроса отчёта: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: ошибка выборки отчёта по платежам: %w", err)
	}
	defer rows.Close()

	var out []orderflow.PaymentReportRow
	for rows.Next() {
		var r orderflow.PaymentReportRow
		if err := rows.Scan(append(orderFields(&r.Order), paymentFields(&r.Payment)...)...); err != nil {
			return nil, fmt.Errorf("db: ошибка чтения строки отчёта: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadOrderSetting читает настройки, создавая строку по умолчанию при первом обращении.
func (s *Store) LoadOrderSetting(ctx context.Context) (models.OrderSetting, error) {
	if err := s.execBuilt(ctx, insertDefaultOrderSettingQuery(models.DefaultOrderSetting())); err != nil {
		return models.OrderSetting{}, fmt.Errorf("db: ошибка создания настроек заказов: %w", err)
	}
	query, args, err := selectOrderSettingQuery().ToSql()
	if err != nil {
		return models.OrderSetting{}, err
	}
	var st models.OrderSetting
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&st.PaymentTTLMinutes, &st.Reminder10MinEnabled, &st.Reminder5MinEnabled, &st.AutoCancelEnabled,
		&st.Notification10MinTemplate, &st.Notification5MinTemplate, &st.AutoCancelTemplate,
	)
	if err != nil {
		return models.OrderSetting{}, fmt.Errorf("db: ошибка чтения настроек заказов: %w", err)
	}
	return st, nil
}

// LoadDeliverySetting читает настройки доставки, создавая строку по умолчанию при первом обращении.
func (s *Store) LoadDeliverySetting(ctx context.Context) (models.DeliverySetting, error) {
	if err := s.execBuilt(ctx, insertDefaultDeliverySettingQuery(models.DefaultDeliverySetting())); err != nil {
		return models.DeliverySetting{}, fmt.Errorf("db: ошибка создания настроек доставки: %w", err)
	}
	query, args, err := selectDeliverySettingQuery().ToSql()
	if err != nil {
		return models.DeliverySetting{}, err
	}
	var st models.DeliverySetting
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&st.OriginLat, &st.OriginLon, &st.Zones, &st.FreeDeliveryThreshold,
		&st.MinDeliveryOrderTotalRub, &st.IsEnabled,
	)
	if err != nil {
		return models.DeliverySetting{}, fmt.Errorf("db: ошибка чтения настроек доставки: %w", err)
	}
	return st, nil
}

func (s *Store) execBuilt(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// queryer - общее для *sql.DB и *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getOrder(ctx context.Context, q queryer, orderID int64) (models.Order, error) {
	query, args, err := selectOrderQuery(orderID).ToSql()
	if err != nil {
		return models.Order{}, fmt.Errorf("db: ошибка построения запроса заказа: %w", err)
	}
	o, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Order{}, fmt.Errorf("%w: #%d", orderflow.ErrOrderNotFound, orderID)
		}
		return models.Order{}, fmt.Errorf("db: ошибка получения заказа #%d: %w", orderID, err)
	}
	return o, nil
}

func getPayment(ctx context.Context, q queryer, where sq.Eq, what string) (models.Payment, error) {
	query, args, err := selectPaymentQuery().Where(where).ToSql()
	if err != nil {
		return models.Payment{}, fmt.Errorf("db: ошибка построения запроса платежа: %w", err)
	}
	p, err := scanPayment(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Payment{}, fmt.Errorf("%w: %s", orderflow.ErrPaymentNotFound, what)
		}
		return models.Payment{}, fmt.Errorf("db: ошибка получения платежа (%s): %w", what, err)
	}
	return p, nil
}
