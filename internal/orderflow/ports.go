package orderflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"FoodOrders/internal/models"
)

// Clock возвращает текущее время. Подменяется в тестах.
type Clock func() time.Time

// Store - контракт хранилища для доменного слоя.
type Store interface {
	// WithOrderLock выполняет fn в транзакции под эксклюзивной блокировкой заказа.
	// Ошибка из fn откатывает все изменения.
	WithOrderLock(ctx context.Context, orderID int64, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, orderID int64) (models.Order, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (models.Payment, error)
	FindPaymentByTransactionID(ctx context.Context, transactionID string) (models.Payment, error)
	// ListUnpaidOrders возвращает неудалённые заказы с payment_status = pending
	// и нетерминальным статусом. Результат может устареть к моменту обработки.
	ListUnpaidOrders(ctx context.Context) ([]models.Order, error)

	// CreateOrder сохраняет новый заказ вместе с его платежом.
	// Пустой Code заполняется по ID заказа.
	CreateOrder(ctx context.Context, order models.Order, payment models.Payment) (models.Order, models.Payment, error)
	ListStatusHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error)
	// ListPaymentReport возвращает заказы с платежами, созданные в [from, to).
	ListPaymentReport(ctx context.Context, from, to time.Time) ([]PaymentReportRow, error)

	LoadOrderSetting(ctx context.Context) (models.OrderSetting, error)
	LoadDeliverySetting(ctx context.Context) (models.DeliverySetting, error)
}

// PaymentReportRow - строка сверки платежей.
type PaymentReportRow struct {
	Order   models.Order
	Payment models.Payment
}

// FormatOrderCode - человекочитаемый номер заказа.
func FormatOrderCode(orderID int64) string {
	return fmt.Sprintf("A-%06d", orderID)
}

// Tx - операции, доступные под блокировкой заказа.
type Tx interface {
	GetOrder(ctx context.Context, orderID int64) (models.Order, error)
	UpdateOrder(ctx context.Context, order models.Order) error
	GetPayment(ctx context.Context, orderID int64) (models.Payment, error)
	UpdatePayment(ctx context.Context, payment models.Payment) error
	InsertStatusHistory(ctx context.Context, rec models.OrderStatusHistory) error

	// MarkEventProcessed регистрирует событие шлюза.
	// false означает, что такое событие уже было обработано.
	MarkEventProcessed(ctx context.Context, ev models.ProcessedGatewayEvent) (bool, error)

	// FindNotification ищет последнюю запись журнала уведомлений с одним из статусов.
	// Пустой список статусов означает любой статус.
	FindNotification(ctx context.Context, orderID int64, notificationType string, statuses ...string) (models.OrderNotification, bool, error)
	InsertNotification(ctx context.Context, n models.OrderNotification) (models.OrderNotification, error)
	UpdateNotification(ctx context.Context, n models.OrderNotification) error
}

// Messenger - внешний канал сообщений (Telegram-бот).
type Messenger interface {
	Send(ctx context.Context, recipientID int64, msg models.OutboundMessage) (string, error)
	Edit(ctx context.Context, messageRef string, msg models.OutboundMessage) error
	Delete(ctx context.Context, messageRef string) error
}

// Gateway - исходящие вызовы платёжного шлюза.
type Gateway interface {
	CreatePayment(ctx context.Context, req PaymentLinkRequest) (GatewayPayment, error)
	CreateRefund(ctx context.Context, req RefundRequest) (GatewayRefund, error)
}

// PaymentLinkRequest - запрос на создание платежа в шлюзе.
type PaymentLinkRequest struct {
	OrderID        int64
	OrderCode      string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	ReturnURL      string
	IdempotenceKey string
}

// GatewayPayment - платёж, созданный в шлюзе.
type GatewayPayment struct {
	ID              string
	Status          string
	ConfirmationURL string
	Raw             []byte
}

// RefundRequest - запрос на возврат по транзакции.
type RefundRequest struct {
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	IdempotenceKey string
}

// GatewayRefund - возврат, созданный в шлюзе.
type GatewayRefund struct {
	ID     string
	Status string
	Amount decimal.Decimal
	Raw    []byte
}

// GatewayEvent - входящее событие платёжного шлюза.
// TransactionID - ID платежа в шлюзе, EventID - ID объекта события
// (для возвратов это ID возврата). OrderID берётся из metadata, 0 если нет.
type GatewayEvent struct {
	Type          string
	TransactionID string
	EventID       string
	OrderID       int64
	Amount        *decimal.Decimal
	RefundAmount  *decimal.Decimal
	Payload       []byte
}

// Actor - инициатор смены статуса.
type Actor struct {
	Name string
	Role string
}
