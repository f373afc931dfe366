package constants

import "time"

// Статусы заказа
// Order statuses
const (
	STATUS_NEW                = "new"                // Заказ оформлен, ожидает принятия/оплаты
	STATUS_ACCEPTED           = "accepted"           // Заказ принят (оплачен или принят администратором)
	STATUS_PREPARING          = "preparing"          // Кухня готовит заказ
	STATUS_READY_FOR_DELIVERY = "ready_for_delivery" // Заказ собран и ждёт курьера
	STATUS_IN_TRANSIT         = "in_transit"         // Курьер в пути
	STATUS_DELIVERED          = "delivered"          // Заказ доставлен (терминальный)
	STATUS_CANCELLED          = "cancelled"          // Заказ отменён (терминальный)
)

// OrderStatuses перечисляет статусы в порядке основного сценария.
var OrderStatuses = []string{
	STATUS_NEW,
	STATUS_ACCEPTED,
	STATUS_PREPARING,
	STATUS_READY_FOR_DELIVERY,
	STATUS_IN_TRANSIT,
	STATUS_DELIVERED,
	STATUS_CANCELLED,
}

// IsTerminalOrderStatus сообщает, запрещены ли дальнейшие изменения статуса.
func IsTerminalOrderStatus(status string) bool {
	return status == STATUS_DELIVERED || status == STATUS_CANCELLED
}

// IsKnownOrderStatus проверяет, что статус входит в перечень.
func IsKnownOrderStatus(status string) bool {
	for _, s := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Статусы платежа
// Payment statuses
const (
	PAYMENT_STATUS_PENDING            = "pending"
	PAYMENT_STATUS_PROCESSING         = "processing"
	PAYMENT_STATUS_SUCCEEDED          = "succeeded"
	PAYMENT_STATUS_FAILED             = "failed"
	PAYMENT_STATUS_REFUNDED           = "refunded"
	PAYMENT_STATUS_PARTIALLY_REFUNDED = "partially_refunded"
	PAYMENT_STATUS_CANCELLED          = "cancelled"
)

// События платёжного шлюза (ЮKassa)
// Payment gateway events
const (
	EVENT_PAYMENT_SUCCEEDED           = "payment.succeeded"
	EVENT_PAYMENT_WAITING_FOR_CAPTURE = "payment.waiting_for_capture"
	EVENT_PAYMENT_CANCELED            = "payment.canceled"
	EVENT_REFUND_SUCCEEDED            = "refund.succeeded"
)

// Типы уведомлений
// Notification types
const (
	NOTIFICATION_REMINDER_10MIN = "reminder_10min"
	NOTIFICATION_REMINDER_5MIN  = "reminder_5min_before_ttl"
	NOTIFICATION_AUTO_CANCEL    = "auto_cancel"
	NOTIFICATION_ADMIN_NEW      = "admin_new"
	NOTIFICATION_STATUS_CHANGE  = "status_change"
	NOTIFICATION_KITCHEN        = "kitchen"
	NOTIFICATION_COURIER        = "courier"
)

// Состояния записи журнала уведомлений
const (
	NOTIFICATION_STATUS_ACTIVE  = "active"
	NOTIFICATION_STATUS_UPDATED = "updated"
	NOTIFICATION_STATUS_DELETED = "deleted"
)

// Роли инициаторов смены статуса
// Actor roles recorded in status history
const (
	ROLE_ADMIN     = "admin"
	ROLE_SYSTEM    = "system"
	ROLE_GATEWAY   = "gateway"
	ROLE_SCHEDULER = "scheduler"
	ROLE_STAFF     = "staff" // кухня и курьеры из служебных чатов
)

// Способы получения заказа
const (
	DELIVERY_METHOD_COURIER = "courier"
	DELIVERY_METHOD_PICKUP  = "pickup"
)

// Значения по умолчанию для настроек
const (
	DEFAULT_PAYMENT_TTL_MINUTES   = 180
	REMINDER_FIRST_AFTER          = 10 * time.Minute
	REMINDER_BEFORE_TTL           = 5 * time.Minute
	DEFAULT_SCHEDULER_INTERVAL    = time.Minute
	DEFAULT_GEOCODER_TIMEOUT      = 5 * time.Second
	DEFAULT_TELEGRAM_TIMEOUT      = 10 * time.Second
	DEFAULT_SCHEDULER_CONCURRENCY = 8
	DEFAULT_CURRENCY              = "RUB"

	DEFAULT_TEMPLATE_10MIN = "⏰ Заказ {order_code} на сумму {amount} ₽ ещё не оплачен. Пожалуйста, завершите оплату."
	DEFAULT_TEMPLATE_5MIN  = "⚠️ До автоматической отмены заказа {order_code} осталось {minutes_left} мин. Сумма к оплате: {amount} ₽."
	DEFAULT_TEMPLATE_AUTO  = "❌ Заказ {order_code} отменён: оплата не поступила в течение {ttl_minutes} мин."
)

// StatusDisplayMap - отображаемые названия статусов заказа.
var StatusDisplayMap = map[string]string{
	STATUS_NEW:                "Новый",
	STATUS_ACCEPTED:           "Принят",
	STATUS_PREPARING:          "Готовится",
	STATUS_READY_FOR_DELIVERY: "Готов к выдаче",
	STATUS_IN_TRANSIT:         "В пути",
	STATUS_DELIVERED:          "Доставлен",
	STATUS_CANCELLED:          "Отменён",
}

// StatusEmojiMap - эмодзи для статусов заказа.
var StatusEmojiMap = map[string]string{
	STATUS_NEW:                "🆕",
	STATUS_ACCEPTED:           "✅",
	STATUS_PREPARING:          "👨‍🍳",
	STATUS_READY_FOR_DELIVERY: "📦",
	STATUS_IN_TRANSIT:         "🚚",
	STATUS_DELIVERED:          "🏁",
	STATUS_CANCELLED:          "❌",
}

// PaymentStatusDisplayMap - отображаемые названия статусов платежа.
var PaymentStatusDisplayMap = map[string]string{
	PAYMENT_STATUS_PENDING:            "Ожидает оплаты",
	PAYMENT_STATUS_PROCESSING:         "В обработке",
	PAYMENT_STATUS_SUCCEEDED:          "Оплачен",
	PAYMENT_STATUS_FAILED:             "Ошибка оплаты",
	PAYMENT_STATUS_REFUNDED:           "Возвращён",
	PAYMENT_STATUS_PARTIALLY_REFUNDED: "Частично возвращён",
	PAYMENT_STATUS_CANCELLED:          "Отменён",
}
