package orderflow

import "errors"

var (
	// ErrInvalidTransition - недопустимая смена статуса заказа.
	ErrInvalidTransition = errors.New("orderflow: invalid order status transition")
	// ErrInvalidState - операция над платежом невозможна в его текущем статусе.
	ErrInvalidState = errors.New("orderflow: invalid payment state")
	// ErrAmountExceeded - сумма возврата больше остатка по платежу.
	ErrAmountExceeded = errors.New("orderflow: refund amount exceeds remaining balance")
	// ErrAuthenticationFailed - подпись вебхука не прошла проверку.
	ErrAuthenticationFailed = errors.New("orderflow: webhook authentication failed")
	// ErrDuplicateActive - для заказа уже есть активное уведомление этого типа.
	ErrDuplicateActive = errors.New("orderflow: active notification already exists")
	// ErrOrderNotFound - заказ не найден.
	ErrOrderNotFound = errors.New("orderflow: order not found")
	// ErrPaymentNotFound - платёж не найден.
	ErrPaymentNotFound = errors.New("orderflow: payment not found")
	// ErrInvalidEvent - событие шлюза не содержит обязательных полей.
	ErrInvalidEvent = errors.New("orderflow: invalid gateway event")
	// ErrDeliveryFailed - мессенджер не принял сообщение, в журнал ничего не записано.
	ErrDeliveryFailed = errors.New("orderflow: message delivery failed")
	// ErrEventOutOfOrder - событие пришло раньше того, к которому относится, и должно быть доставлено повторно.
	ErrEventOutOfOrder = errors.New("orderflow: gateway event arrived out of order")
	// ErrGatewayUnavailable - платёжный шлюз не ответил или вернул ошибку.
	ErrGatewayUnavailable = errors.New("orderflow: payment gateway unavailable")
)
