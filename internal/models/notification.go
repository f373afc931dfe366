package models

import "time"

// OrderNotification - одно отправленное внешнее сообщение по заказу.
// MessageRef позволяет отредактировать или удалить сообщение позже.
type OrderNotification struct {
	ID               int64     `json:"id" db:"id"`
	OrderID          int64     `json:"order_id" db:"order_id"`
	RecipientID      int64     `json:"recipient_id" db:"recipient_id"`
	MessageRef       string    `json:"message_ref" db:"message_ref"`
	NotificationType string    `json:"notification_type" db:"notification_type"`
	Status           string    `json:"status" db:"status"`
	ExpiresAt        NullTime  `json:"expires_at" db:"expires_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// ButtonKind - вид кнопки под сообщением.
type ButtonKind string

const (
	ButtonCallback ButtonKind = "callback"
	ButtonOpenChat ButtonKind = "open_chat"
	ButtonOpenURL  ButtonKind = "open_url"
)

// Button - кнопка под уведомлением. Data трактуется по Kind:
// callback-данные, username/ID чата или URL.
type Button struct {
	Kind ButtonKind `json:"kind"`
	Text string     `json:"text"`
	Data string     `json:"data"`
}

// CallbackButton создаёт кнопку с callback-данными.
func CallbackButton(text, data string) Button {
	return Button{Kind: ButtonCallback, Text: text, Data: data}
}

// OpenChatButton создаёт кнопку перехода в чат.
func OpenChatButton(text, chat string) Button {
	return Button{Kind: ButtonOpenChat, Text: text, Data: chat}
}

// OpenURLButton создаёт кнопку-ссылку.
func OpenURLButton(text, url string) Button {
	return Button{Kind: ButtonOpenURL, Text: text, Data: url}
}

// OutboundMessage - содержимое исходящего сообщения.
// Если задан QRPayload, сообщение отправляется картинкой с QR-кодом и подписью Text.
type OutboundMessage struct {
	Text      string
	Buttons   [][]Button
	QRPayload string
}
