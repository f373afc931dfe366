package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order - заказ клиента. Физически не удаляется, только помечается IsDeleted.
type Order struct {
	ID                 int64           `json:"id" db:"id"`
	Code               string          `json:"code" db:"code"`
	CustomerChatID     int64           `json:"customer_chat_id" db:"customer_chat_id"`
	Status             string          `json:"status" db:"status"`
	PaymentStatus      string          `json:"payment_status" db:"payment_status"`
	TotalAmount        decimal.Decimal `json:"total_amount" db:"total_amount"`
	DeliveryCost       decimal.Decimal `json:"delivery_cost" db:"delivery_cost"`
	DeliveryMethod     string          `json:"delivery_method" db:"delivery_method"`
	DeliveryAddress    string          `json:"delivery_address" db:"delivery_address"`
	DeliveryDistanceKm float64         `json:"delivery_distance_km" db:"delivery_distance_km"`
	DeliveryZoneLabel  string          `json:"delivery_zone_label" db:"delivery_zone_label"`
	IsDeleted          bool            `json:"is_deleted" db:"is_deleted"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// GrandTotal - сумма к оплате вместе с доставкой.
func (o Order) GrandTotal() decimal.Decimal {
	return o.TotalAmount.Add(o.DeliveryCost)
}

// OrderStatusHistory - неизменяемая запись о смене статуса заказа.
type OrderStatusHistory struct {
	ID        int64     `json:"id" db:"id"`
	OrderID   int64     `json:"order_id" db:"order_id"`
	Previous  string    `json:"previous" db:"previous_status"`
	New       string    `json:"new" db:"new_status"`
	Actor     string    `json:"actor" db:"actor"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
