package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"FoodOrders/internal/constants"
)

// OrderSetting - настройки оплаты и уведомлений (одна запись).
type OrderSetting struct {
	PaymentTTLMinutes         int    `json:"payment_ttl_minutes" db:"payment_ttl_minutes"`
	Reminder10MinEnabled      bool   `json:"reminder_10min_enabled" db:"reminder_10min_enabled"`
	Reminder5MinEnabled       bool   `json:"reminder_5min_enabled" db:"reminder_5min_enabled"`
	AutoCancelEnabled         bool   `json:"auto_cancel_enabled" db:"auto_cancel_enabled"`
	Notification10MinTemplate string `json:"notification_10min_template" db:"notification_10min_template"`
	Notification5MinTemplate  string `json:"notification_5min_template" db:"notification_5min_template"`
	AutoCancelTemplate        string `json:"auto_cancel_template" db:"auto_cancel_template"`
}

// DefaultOrderSetting возвращает настройки, которые создаются при первом чтении.
func DefaultOrderSetting() OrderSetting {
	return OrderSetting{
		PaymentTTLMinutes:         constants.DEFAULT_PAYMENT_TTL_MINUTES,
		Reminder10MinEnabled:      true,
		Reminder5MinEnabled:       true,
		AutoCancelEnabled:         true,
		Notification10MinTemplate: constants.DEFAULT_TEMPLATE_10MIN,
		Notification5MinTemplate:  constants.DEFAULT_TEMPLATE_5MIN,
		AutoCancelTemplate:        constants.DEFAULT_TEMPLATE_AUTO,
	}
}

// DeliveryZone - зона доставки. MaxDistance == nil означает зону "всё остальное".
type DeliveryZone struct {
	MaxDistance *float64        `json:"max_distance"`
	Cost        decimal.Decimal `json:"cost"`
	Label       string          `json:"label,omitempty"`
}

// DeliveryZones хранится в JSONB-колонке.
type DeliveryZones []DeliveryZone

// Value реализует driver.Valuer.
func (z DeliveryZones) Value() (driver.Value, error) {
	if z == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(z)
}

// Scan реализует sql.Scanner.
func (z *DeliveryZones) Scan(src interface{}) error {
	if src == nil {
		*z = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("DeliveryZones: неподдерживаемый тип %T", src)
	}
	return json.Unmarshal(raw, z)
}

// DeliverySetting - настройки доставки (одна запись).
type DeliverySetting struct {
	OriginLat                float64         `json:"origin_lat" db:"origin_lat"`
	OriginLon                float64         `json:"origin_lon" db:"origin_lon"`
	Zones                    DeliveryZones   `json:"delivery_zones" db:"delivery_zones"`
	FreeDeliveryThreshold    decimal.Decimal `json:"free_delivery_threshold" db:"free_delivery_threshold"`
	MinDeliveryOrderTotalRub decimal.Decimal `json:"min_delivery_order_total_rub" db:"min_delivery_order_total_rub"`
	IsEnabled                bool            `json:"is_enabled" db:"is_enabled"`
}

func distancePtr(v float64) *float64 { return &v }

// DefaultDeliverySetting возвращает зоны 3/7/12 км и зону "дальше".
func DefaultDeliverySetting() DeliverySetting {
	return DeliverySetting{
		OriginLat: 55.751244,
		OriginLon: 37.618423,
		Zones: DeliveryZones{
			{MaxDistance: distancePtr(3), Cost: decimal.NewFromInt(300)},
			{MaxDistance: distancePtr(7), Cost: decimal.NewFromInt(500)},
			{MaxDistance: distancePtr(12), Cost: decimal.NewFromInt(800)},
			{MaxDistance: nil, Cost: decimal.NewFromInt(1000)},
		},
		FreeDeliveryThreshold:    decimal.Zero,
		MinDeliveryOrderTotalRub: decimal.Zero,
		IsEnabled:                true,
	}
}
