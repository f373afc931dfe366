package db

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var orderColumns = []string{
	"id", "code", "customer_chat_id", "status", "payment_status",
	"total_amount", "delivery_cost", "delivery_method", "delivery_address",
	"delivery_distance_km", "delivery_zone_label", "is_deleted", "created_at", "updated_at",
}

var paymentColumns = []string{
	"id", "order_id", "status", "amount", "refunded_amount", "transaction_id",
	"confirmation_url", "provider_response", "paid_at", "refunded_at", "created_at", "updated_at",
}

var notificationColumns = []string{
	"id", "order_id", "recipient_id", "message_ref", "notification_type",
	"status", "expires_at", "created_at", "updated_at",
}

var historyColumns = []string{
	"id", "order_id", "previous_status", "new_status", "actor", "role", "created_at",
}

var orderSettingColumns = []string{
	"payment_ttl_minutes", "reminder_10min_enabled", "reminder_5min_enabled", "auto_cancel_enabled",
	"notification_10min_template", "notification_5min_template", "auto_cancel_template",
}

var deliverySettingColumns = []string{
	"origin_lat", "origin_lon", "delivery_zones", "free_delivery_threshold",
	"min_delivery_order_total_rub", "is_enabled",
}

// prefixed добавляет к колонкам псевдоним таблицы.
func prefixed(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return out
}

func selectOrderQuery(orderID int64) sq.SelectBuilder {
	return psql.Select(orderColumns...).From("orders").Where(sq.Eq{"id": orderID})
}

// lockOrderQuery берёт строку заказа под эксклюзивную блокировку до конца транзакции.
func lockOrderQuery(orderID int64) sq.SelectBuilder {
	return selectOrderQuery(orderID).Suffix("FOR UPDATE")
}

func unpaidOrdersQuery() sq.SelectBuilder {
	return psql.Select(orderColumns...).From("orders").
		Where(sq.Eq{"is_deleted": false}).
		Where(sq.Eq{"payment_status": constants.PAYMENT_STATUS_PENDING}).
		Where(sq.NotEq{"status": []string{constants.STATUS_DELIVERED, constants.STATUS_CANCELLED}}).
		OrderBy("id")
}

func insertOrderQuery(o models.Order) sq.InsertBuilder {
	return psql.Insert("orders").
		Columns("code", "customer_chat_id", "status", "payment_status", "total_amount", "delivery_cost",
			"delivery_method", "delivery_address", "delivery_distance_km", "delivery_zone_label",
			"is_deleted", "created_at", "updated_at").
		Values(o.Code, o.CustomerChatID, o.Status, o.PaymentStatus, o.TotalAmount, o.DeliveryCost,
			o.DeliveryMethod, o.DeliveryAddress, o.DeliveryDistanceKm, o.DeliveryZoneLabel,
			o.IsDeleted, o.CreatedAt, o.UpdatedAt).
		Suffix("RETURNING id")
}

func updateOrderQuery(o models.Order) sq.UpdateBuilder {
	return psql.Update("orders").SetMap(map[string]interface{}{
		"code":                 o.Code,
		"customer_chat_id":     o.CustomerChatID,
		"status":               o.Status,
		"payment_status":       o.PaymentStatus,
		"total_amount":         o.TotalAmount,
		"delivery_cost":        o.DeliveryCost,
		"delivery_method":      o.DeliveryMethod,
		"delivery_address":     o.DeliveryAddress,
		"delivery_distance_km": o.DeliveryDistanceKm,
		"delivery_zone_label":  o.DeliveryZoneLabel,
		"is_deleted":           o.IsDeleted,
		"updated_at":           o.UpdatedAt,
	}).Where(sq.Eq{"id": o.ID})
}

func selectPaymentQuery() sq.SelectBuilder {
	return psql.Select(paymentColumns...).From("payments")
}

func insertPaymentQuery(p models.Payment) sq.InsertBuilder {
	return psql.Insert("payments").
		Columns("order_id", "status", "amount", "refunded_amount", "transaction_id", "confirmation_url",
			"provider_response", "paid_at", "refunded_at", "created_at", "updated_at").
		Values(p.OrderID, p.Status, p.Amount, p.RefundedAmount, p.TransactionID, p.ConfirmationURL,
			p.ProviderResponse, p.PaidAt, p.RefundedAt, p.CreatedAt, p.UpdatedAt).
		Suffix("RETURNING id")
}

func updatePaymentQuery(p models.Payment) sq.UpdateBuilder {
	return psql.Update("payments").SetMap(map[string]interface{}{
		"status":            p.Status,
		"amount":            p.Amount,
		"refunded_amount":   p.RefundedAmount,
		"transaction_id":    p.TransactionID,
		"confirmation_url":  p.ConfirmationURL,
		"provider_response": p.ProviderResponse,
		"paid_at":           p.PaidAt,
		"refunded_at":       p.RefundedAt,
		"updated_at":        p.UpdatedAt,
	}).Where(sq.Eq{"id": p.ID})
}

func insertHistoryQuery(rec models.OrderStatusHistory) sq.InsertBuilder {
	return psql.Insert("order_status_history").
		Columns("order_id", "previous_status", "new_status", "actor", "role", "created_at").
		Values(rec.OrderID, rec.Previous, rec.New, rec.Actor, rec.Role, rec.CreatedAt)
}

func selectHistoryQuery(orderID int64) sq.SelectBuilder {
	return psql.Select(historyColumns...).From("order_status_history").
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("id")
}

// insertEventQuery не затирает уже записанное событие: RowsAffected == 0 означает повтор.
func insertEventQuery(ev models.ProcessedGatewayEvent) sq.InsertBuilder {
	return psql.Insert("processed_gateway_events").
		Columns("transaction_id", "event_type", "event_id", "processed_at").
		Values(ev.TransactionID, ev.EventType, ev.EventID, ev.ProcessedAt).
		Suffix("ON CONFLICT (transaction_id, event_type, event_id) DO NOTHING")
}

func findNotificationQuery(orderID int64, notificationType string, statuses []string) sq.SelectBuilder {
	q := psql.Select(notificationColumns...).From("order_notifications").
		Where(sq.Eq{"order_id": orderID}).
		Where(sq.Eq{"notification_type": notificationType})
	if len(statuses) > 0 {
		q = q.Where(sq.Eq{"status": statuses})
	}
	return q.OrderBy("id DESC").Limit(1)
}

func insertNotificationQuery(n models.OrderNotification) sq.InsertBuilder {
	return psql.Insert("order_notifications").
		Columns("order_id", "recipient_id", "message_ref", "notification_type", "status",
			"expires_at", "created_at", "updated_at").
		Values(n.OrderID, n.RecipientID, n.MessageRef, n.NotificationType, n.Status,
			n.ExpiresAt, n.CreatedAt, n.UpdatedAt).
		Suffix("RETURNING id")
}

func updateNotificationQuery(n models.OrderNotification) sq.UpdateBuilder {
	return psql.Update("order_notifications").SetMap(map[string]interface{}{
		"message_ref": n.MessageRef,
		"status":      n.Status,
		"expires_at":  n.ExpiresAt,
		"updated_at":  n.UpdatedAt,
	}).Where(sq.Eq{"id": n.ID}).Where(sq.Eq{"order_id": n.OrderID})
}

func paymentReportQuery(from, to time.Time) sq.SelectBuilder {
	columns := append(prefixed("o", orderColumns), prefixed("p", paymentColumns)...)
	return psql.Select(columns...).
		From("orders o").
		Join("payments p ON p.order_id = o.id").
		Where(sq.Eq{"o.is_deleted": false}).
		Where(sq.GtOrEq{"o.created_at": from}).
		Where(sq.Lt{"o.created_at": to}).
		OrderBy("o.id")
}

// Настройки - одна строка с id = 1, создаётся при первом чтении.
func insertDefaultOrderSettingQuery(s models.OrderSetting) sq.InsertBuilder {
	return psql.Insert("order_settings").
		Columns(append([]string{"id"}, orderSettingColumns...)...).
		Values(1, s.PaymentTTLMinutes, s.Reminder10MinEnabled, s.Reminder5MinEnabled, s.AutoCancelEnabled,
			s.Notification10MinTemplate, s.Notification5MinTemplate, s.AutoCancelTemplate).
		Suffix("ON CONFLICT (id) DO NOTHING")
}

func selectOrderSettingQuery() sq.SelectBuilder {
	return psql.Select(orderSettingColumns...).From("order_settings").Where(sq.Eq{"id": 1})
}

func insertDefaultDeliverySettingQuery(s models.DeliverySetting) sq.InsertBuilder {
	return psql.Insert("delivery_settings").
		Columns(append([]string{"id"}, deliverySettingColumns...)...).
		Values(1, s.OriginLat, s.OriginLon, s.Zones, s.FreeDeliveryThreshold,
			s.MinDeliveryOrderTotalRub, s.IsEnabled).
		Suffix("ON CONFLICT (id) DO NOTHING")
}

func selectDeliverySettingQuery() sq.SelectBuilder {
	return psql.Select(deliverySettingColumns...).From("delivery_settings").Where(sq.Eq{"id": 1})
}
