package orderflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/utils"
)

// CallbackPrefixOrderStatus - префикс callback-данных кнопок смены статуса:
// "order_status:<id>:<status>".
const CallbackPrefixOrderStatus = "order_status"

// NotifierConfig - получатели служебных сообщений. 0 означает "не отправлять".
type NotifierConfig struct {
	AdminChatID   int64
	KitchenChatID int64
	CourierChatID int64
}

// Notifier отправляет сообщения через Messenger и ведёт по ним NotificationLog.
// Вызывается под блокировкой заказа.
type Notifier struct {
	messenger Messenger
	log       *NotificationLog
	cfg       NotifierConfig
	logger    *zap.Logger
}

// NewNotifier создаёт Notifier. messenger == nil отключает отправку.
func NewNotifier(messenger Messenger, log *NotificationLog, cfg NotifierConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{messenger: messenger, log: log, cfg: cfg, logger: logger}
}

// Log возвращает журнал уведомлений.
func (n *Notifier) Log() *NotificationLog {
	return n.log
}

// Send отправляет новое сообщение и записывает его в журнал.
// Если по (заказ, тип) уже есть неснятая запись, ничего не отправляет и возвращает ErrDuplicateActive.
func (n *Notifier) Send(ctx context.Context, tx Tx, orderID int64, notificationType string, recipientID int64, msg models.OutboundMessage, ttl time.Duration) error {
	if n.messenger == nil || recipientID == 0 {
		return nil
	}
	if _, found, err := n.log.Current(ctx, tx, orderID, notificationType); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: заказ #%d, тип %s", ErrDuplicateActive, orderID, notificationType)
	}

	ref, err := n.messenger.Send(ctx, recipientID, msg)
	if err != nil {
		return fmt.Errorf("%w: %s по заказу #%d: %v", ErrDeliveryFailed, notificationType, orderID, err)
	}
	if _, err := n.log.RecordSent(ctx, tx, orderID, notificationType, recipientID, ref, ttl); err != nil {
		// Сообщение ушло, но не записано: убираем его, чтобы повтор не стал дублем.
		if delErr := n.messenger.Delete(ctx, ref); delErr != nil {
			n.logger.Warn("Notifier.Send: не удалось удалить незаписанное сообщение",
				zap.Int64("order_id", orderID), zap.String("message_ref", ref), zap.Error(delErr))
		}
		return err
	}
	return nil
}

// Upsert редактирует текущее сообщение или отправляет новое, если его нет.
func (n *Notifier) Upsert(ctx context.Context, tx Tx, orderID int64, notificationType string, recipientID int64, msg models.OutboundMessage) error {
	if n.messenger == nil || recipientID == 0 {
		return nil
	}
	current, found, err := n.log.Current(ctx, tx, orderID, notificationType)
	if err != nil {
		return err
	}
	if !found {
		return n.Send(ctx, tx, orderID, notificationType, recipientID, msg, 0)
	}

	if err := n.messenger.Edit(ctx, current.MessageRef, msg); err != nil {
		n.logger.Warn("Notifier.Upsert: не удалось отредактировать сообщение, отправляем новое",
			zap.Int64("order_id", orderID), zap.String("type", notificationType), zap.Error(err))
		if err := n.Retire(ctx, tx, orderID, notificationType); err != nil {
			return err
		}
		return n.Send(ctx, tx, orderID, notificationType, recipientID, msg, 0)
	}
	_, _, err = n.log.MarkEdited(ctx, tx, orderID, notificationType)
	return err
}

// Retire снимает текущую запись и удаляет внешнее сообщение. Без записи ничего не делает.
func (n *Notifier) Retire(ctx context.Context, tx Tx, orderID int64, notificationType string) error {
	retired, found, err := n.log.Retire(ctx, tx, orderID, notificationType)
	if err != nil || !found {
		return err
	}
	if n.messenger != nil && retired.MessageRef != "" {
		if err := n.messenger.Delete(ctx, retired.MessageRef); err != nil {
			n.logger.Warn("Notifier.Retire: не удалось удалить сообщение",
				zap.Int64("order_id", orderID), zap.String("type", notificationType), zap.Error(err))
		}
	}
	return nil
}

// RetireReminders снимает напоминания об оплате.
func (n *Notifier) RetireReminders(ctx context.Context, tx Tx, orderID int64) error {
	var errs []error
	for _, t := range []string{constants.NOTIFICATION_REMINDER_10MIN, constants.NOTIFICATION_REMINDER_5MIN} {
		if err := n.Retire(ctx, tx, orderID, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnStatusChanged рассылает сообщения после смены статуса.
// Ошибки мессенджера логируются и не откатывают переход.
func (n *Notifier) OnStatusChanged(ctx context.Context, tx Tx, order models.Order, previous string, notifyCustomer bool) {
	warn := func(step string, err error) {
		if err != nil && !errors.Is(err, ErrDuplicateActive) {
			n.logger.Warn("Notifier.OnStatusChanged: "+step,
				zap.Int64("order_id", order.ID), zap.String("status", order.Status), zap.Error(err))
		}
	}

	if previous == constants.STATUS_NEW {
		warn("снятие напоминаний", n.RetireReminders(ctx, tx, order.ID))
	}
	if notifyCustomer {
		warn("уведомление клиента", n.Upsert(ctx, tx, order.ID, constants.NOTIFICATION_STATUS_CHANGE, order.CustomerChatID, customerStatusMessage(order)))
	}

	if constants.IsTerminalOrderStatus(order.Status) {
		for _, t := range []string{constants.NOTIFICATION_ADMIN_NEW, constants.NOTIFICATION_KITCHEN, constants.NOTIFICATION_COURIER} {
			warn("снятие служебного сообщения "+t, n.Retire(ctx, tx, order.ID, t))
		}
		return
	}

	switch order.Status {
	case constants.STATUS_ACCEPTED:
		warn("сообщение администратору", n.Send(ctx, tx, order.ID, constants.NOTIFICATION_ADMIN_NEW, n.cfg.AdminChatID, adminOrderMessage(order), 0))
		warn("сообщение кухне", n.Send(ctx, tx, order.ID, constants.NOTIFICATION_KITCHEN, n.cfg.KitchenChatID, kitchenMessage(order), 0))
		return
	case constants.STATUS_READY_FOR_DELIVERY:
		warn("снятие сообщения кухни", n.Retire(ctx, tx, order.ID, constants.NOTIFICATION_KITCHEN))
		if order.DeliveryMethod != constants.DELIVERY_METHOD_PICKUP {
			warn("сообщение курьеру", n.Send(ctx, tx, order.ID, constants.NOTIFICATION_COURIER, n.cfg.CourierChatID, courierMessage(order), 0))
		}
	}

	// Сообщение администратору обновляется на месте, если уже было отправлено.
	if _, found, err := n.log.Current(ctx, tx, order.ID, constants.NOTIFICATION_ADMIN_NEW); err != nil {
		warn("поиск сообщения администратору", err)
	} else if found {
		warn("обновление сообщения администратору", n.Upsert(ctx, tx, order.ID, constants.NOTIFICATION_ADMIN_NEW, n.cfg.AdminChatID, adminOrderMessage(order)))
	}
}

// StatusCallbackData формирует callback-данные кнопки перевода заказа в статус.
func StatusCallbackData(orderID int64, status string) string {
	return fmt.Sprintf("%s:%d:%s", CallbackPrefixOrderStatus, orderID, status)
}

func statusTitle(status string) string {
	return fmt.Sprintf("%s %s", constants.StatusEmojiMap[status], constants.StatusDisplayMap[status])
}

func customerStatusMessage(order models.Order) models.OutboundMessage {
	return models.OutboundMessage{
		Text: fmt.Sprintf("Заказ %s\nСтатус: %s", order.Code, statusTitle(order.Status)),
	}
}

func adminOrderMessage(order models.Order) models.OutboundMessage {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🧾 Заказ %s\n", order.Code)
	fmt.Fprintf(&sb, "Статус: %s\n", statusTitle(order.Status))
	fmt.Fprintf(&sb, "Оплата: %s\n", constants.PaymentStatusDisplayMap[order.PaymentStatus])
	fmt.Fprintf(&sb, "Сумма: %s ₽", utils.FormatRub(order.GrandTotal()))
	if order.DeliveryMethod == constants.DELIVERY_METHOD_PICKUP {
		sb.WriteString("\nСамовывоз")
	} else if order.DeliveryAddress != "" {
		fmt.Fprintf(&sb, "\nАдрес: %s", order.DeliveryAddress)
	}
	return models.OutboundMessage{Text: sb.String(), Buttons: statusButtons(order)}
}

func kitchenMessage(order models.Order) models.OutboundMessage {
	return models.OutboundMessage{
		Text: fmt.Sprintf("👨‍🍳 Заказ %s принят, можно готовить.", order.Code),
		Buttons: [][]models.Button{{
			models.CallbackButton(statusTitle(constants.STATUS_PREPARING), StatusCallbackData(order.ID, constants.STATUS_PREPARING)),
			models.CallbackButton(statusTitle(constants.STATUS_READY_FOR_DELIVERY), StatusCallbackData(order.ID, constants.STATUS_READY_FOR_DELIVERY)),
		}},
	}
}

func courierMessage(order models.Order) models.OutboundMessage {
	text := fmt.Sprintf("🚚 Заказ %s готов к доставке.\nАдрес: %s", order.Code, order.DeliveryAddress)
	if order.DeliveryZoneLabel != "" {
		text += fmt.Sprintf("\nЗона: %s (%.1f км)", order.DeliveryZoneLabel, order.DeliveryDistanceKm)
	}
	return models.OutboundMessage{
		Text: text,
		Buttons: [][]models.Button{{
			models.CallbackButton(statusTitle(constants.STATUS_IN_TRANSIT), StatusCallbackData(order.ID, constants.STATUS_IN_TRANSIT)),
			models.CallbackButton(statusTitle(constants.STATUS_DELIVERED), StatusCallbackData(order.ID, constants.STATUS_DELIVERED)),
		}},
	}
}

// statusButtons - следующий статус основного сценария и отмена.
func statusButtons(order models.Order) [][]models.Button {
	if constants.IsTerminalOrderStatus(order.Status) {
		return nil
	}
	var row []models.Button
	for i, s := range constants.OrderStatuses {
		if s == order.Status && i+1 < len(constants.OrderStatuses) && constants.OrderStatuses[i+1] != constants.STATUS_CANCELLED {
			next := constants.OrderStatuses[i+1]
			row = append(row, models.CallbackButton(statusTitle(next), StatusCallbackData(order.ID, next)))
			break
		}
	}
	row = append(row, models.CallbackButton(statusTitle(constants.STATUS_CANCELLED), StatusCallbackData(order.ID, constants.STATUS_CANCELLED)))
	return [][]models.Button{row}
}
