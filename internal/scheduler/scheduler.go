// Package scheduler - периодический обход неоплаченных заказов:
// напоминания об оплате и автоотмена по истечении TTL.
package scheduler

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
	"FoodOrders/internal/utils"
)

// Config - параметры обхода.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// Stats - итоги одного обхода.
type Stats struct {
	Candidates  int
	Reminders10 int
	Reminders5  int
	Cancelled   int
	Failed      int
}

// Scheduler периодически обрабатывает заказы, ожидающие оплаты.
type Scheduler struct {
	store    orderflow.Store
	machine  *orderflow.StateMachine
	notifier *orderflow.Notifier
	clock    orderflow.Clock
	cfg      Config
	logger   *zap.Logger
}

// New создаёт Scheduler.
func New(store orderflow.Store, machine *orderflow.StateMachine, notifier *orderflow.Notifier, clock orderflow.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = constants.DEFAULT_SCHEDULER_INTERVAL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = constants.DEFAULT_SCHEDULER_CONCURRENCY
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, machine: machine, notifier: notifier, clock: clock, cfg: cfg, logger: logger}
}

// Run выполняет обход с интервалом cfg.Interval, пока не отменён ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("Планировщик уведомлений запущен", zap.Duration("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Планировщик уведомлений остановлен")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Sweep: обход не выполнен", zap.Error(err))
			}
		}
	}
}

// Sweep - один обход. Настройки читаются один раз на обход.
// Ошибка по одному заказу логируется и не останавливает обработку остальных.
func (s *Scheduler) Sweep(ctx context.Context) (Stats, error) {
	setting, err := s.store.LoadOrderSetting(ctx)
	if err != nil {
		return Stats{}, err
	}
	candidates, err := s.store.ListUnpaidOrders(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := s.clock().UTC()

	var reminders10, reminders5, cancelled, failed atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(s.cfg.Concurrency)
	for _, order := range candidates {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			res, err := s.processOrder(ctx, setting, order.ID, now)
			if err != nil {
				failed.Add(1)
				s.logger.Error("Sweep: ошибка обработки заказа", zap.Int64("order_id", order.ID), zap.Error(err))
				return nil
			}
			if res.reminder10 {
				reminders10.Add(1)
			}
			if res.reminder5 {
				reminders5.Add(1)
			}
			if res.cancelled {
				cancelled.Add(1)
			}
			return nil
		})
	}
	_ = eg.Wait()

	stats := Stats{
		Candidates:  len(candidates),
		Reminders10: int(reminders10.Load()),
		Reminders5:  int(reminders5.Load()),
		Cancelled:   int(cancelled.Load()),
		Failed:      int(failed.Load()),
	}
	if stats.Reminders10+stats.Reminders5+stats.Cancelled+stats.Failed > 0 {
		s.logger.Info("Sweep: обход завершён",
			zap.Int("candidates", stats.Candidates), zap.Int("reminders_10min", stats.Reminders10),
			zap.Int("reminders_5min", stats.Reminders5), zap.Int("cancelled", stats.Cancelled),
			zap.Int("failed", stats.Failed))
	}
	return stats, ctx.Err()
}

type orderResult struct {
	reminder10 bool
	reminder5  bool
	cancelled  bool
}

// processOrder обрабатывает один заказ под его блокировкой.
// Список кандидатов мог устареть, поэтому условия проверяются заново.
func (s *Scheduler) processOrder(ctx context.Context, setting models.OrderSetting, orderID int64, now time.Time) (orderResult, error) {
	var res orderResult
	err := s.store.WithOrderLock(ctx, orderID, func(tx orderflow.Tx) error {
		res = orderResult{}
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.IsDeleted || constants.IsTerminalOrderStatus(order.Status) || order.PaymentStatus != constants.PAYMENT_STATUS_PENDING {
			return nil
		}
		payment, err := tx.GetPayment(ctx, orderID)
		if err != nil {
			return err
		}

		deadline := orderflow.PaymentDeadline(order, setting)
		remaining := deadline.Sub(now)
		elapsed := now.Sub(order.CreatedAt)

		if setting.AutoCancelEnabled && remaining <= 0 {
			cancelledOrder, ok, err := s.machine.AutoCancelInTx(ctx, tx, orderID, setting, now)
			if err != nil {
				return err
			}
			if ok {
				res.cancelled = true
				return s.afterAutoCancel(ctx, tx, cancelledOrder, payment, setting)
			}
			return nil
		}

		log := s.notifier.Log()
		if setting.Reminder10MinEnabled && elapsed >= constants.REMINDER_FIRST_AFTER {
			// Снятое после смены статуса напоминание тоже считается отправленным.
			exists, err := log.Exists(ctx, tx, orderID, constants.NOTIFICATION_REMINDER_10MIN)
			if err != nil {
				return err
			}
			if !exists {
				msg := reminderMessage(setting.Notification10MinTemplate, order, payment, setting, remaining)
				sent, err := s.send(ctx, tx, order, constants.NOTIFICATION_REMINDER_10MIN, msg, remaining)
				if err != nil {
					return err
				}
				res.reminder10 = sent
			}
		}

		if setting.Reminder5MinEnabled && remaining > 0 && remaining <= constants.REMINDER_BEFORE_TTL {
			exists, err := log.Exists(ctx, tx, orderID, constants.NOTIFICATION_REMINDER_5MIN)
			if err != nil {
				return err
			}
			if !exists {
				msg := reminderMessage(setting.Notification5MinTemplate, order, payment, setting, remaining)
				sent, err := s.send(ctx, tx, order, constants.NOTIFICATION_REMINDER_5MIN, msg, remaining)
				if err != nil {
					return err
				}
				res.reminder5 = sent
			}
		}
		return nil
	})
	return res, err
}

// send отправляет уведомление клиенту. Сбой мессенджера не откатывает
// уже сделанное под блокировкой: шаг повторится в следующем обходе.
func (s *Scheduler) send(ctx context.Context, tx orderflow.Tx, order models.Order, notificationType string, msg models.OutboundMessage, ttl time.Duration) (bool, error) {
	if order.CustomerChatID == 0 {
		return false, nil
	}
	err := s.notifier.Send(ctx, tx, order.ID, notificationType, order.CustomerChatID, msg, ttl)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, orderflow.ErrDeliveryFailed), errors.Is(err, orderflow.ErrDuplicateActive):
		s.logger.Warn("Sweep: уведомление не отправлено",
			zap.Int64("order_id", order.ID), zap.String("type", notificationType), zap.Error(err))
		return false, nil
	default:
		return false, err
	}
}

func (s *Scheduler) afterAutoCancel(ctx context.Context, tx orderflow.Tx, order models.Order, payment models.Payment, setting models.OrderSetting) error {
	if err := s.notifier.RetireReminders(ctx, tx, order.ID); err != nil {
		return err
	}
	text := orderflow.RenderTemplate(setting.AutoCancelTemplate, placeholders(order, payment, setting, 0))
	_, err := s.send(ctx, tx, order, constants.NOTIFICATION_AUTO_CANCEL, models.OutboundMessage{Text: text}, 0)
	return err
}

func reminderMessage(template string, order models.Order, payment models.Payment, setting models.OrderSetting, remaining time.Duration) models.OutboundMessage {
	msg := models.OutboundMessage{Text: orderflow.RenderTemplate(template, placeholders(order, payment, setting, remaining))}
	if payment.ConfirmationURL != "" {
		msg.Buttons = [][]models.Button{{models.OpenURLButton("💳 Оплатить", payment.ConfirmationURL)}}
		msg.QRPayload = payment.ConfirmationURL
	}
	return msg
}

func placeholders(order models.Order, payment models.Payment, setting models.OrderSetting, remaining time.Duration) map[string]string {
	amount := payment.Amount
	if amount.IsZero() {
		amount = order.GrandTotal()
	}
	minutesLeft := 0
	if remaining > 0 {
		minutesLeft = int(math.Ceil(remaining.Minutes()))
	}
	return map[string]string{
		"order_code":   order.Code,
		"amount":       utils.FormatRub(amount),
		"minutes_left": strconv.Itoa(minutesLeft),
		"ttl_minutes":  strconv.Itoa(setting.PaymentTTLMinutes),
		"payment_url":  payment.ConfirmationURL,
	}
}
