package telegram_api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
)

// Transitioner - смена статуса заказа по нажатию кнопки.
type Transitioner interface {
	RequestTransition(ctx context.Context, orderID int64, target string, actor orderflow.Actor) (models.Order, error)
}

// CallbackHandler обрабатывает нажатия кнопок смены статуса в служебных чатах.
type CallbackHandler struct {
	bot     Sender
	machine Transitioner
	roles   map[int64]string // chat id -> роль
	logger  *zap.Logger
}

// NewCallbackHandler создаёт обработчик. Кнопки принимаются только из чатов cfg.
func NewCallbackHandler(bot Sender, machine Transitioner, cfg orderflow.NotifierConfig, logger *zap.Logger) *CallbackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	roles := make(map[int64]string)
	for _, id := range []int64{cfg.KitchenChatID, cfg.CourierChatID} {
		if id != 0 {
			roles[id] = constants.ROLE_STAFF
		}
	}
	if cfg.AdminChatID != 0 {
		roles[cfg.AdminChatID] = constants.ROLE_ADMIN
	}
	return &CallbackHandler{bot: bot, machine: machine, roles: roles, logger: logger}
}

// ParseStatusCallback разбирает данные "order_status:<id>:<status>".
func ParseStatusCallback(data string) (orderID int64, status string, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != orderflow.CallbackPrefixOrderStatus {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 || parts[2] == "" {
		return 0, "", false
	}
	return id, parts[2], true
}

// Listen читает обновления до закрытия канала или отмены ctx.
func (h *CallbackHandler) Listen(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				h.HandleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

// HandleCallback выполняет смену статуса и отвечает на коллбэк.
func (h *CallbackHandler) HandleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	orderID, status, ok := ParseStatusCallback(query.Data)
	if !ok {
		h.logger.Debug("Коллбэк не относится к заказам", zap.String("data", query.Data))
		h.answer(query.ID, "")
		return
	}
	if query.Message == nil {
		h.answer(query.ID, "⛔ Нет доступа")
		return
	}
	chatID := query.Message.Chat.ID
	role, allowed := h.roles[chatID]
	if !allowed {
		h.logger.Warn("Коллбэк смены статуса из неизвестного чата", zap.Int64("chat_id", chatID), zap.Int64("order_id", orderID))
		h.answer(query.ID, "⛔ Нет доступа")
		return
	}

	actor := orderflow.Actor{Name: actorName(query.From), Role: role}
	h.logger.Info("Смена статуса из Telegram",
		zap.Int64("order_id", orderID), zap.String("status", status), zap.String("actor", actor.Name), zap.String("role", role))

	_, err := h.machine.RequestTransition(ctx, orderID, status, actor)
	switch {
	case err == nil:
		h.answer(query.ID, fmt.Sprintf("%s %s", constants.StatusEmojiMap[status], constants.StatusDisplayMap[status]))
	case errors.Is(err, orderflow.ErrInvalidTransition):
		h.answer(query.ID, "⛔ Этот статус сейчас нельзя установить")
	case errors.Is(err, orderflow.ErrOrderNotFound):
		h.answer(query.ID, "Заказ не найден")
	default:
		h.logger.Error("Ошибка смены статуса из Telegram", zap.Int64("order_id", orderID), zap.Error(err))
		h.answer(query.ID, "Ошибка, попробуйте позже")
	}
}

func (h *CallbackHandler) answer(queryID, text string) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		h.logger.Warn("Не удалось ответить на коллбэк", zap.String("callback_id", queryID), zap.Error(err))
	}
}

func actorName(from *tgbotapi.User) string {
	if from == nil {
		return "telegram"
	}
	if from.UserName != "" {
		return "@" + from.UserName
	}
	return fmt.Sprintf("tg:%d", from.ID)
}
