package telegram_api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"FoodOrders/internal/constants"
)

// Sender - вызовы Bot API, которые нужны пакету. Реализуется BotClient.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// BotClient представляет собой обертку для Telegram Bot API.
type BotClient struct {
	api    *tgbotapi.BotAPI
	Debug  bool
	logger *zap.Logger
}

var _ Sender = (*BotClient)(nil)

// boundedClient ограничивает время запросов к Bot API. Сообщения отправляются
// под блокировкой заказа, поэтому зависший запрос не должен держать её дольше timeout.
// getUpdates идёт через отдельный клиент: long polling сам ждёт до UpdateConfig.Timeout.
type boundedClient struct {
	requests *http.Client
	polling  *http.Client
}

func newBoundedClient(timeout time.Duration) *boundedClient {
	if timeout <= 0 {
		timeout = constants.DEFAULT_TELEGRAM_TIMEOUT
	}
	return &boundedClient{
		requests: &http.Client{Timeout: timeout},
		polling:  &http.Client{},
	}
}

func (c *boundedClient) Do(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, "/getUpdates") {
		return c.polling.Do(req)
	}
	return c.requests.Do(req)
}

// NewBotClient авторизует бота и отключает вебхук, чтобы работал getUpdates.
// timeout ограничивает каждый вызов Bot API, кроме long polling.
func NewBotClient(token string, debug bool, timeout time.Duration, logger *zap.Logger) (*BotClient, error) {
	if token == "" {
		return nil, fmt.Errorf("токен Telegram API не предоставлен")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, newBoundedClient(timeout))
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Telegram Bot API: %w", err)
	}
	api.Debug = debug

	logger.Info("Авторизован как аккаунт бота", zap.String("username", api.Self.UserName))

	deleteWebhookConfig := tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: true,
	}
	if _, err = api.Request(deleteWebhookConfig); err != nil {
		// Ошибка возможна, если вебхука и не было.
		logger.Warn("Ошибка при отключении вебхука", zap.Error(err))
	} else {
		logger.Info("Вебхук отключен (или не был установлен)")
	}

	return &BotClient{api: api, Debug: debug, logger: logger}, nil
}

// GetUpdatesChan возвращает канал обновлений от Telegram.
func (bc *BotClient) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if bc.Debug {
		bc.logger.Debug("Запрос канала обновлений", zap.Int("timeout", config.Timeout))
	}
	return bc.api.GetUpdatesChan(config)
}

// StopReceivingUpdates останавливает long polling.
func (bc *BotClient) StopReceivingUpdates() {
	bc.api.StopReceivingUpdates()
}

// Send отправляет сообщение через BotClient.
func (bc *BotClient) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if bc == nil || bc.api == nil {
		return tgbotapi.Message{}, fmt.Errorf("BotClient или его API не инициализирован")
	}
	if bc.Debug {
		switch msg := c.(type) {
		case tgbotapi.MessageConfig:
			bc.logger.Debug("Отправка сообщения", zap.Int64("chat_id", msg.ChatID), zap.String("text", truncate(msg.Text, 50)))
		case tgbotapi.PhotoConfig:
			bc.logger.Debug("Отправка фото", zap.Int64("chat_id", msg.ChatID), zap.String("caption", truncate(msg.Caption, 50)))
		default:
			bc.logger.Debug("Отправка запроса", zap.String("type", fmt.Sprintf("%T", c)))
		}
	}
	return bc.api.Send(c)
}

// Request выполняет запрос через BotClient.
func (bc *BotClient) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if bc == nil || bc.api == nil {
		return nil, fmt.Errorf("BotClient или его API не инициализирован")
	}
	if bc.Debug {
		switch req := c.(type) {
		case tgbotapi.DeleteMessageConfig:
			bc.logger.Debug("Запрос на удаление", zap.Int64("chat_id", req.ChatID), zap.Int("message_id", req.MessageID))
		case tgbotapi.CallbackConfig:
			bc.logger.Debug("Ответ на коллбэк", zap.String("callback_id", req.CallbackQueryID), zap.String("text", req.Text))
		default:
			bc.logger.Debug("Выполнение запроса", zap.String("type", fmt.Sprintf("%T", c)))
		}
	}
	return bc.api.Request(c)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
