package telegram_api

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
	"FoodOrders/internal/utils"
)

// photoSuffix помечает ссылку на сообщение-картинку: у него редактируется подпись, а не текст.
const photoSuffix = "photo"

// Messenger реализует orderflow.Messenger поверх Bot API.
// Ссылка на сообщение: "chatID:messageID" или "chatID:messageID:photo".
type Messenger struct {
	bot    Sender
	logger *zap.Logger
}

var _ orderflow.Messenger = (*Messenger)(nil)

// NewMessenger создаёт Messenger.
func NewMessenger(bot Sender, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{bot: bot, logger: logger}
}

// MessageRef - разобранная ссылка на сообщение.
type MessageRef struct {
	ChatID    int64
	MessageID int
	Photo     bool
}

func (r MessageRef) String() string {
	ref := fmt.Sprintf("%d:%d", r.ChatID, r.MessageID)
	if r.Photo {
		ref += ":" + photoSuffix
	}
	return ref
}

// ParseMessageRef разбирает ссылку, выданную Send.
func ParseMessageRef(ref string) (MessageRef, error) {
	parts := strings.Split(ref, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return MessageRef{}, fmt.Errorf("некорректная ссылка на сообщение %q", ref)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return MessageRef{}, fmt.Errorf("некорректный chat id в ссылке %q: %w", ref, err)
	}
	msgID, err := strconv.Atoi(parts[1])
	if err != nil || msgID <= 0 {
		return MessageRef{}, fmt.Errorf("некорректный message id в ссылке %q", ref)
	}
	out := MessageRef{ChatID: chatID, MessageID: msgID}
	if len(parts) == 3 {
		if parts[2] != photoSuffix {
			return MessageRef{}, fmt.Errorf("некорректный тип сообщения в ссылке %q", ref)
		}
		out.Photo = true
	}
	return out, nil
}

// Send отправляет текст или, если задан QRPayload, картинку с QR-кодом и подписью.
func (m *Messenger) Send(ctx context.Context, recipientID int64, msg models.OutboundMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	keyboard := BuildKeyboard(msg.Buttons)

	if msg.QRPayload != "" {
		png, err := utils.GenerateQRCode(msg.QRPayload)
		if err != nil {
			m.logger.Warn("Не удалось создать QR-код, отправляем текстом", zap.Int64("chat_id", recipientID), zap.Error(err))
		} else {
			photo := tgbotapi.NewPhoto(recipientID, tgbotapi.FileBytes{Name: "payment_qr.png", Bytes: png})
			photo.Caption = msg.Text
			if keyboard != nil {
				photo.ReplyMarkup = *keyboard
			}
			sent, err := m.bot.Send(photo)
			if err != nil {
				return "", fmt.Errorf("ошибка отправки фото в чат %d: %w", recipientID, err)
			}
			return MessageRef{ChatID: recipientID, MessageID: sent.MessageID, Photo: true}.String(), nil
		}
	}

	out := tgbotapi.NewMessage(recipientID, msg.Text)
	if keyboard != nil {
		out.ReplyMarkup = *keyboard
	}
	sent, err := m.bot.Send(out)
	if err != nil {
		return "", fmt.Errorf("ошибка отправки сообщения в чат %d: %w", recipientID, err)
	}
	m.logger.Debug("Отправлено сообщение", zap.Int64("chat_id", recipientID), zap.Int("message_id", sent.MessageID))
	return MessageRef{ChatID: recipientID, MessageID: sent.MessageID}.String(), nil
}

// Edit меняет текст (или подпись картинки) и клавиатуру существующего сообщения.
func (m *Messenger) Edit(ctx context.Context, messageRef string, msg models.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := ParseMessageRef(messageRef)
	if err != nil {
		return err
	}
	keyboard := BuildKeyboard(msg.Buttons)

	var req tgbotapi.Chattable
	if ref.Photo {
		edit := tgbotapi.NewEditMessageCaption(ref.ChatID, ref.MessageID, msg.Text)
		edit.ReplyMarkup = keyboard
		req = edit
	} else if keyboard != nil {
		req = tgbotapi.NewEditMessageTextAndMarkup(ref.ChatID, ref.MessageID, msg.Text, *keyboard)
	} else {
		req = tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, msg.Text)
	}

	if _, err := m.bot.Request(req); err != nil {
		// Содержимое не изменилось - для нас это успех.
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("ошибка редактирования сообщения %s: %w", messageRef, err)
	}
	return nil
}

// Delete удаляет сообщение. Уже удалённое сообщение не считается ошибкой.
func (m *Messenger) Delete(ctx context.Context, messageRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := ParseMessageRef(messageRef)
	if err != nil {
		return err
	}
	if _, err := m.bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		if strings.Contains(err.Error(), "message to delete not found") {
			return nil
		}
		return fmt.Errorf("ошибка удаления сообщения %s: %w", messageRef, err)
	}
	return nil
}

// BuildKeyboard переводит кнопки уведомления в inline-клавиатуру. nil, если кнопок нет.
func BuildKeyboard(buttons [][]models.Button) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var out []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			switch b.Kind {
			case models.ButtonCallback:
				out = append(out, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			case models.ButtonOpenURL:
				out = append(out, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.Data))
			case models.ButtonOpenChat:
				out = append(out, tgbotapi.NewInlineKeyboardButtonURL(b.Text, chatLink(b.Data)))
			}
		}
		if len(out) > 0 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(out...))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &keyboard
}

// chatLink - ссылка на чат по username или числовому ID пользователя.
func chatLink(chat string) string {
	chat = strings.TrimPrefix(strings.TrimSpace(chat), "@")
	if _, err := strconv.ParseInt(chat, 10, 64); err == nil {
		return "tg://user?id=" + chat
	}
	return "https://t.me/" + chat
}
