package api

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"FoodOrders/internal/orderflow"
	"FoodOrders/internal/payments"
)

// PaymentWebhook принимает уведомления YooKassa.
// Подпись проверяется по сырому телу до разбора JSON.
func (h *handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("PaymentWebhook: не удалось прочитать тело запроса", zap.Error(err))
		writeJSONError(w, http.StatusBadRequest, "Не удалось прочитать тело запроса")
		return
	}

	signature := r.Header.Get(h.deps.SignatureHeader)
	switch {
	case h.deps.WebhookSecret != "":
		if err := payments.VerifySignature(h.deps.WebhookSecret, signature, body); err != nil {
			h.logger.Warn("PaymentWebhook: подпись не прошла проверку", zap.String("remote", r.RemoteAddr))
			writeJSONError(w, http.StatusForbidden, "Подпись запроса не прошла проверку")
			return
		}
	case signature != "":
		// Подписанный запрос без секрета проверить нечем.
		h.logger.Warn("PaymentWebhook: получена подпись, но WEBHOOK_SECRET не задан", zap.String("remote", r.RemoteAddr))
		writeJSONError(w, http.StatusForbidden, "Подпись запроса не может быть проверена")
		return
	}

	notification, err := payments.ParseNotification(body)
	if err != nil {
		h.logger.Warn("PaymentWebhook: некорректный JSON", zap.Error(err))
		writeJSONError(w, http.StatusBadRequest, "Некорректный JSON")
		return
	}
	ev, err := notification.ToGatewayEvent(body)
	if err != nil {
		h.logger.Warn("PaymentWebhook: некорректное событие", zap.String("event", notification.Event), zap.Error(err))
		writeJSONError(w, http.StatusBadRequest, "Некорректное событие")
		return
	}

	outcome, err := h.deps.Reconciler.ApplyGatewayEvent(r.Context(), ev)
	if err != nil {
		if errors.Is(err, orderflow.ErrInvalidEvent) {
			h.logger.Warn("PaymentWebhook: событие без обязательных полей", zap.String("event", ev.Type), zap.Error(err))
			writeJSONError(w, http.StatusBadRequest, "Некорректное событие")
			return
		}
		if errors.Is(err, orderflow.ErrEventOutOfOrder) {
			h.logger.Warn("PaymentWebhook: событие пришло раньше оплаты, ждём повторной доставки",
				zap.String("event", ev.Type), zap.String("transaction_id", ev.TransactionID), zap.Error(err))
			writeJSONError(w, http.StatusServiceUnavailable, "Событие пока не может быть применено")
			return
		}
		// 5xx заставляет шлюз повторить доставку.
		h.logger.Error("PaymentWebhook: ошибка обработки события",
			zap.String("event", ev.Type), zap.String("transaction_id", ev.TransactionID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Внутренняя ошибка сервера")
		return
	}
	writeJSONSuccess(w, "ok", map[string]string{"outcome": string(outcome)})
}
