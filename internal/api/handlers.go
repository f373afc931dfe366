package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"FoodOrders/internal/delivery"
	"FoodOrders/internal/orderflow"
)

// maxBodyBytes ограничивает размер тела запроса.
const maxBodyBytes = 1 << 20

// jsonResponse - стандартная структура для JSON ответов API.
type jsonResponse struct {
	Status  string      `json:"status"` // "success" или "error"
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, jsonResponse{Status: "error", Message: message})
}

func writeJSONSuccess(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, jsonResponse{Status: "success", Message: message, Data: data})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// errorStatus сопоставляет доменные ошибки с HTTP-статусами.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, orderflow.ErrAmountExceeded):
		return http.StatusUnprocessableEntity, "Сумма возврата превышает остаток по платежу"
	case errors.Is(err, orderflow.ErrInvalidTransition):
		return http.StatusConflict, "Этот статус сейчас нельзя установить"
	case errors.Is(err, orderflow.ErrInvalidState):
		return http.StatusConflict, "Операция недоступна в текущем статусе платежа"
	case errors.Is(err, orderflow.ErrAuthenticationFailed):
		return http.StatusForbidden, "Подпись запроса не прошла проверку"
	case errors.Is(err, orderflow.ErrOrderNotFound), errors.Is(err, orderflow.ErrPaymentNotFound):
		return http.StatusNotFound, "Заказ не найден"
	case errors.Is(err, orderflow.ErrInvalidEvent):
		return http.StatusBadRequest, "Некорректное событие"
	case errors.Is(err, orderflow.ErrEventOutOfOrder):
		return http.StatusServiceUnavailable, "Событие пришло раньше оплаты, повторите доставку"
	case errors.Is(err, orderflow.ErrGatewayUnavailable):
		return http.StatusBadGateway, "Платёжный сервис недоступен, попробуйте позже"
	case errors.Is(err, delivery.ErrProviderUnavailable):
		return http.StatusBadGateway, "Сервис геокодирования недоступен"
	default:
		return http.StatusInternalServerError, "Внутренняя ошибка сервера"
	}
}

// writeDomainError пишет ответ по доменной ошибке. 5xx логируются как ошибки.
func (h *handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.Info("Запрос отклонён", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSONError(w, status, message)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("не удалось прочитать тело запроса: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	return nil
}

func orderIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("некорректный ID заказа")
	}
	return id, nil
}
