package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"FoodOrders/internal/orderflow"
)

// YooKassaNotification представляет структуру входящего уведомления от ЮKassa.
type YooKassaNotification struct {
	Type   string          `json:"type"`   // e.g., "notification"
	Event  string          `json:"event"`  // e.g., "payment.succeeded"
	Object PaymentResponse `json:"object"` // Платёж, а для refund.* - возврат
}

// ParseNotification разбирает тело уведомления.
func ParseNotification(body []byte) (YooKassaNotification, error) {
	var n YooKassaNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return YooKassaNotification{}, fmt.Errorf("некорректное уведомление YooKassa: %w", err)
	}
	return n, nil
}

// ToGatewayEvent переводит уведомление в событие для сверки.
// Для возвратов TransactionID - ID исходного платежа, EventID - ID возврата.
func (n YooKassaNotification) ToGatewayEvent(raw []byte) (orderflow.GatewayEvent, error) {
	ev := orderflow.GatewayEvent{Type: n.Event, Payload: raw}

	var amount *decimal.Decimal
	if n.Object.Amount.Value != "" {
		v, err := n.Object.Amount.Decimal()
		if err != nil {
			return orderflow.GatewayEvent{}, fmt.Errorf("некорректная сумма в уведомлении: %w", err)
		}
		amount = &v
	}

	if strings.HasPrefix(n.Event, "refund.") {
		ev.TransactionID = n.Object.PaymentID
		ev.EventID = n.Object.ID
		ev.RefundAmount = amount
	} else {
		ev.TransactionID = n.Object.ID
		ev.Amount = amount
	}
	ev.OrderID = metadataOrderID(n.Object.Metadata)
	return ev, nil
}

// metadataOrderID достаёт order_id из metadata. 0, если его нет или он некорректен.
func metadataOrderID(metadata map[string]interface{}) int64 {
	switch v := metadata["order_id"].(type) {
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil && id > 0 {
			return id
		}
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return int64(v)
		}
	}
	return 0
}

// VerifySignature проверяет HMAC-SHA256 тела запроса. Подпись принимается
// в hex или base64, допускается префикс "sha256=".
func VerifySignature(secret, signature string, body []byte) error {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if secret == "" || signature == "" {
		return fmt.Errorf("%w: нет подписи или секрета", orderflow.ErrAuthenticationFailed)
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		provided, err = base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("%w: подпись не в hex и не в base64", orderflow.ErrAuthenticationFailed)
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return fmt.Errorf("%w: подпись не совпадает", orderflow.ErrAuthenticationFailed)
	}
	return nil
}

// Sign вычисляет hex-подпись тела. Используется в тестах и при отладке вебхуков.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
