package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment - платёж по заказу. Ровно один на заказ.
// TransactionID пуст, пока в шлюзе не создана транзакция.
type Payment struct {
	ID               int64           `json:"id" db:"id"`
	OrderID          int64           `json:"order_id" db:"order_id"`
	Status           string          `json:"status" db:"status"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount" db:"refunded_amount"`
	TransactionID    NullString      `json:"transaction_id" db:"transaction_id"`
	ConfirmationURL  string          `json:"confirmation_url,omitempty" db:"confirmation_url"`
	ProviderResponse JSONB           `json:"provider_response,omitempty" db:"provider_response"`
	PaidAt           NullTime        `json:"paid_at" db:"paid_at"`
	RefundedAt       NullTime        `json:"refunded_at" db:"refunded_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Refundable - остаток, который ещё можно вернуть.
func (p Payment) Refundable() decimal.Decimal {
	rest := p.Amount.Sub(p.RefundedAmount)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// ProcessedGatewayEvent - запись журнала обработанных событий шлюза.
// EventID заполняется для событий возврата (ID возврата в шлюзе).
type ProcessedGatewayEvent struct {
	TransactionID string    `db:"transaction_id"`
	EventType     string    `db:"event_type"`
	EventID       string    `db:"event_id"`
	ProcessedAt   time.Time `db:"processed_at"`
}
