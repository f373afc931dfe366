package api

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/delivery"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
)

type quoteRequest struct {
	Address   string          `json:"address"`
	CartTotal decimal.Decimal `json:"cartTotal"`
	Method    string          `json:"method,omitempty"`
}

type createOrderRequest struct {
	CustomerChatID  int64           `json:"customer_chat_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	DeliveryMethod  string          `json:"delivery_method"`
	DeliveryAddress string          `json:"delivery_address"`
	// IssuePaymentLink - сразу создать платёж в шлюзе.
	IssuePaymentLink bool `json:"issue_payment_link,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Actor  string           `json:"actor"`
}

type paymentLinkRequest struct {
	ReturnURL string `json:"return_url,omitempty"`
}

// OrderDetails - ответ API чтения заказа.
type OrderDetails struct {
	Order   orderflow.OrderView         `json:"order"`
	History []models.OrderStatusHistory `json:"history"`
}

func normalizeMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return constants.DELIVERY_METHOD_COURIER
	}
	return method
}

func validMethod(method string) bool {
	return method == constants.DELIVERY_METHOD_COURIER || method == constants.DELIVERY_METHOD_PICKUP
}

// DeliveryQuote рассчитывает доставку для корзины. Ошибки адреса и геокодера
// возвращаются как valid=false с текстом для клиента.
func (h *handler) DeliveryQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	method := normalizeMethod(req.Method)
	if !validMethod(method) {
		writeJSONError(w, http.StatusBadRequest, "Неизвестный способ получения")
		return
	}
	setting, err := h.deps.Store.LoadDeliverySetting(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	result := h.deps.Calculator.ValidateForCheckout(r.Context(), setting, delivery.CheckoutRequest{
		Address:   req.Address,
		CartTotal: req.CartTotal,
		Method:    method,
	})
	writeJSON(w, http.StatusOK, result)
}

// CreateOrder оформляет заказ: проверяет доставку и сохраняет заказ с платежом на полную сумму.
func (h *handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.TotalAmount.IsPositive() {
		writeJSONError(w, http.StatusBadRequest, "Сумма заказа должна быть положительной")
		return
	}
	method := normalizeMethod(req.DeliveryMethod)
	if !validMethod(method) {
		writeJSONError(w, http.StatusBadRequest, "Неизвестный способ получения")
		return
	}

	ctx := r.Context()
	setting, err := h.deps.Store.LoadDeliverySetting(ctx)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	check := h.deps.Calculator.ValidateForCheckout(ctx, setting, delivery.CheckoutRequest{
		Address:   req.DeliveryAddress,
		CartTotal: req.TotalAmount,
		Method:    method,
	})
	if !check.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, jsonResponse{Status: "error", Message: check.Error, Data: check})
		return
	}

	order := models.Order{
		CustomerChatID:    req.CustomerChatID,
		TotalAmount:       req.TotalAmount,
		DeliveryMethod:    method,
		DeliveryZoneLabel: check.ZoneLabel,
	}
	if method == constants.DELIVERY_METHOD_COURIER {
		order.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)
	}
	if check.Cost != nil {
		order.DeliveryCost = *check.Cost
	}
	if check.DistanceKm != nil {
		order.DeliveryDistanceKm = *check.DistanceKm
	}
	payment := models.Payment{Amount: order.GrandTotal()}

	order, payment, err = h.deps.Store.CreateOrder(ctx, order, payment)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger.Info("Заказ оформлен",
		zap.Int64("order_id", order.ID), zap.String("code", order.Code),
		zap.String("amount", payment.Amount.String()), zap.String("method", method))

	if req.IssuePaymentLink {
		linked, err := h.deps.Reconciler.IssuePaymentLink(ctx, order.ID, h.deps.PaymentReturnURL)
		if err != nil {
			// Ссылку можно запросить повторно через /payment-link.
			h.logger.Warn("Не удалось создать ссылку на оплату", zap.Int64("order_id", order.ID), zap.Error(err))
		} else {
			payment = linked
			order.PaymentStatus = linked.Status
		}
	}

	writeJSON(w, http.StatusCreated, jsonResponse{Status: "success", Message: "Заказ создан", Data: orderflow.Describe(order, payment)})
}

// GetOrder возвращает заказ, его платёж и историю статусов.
func (h *handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	order, err := h.deps.Store.GetOrder(ctx, orderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if order.IsDeleted {
		writeJSONError(w, http.StatusNotFound, "Заказ не найден")
		return
	}
	payment, err := h.deps.Store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	history, err := h.deps.Store.ListStatusHistory(ctx, orderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if history == nil {
		history = []models.OrderStatusHistory{}
	}
	writeJSONSuccess(w, "", OrderDetails{Order: orderflow.Describe(order, payment), History: history})
}

// IssuePaymentLink выдаёт ссылку на оплату, переиспользуя действующую.
func (h *handler) IssuePaymentLink(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req paymentLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = h.deps.PaymentReturnURL
	}
	payment, err := h.deps.Reconciler.IssuePaymentLink(r.Context(), orderID, returnURL)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONSuccess(w, "Ссылка на оплату готова", map[string]string{
		"confirmation_url": payment.ConfirmationURL,
		"payment_status":   payment.Status,
	})
}

// ChangeOrderStatus - ручная смена статуса администратором.
func (h *handler) ChangeOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status == "" {
		writeJSONError(w, http.StatusBadRequest, "Не указан статус")
		return
	}
	order, err := h.deps.Machine.RequestTransition(r.Context(), orderID, req.Status, adminActor(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONSuccess(w, "Статус изменён", map[string]string{"status": order.Status, "payment_status": order.PaymentStatus})
}

// RefundOrder оформляет полный или частичный возврат.
func (h *handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	payment, err := h.deps.Reconciler.RequestRefund(ctx, orderID, req.Amount, adminActor(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	order, err := h.deps.Store.GetOrder(ctx, orderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSONSuccess(w, "Возврат оформлен", orderflow.Describe(order, payment))
}

func adminActor(name string) orderflow.Actor {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "admin-api"
	}
	return orderflow.Actor{Name: name, Role: constants.ROLE_ADMIN}
}
