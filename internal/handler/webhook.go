package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digitalshopbot/shopbot/internal/domain"
	"github.com/digitalshopbot/shopbot/internal/logging"
)

type settlementService interface {
	ConfirmExternalPayment(ctx context.Context, orderID uuid.UUID, providerPaymentID string) (*domain.Order, error)
}

type orderGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

// WebhookHandler receives payment confirmations from the external provider.
// The provider retries until it sees a 2xx, so every duplicate must answer
// success without settling twice.
type WebhookHandler struct {
	settlement settlementService
	orders     orderGetter
	secret     string
	validate   *validator.Validate
}

func NewWebhookHandler(settlement settlementService, orders orderGetter, secret string) *WebhookHandler {
	return &WebhookHandler{
		settlement: settlement,
		orders:     orders,
		secret:     secret,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

type paymentWebhookPayload struct {
	OrderID           string `json:"order_id" validate:"required,uuid4"`
	ProviderPaymentID string `json:"provider_payment_id" validate:"required,min=1,max=128"`
	Amount            string `json:"amount" validate:"required"`
	Status            string `json:"status" validate:"required,oneof=succeeded failed"`
}

func (h *WebhookHandler) ReceivePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload paymentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := h.validatePayload(payload); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "order_id", Message: "must be a valid UUID"}})
		return
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must be a decimal number"}})
		return
	}

	if payload.Status == "failed" {
		log.Info("provider reported failed payment", "order_id", orderID, "provider_payment_id", payload.ProviderPaymentID)
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}

	order, err := h.orders.GetByID(r.Context(), orderID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if !order.TotalAmount.Equal(amount) {
		log.Warn("webhook amount mismatch",
			"order_id", orderID,
			"expected", order.TotalAmount,
			"got", amount,
		)
		RespondAppError(w, ErrAmountMismatch, nil)
		return
	}

	_, err = h.settlement.ConfirmExternalPayment(r.Context(), orderID, payload.ProviderPaymentID)
	switch {
	case err == nil:
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "processed"})
	case errors.Is(err, domain.ErrDuplicateConfirmation):
		log.Info("duplicate payment confirmation",
			"order_id", orderID,
			"provider_payment_id", payload.ProviderPaymentID,
		)
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_processed"})
	case errors.Is(err, domain.ErrDeliveryFailed):
		// Money settled; do not invite a provider retry over delivery.
		log.Error("settlement succeeded but delivery failed", "order_id", orderID, "error", err)
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "processed_delivery_pending"})
	default:
		RespondDomainError(w, err)
	}
}

func (h *WebhookHandler) validatePayload(p paymentWebhookPayload) []FieldError {
	err := h.validate.Struct(p)
	if err == nil {
		return nil
	}

	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return []FieldError{{Field: "payload", Message: "invalid"}}
	}

	fields := make([]FieldError, 0, len(invalid))
	for _, fe := range invalid {
		fields = append(fields, FieldError{Field: fe.Field(), Message: fe.Tag()})
	}
	return fields
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
