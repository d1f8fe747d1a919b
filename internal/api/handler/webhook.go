package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/ayo6706/merchant-onboarding/internal/gateway"
	"github.com/ayo6706/merchant-onboarding/internal/service"
	"go.uber.org/zap"
)

const (
	headerWebhookSignature = "X-Webhook-Signature"
	headerWebhookTimestamp = "X-Webhook-Timestamp"
)

// WebhookHandler receives decision callbacks from the bank partner.
// Responses follow the partner contract, not RFC 7807: the partner
// retries anything that is not a prompt 200.
type WebhookHandler struct {
	auth       *service.WebhookAuthenticator
	bank       gateway.BankGateway
	onboarding *service.OnboardingService
	logger     *zap.Logger
}

func NewWebhookHandler(auth *service.WebhookAuthenticator, bank gateway.BankGateway, onboarding *service.OnboardingService, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &WebhookHandler{auth: auth, bank: bank, onboarding: onboarding, logger: logger}
}

type webhookDecision struct {
	Approved      bool   `json:"approved"`
	Reason        string `json:"reason,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	MerchantCode  string `json:"merchantCode,omitempty"`
}

type webhookPayload struct {
	ApplicationID string          `json:"applicationId"`
	MerchantID    string          `json:"merchantId"`
	Status        string          `json:"status"`
	Decision      webhookDecision `json:"decision"`
	ProcessedAt   string          `json:"processedAt"`
}

type webhookResponse struct {
	Success bool          `json:"success"`
	Error   *webhookError `json:"error,omitempty"`
}

type webhookError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleBankDecision handles POST /webhooks/bank. The cryptographic gate
// runs before anything parses the payload; the structural check is
// defense in depth on top of it.
func (h *WebhookHandler) HandleBankDecision(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "MALFORMED_WEBHOOK_PAYLOAD", "failed to read request body")
		return
	}

	if err := h.auth.Authenticate(body, r.Header.Get(headerWebhookSignature), r.Header.Get(headerWebhookTimestamp)); err != nil {
		code := "UNAUTHORIZED"
		var authErr *service.AuthError
		if errors.As(err, &authErr) {
			code = authErr.Code
		}
		h.respondError(w, http.StatusUnauthorized, code, "webhook authentication failed")
		return
	}

	if !h.bank.VerifyWebhook(body) {
		h.respondError(w, http.StatusBadRequest, "MALFORMED_WEBHOOK_PAYLOAD", "payload is missing required fields")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.respondError(w, http.StatusBadRequest, "MALFORMED_WEBHOOK_PAYLOAD", "payload is not valid JSON")
		return
	}

	cb := domain.DecisionCallback{
		ApplicationID: payload.ApplicationID,
		MerchantID:    payload.MerchantID,
		Approved:      payload.Decision.Approved,
		Reason:        payload.Decision.Reason,
		AccountNumber: payload.Decision.AccountNumber,
		MerchantCode:  payload.Decision.MerchantCode,
	}
	if ts, err := time.Parse(time.RFC3339, payload.ProcessedAt); err == nil {
		cb.ProcessedAt = ts
	}

	outcome, err := h.onboarding.ApplyDecision(r.Context(), cb)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "APPLICATION_NOT_FOUND", "no application matches the supplied id")
		case errors.Is(err, domain.ErrAppIDMismatch):
			h.respondError(w, http.StatusBadRequest, "APPLICATION_ID_MISMATCH", "application id does not match our records")
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
			h.respondError(w, http.StatusConflict, "DECISION_STATE_MISMATCH", "decision does not match the application state")
		default:
			h.logger.Error("webhook processing failed", zap.Error(err))
			h.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to process decision")
		}
		return
	}

	if !outcome.Applied {
		h.logger.Info("webhook replay acknowledged",
			zap.String("bank_application_id", payload.ApplicationID),
		)
	}
	RespondJSON(w, http.StatusOK, webhookResponse{Success: true})
}

func (h *WebhookHandler) respondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, webhookResponse{
		Success: false,
		Error:   &webhookError{Code: code, Message: message},
	})
}
