package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ayo6706/merchant-onboarding/internal/service"
)

// MerchantHandler serves the owner-facing application endpoints.
type MerchantHandler struct {
	onboarding *service.OnboardingService
}

func NewMerchantHandler(onboarding *service.OnboardingService) *MerchantHandler {
	return &MerchantHandler{onboarding: onboarding}
}

// CreateMerchant handles POST /v1/merchants.
func (h *MerchantHandler) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", err.Error())
		return
	}

	var input service.CreateMerchantInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return
	}

	app, err := h.onboarding.CreateDraft(r.Context(), ownerID, input)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, app)
}

// GetOwnMerchant handles GET /v1/merchants/me.
func (h *MerchantHandler) GetOwnMerchant(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", err.Error())
		return
	}

	app, err := h.onboarding.GetByOwner(r.Context(), ownerID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, app)
}

// SubmitForReview handles POST /v1/merchants/submit: draft or rejected
// applications move to submitted.
func (h *MerchantHandler) SubmitForReview(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", err.Error())
		return
	}

	app, err := h.onboarding.SubmitForReview(r.Context(), ownerID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, app)
}
