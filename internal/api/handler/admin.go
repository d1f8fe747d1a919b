package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/ayo6706/merchant-onboarding/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminHandler serves the review surface: listing, validation with the
// bank submission, and the manual override transitions.
type AdminHandler struct {
	onboarding *service.OnboardingService
}

func NewAdminHandler(onboarding *service.OnboardingService) *AdminHandler {
	return &AdminHandler{onboarding: onboarding}
}

// ListMerchants handles GET /v1/admin/merchants?status=.
func (h *AdminHandler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	var status *domain.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseStatus(raw)
		if err != nil {
			RespondDomainError(w, r, err)
			return
		}
		status = &parsed
	}

	apps, err := h.onboarding.List(r.Context(), status)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	if apps == nil {
		apps = []domain.MerchantApplication{}
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"merchants": apps})
}

// GetMerchant handles GET /v1/admin/merchants/{id}.
func (h *AdminHandler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	app, err := h.onboarding.GetByID(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	events, err := h.onboarding.History(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.StatusEvent{}
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"merchant": app,
		"history":  events,
	})
}

// Validate handles POST /v1/admin/merchants/{id}/validate: moves the
// application into validating and submits it to the bank partner.
func (h *AdminHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	actorID, isAdmin, err := requestActor(r)
	if err != nil || !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "admin role required")
		return
	}

	app, err := h.onboarding.Validate(r.Context(), id, actorID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, app)
}

// OverrideApprove handles POST /v1/admin/merchants/{id}/approve.
func (h *AdminHandler) OverrideApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	actorID, isAdmin, err := requestActor(r)
	if err != nil || !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "admin role required")
		return
	}

	app, err := h.onboarding.OverrideApprove(r.Context(), id, actorID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, app)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /v1/admin/merchants/{id}/reject.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.merchantID(w, r)
	if !ok {
		return
	}
	actorID, isAdmin, err := requestActor(r)
	if err != nil || !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "admin role required")
		return
	}

	var req rejectRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	app, err := h.onboarding.Reject(r.Context(), id, actorID, req.Reason)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, app)
}

func (h *AdminHandler) merchantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "merchant id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
