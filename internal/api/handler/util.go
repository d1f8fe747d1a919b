package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/merchant-onboarding/internal/api/middleware"
	"github.com/ayo6706/merchant-onboarding/internal/api/problem"
	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/google/uuid"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an RFC 7807 error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondDomainError maps the error taxonomy onto HTTP semantics: client
// errors are 4xx with stable codes, partner errors are 502, invariant
// violations are 500. Raw partner messages never reach the response.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var extErr *domain.ExternalAPIError
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		RespondError(w, r, http.StatusBadRequest, "merchant/invalid-transition", err.Error())
	case errors.Is(err, domain.ErrUnknownStatus):
		RespondError(w, r, http.StatusBadRequest, "merchant/unknown-status", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "merchant/not-found", "merchant application not found")
	case errors.Is(err, domain.ErrOwnerHasMerchant):
		RespondError(w, r, http.StatusConflict, "merchant/owner-has-application", "owner already has a merchant application")
	case errors.Is(err, domain.ErrConflict):
		RespondError(w, r, http.StatusConflict, "merchant/conflict", "application was updated concurrently, retry with current state")
	case errors.Is(err, domain.ErrUnauthorized):
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "unauthorized")
	case errors.As(err, &extErr):
		if extErr.Kind == domain.ExternalKindRejected {
			RespondError(w, r, http.StatusBadGateway, "partner/rejected", "bank partner rejected the submission; contact support")
			return
		}
		RespondError(w, r, http.StatusBadGateway, "partner/unavailable", "bank partner is unavailable, retry later")
	case errors.Is(err, domain.ErrInvariant):
		RespondError(w, r, http.StatusInternalServerError, "internal/invariant", "internal inconsistency detected")
	default:
		RespondError(w, r, http.StatusBadRequest, "request/invalid", err.Error())
	}
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == middleware.RoleAdmin, nil
}
