package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"go.uber.org/zap"
)

const defaultSubmitTimeout = 30 * time.Second

// HTTPBankGateway talks to the bank partner's merchant application API.
type HTTPBankGateway struct {
	baseURL     string
	bearerToken string
	callbackURL string
	client      *http.Client
	logger      *zap.Logger
}

func NewHTTPBankGateway(baseURL, bearerToken, callbackURL string, timeout time.Duration, logger *zap.Logger) *HTTPBankGateway {
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	if logger == nil {
		logger = zap.L()
	}
	return &HTTPBankGateway{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		bearerToken: bearerToken,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type submitRequest struct {
	BusinessName       string   `json:"businessName"`
	LegalName          string   `json:"legalName"`
	RegistrationNumber string   `json:"registrationNumber"`
	TaxID              string   `json:"taxId"`
	ContactEmail       string   `json:"contactEmail"`
	Address            address  `json:"address"`
	MonthlyVolume      string   `json:"monthlyVolume"`
	DocumentRefs       []string `json:"documentRefs,omitempty"`
	UPIIdentifiers     []string `json:"upiIdentifiers"`
	MerchantRef        string   `json:"merchantRef"`
	CallbackURL        string   `json:"callbackUrl"`
}

type address struct {
	Line       string `json:"line"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

type submitResponse struct {
	ApplicationID           string `json:"applicationId"`
	EstimatedProcessingTime string `json:"estimatedProcessingTime"`
}

type partnerError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit posts the normalized application payload to the partner and
// classifies any failure for the caller's retry policy.
func (g *HTTPBankGateway) Submit(ctx context.Context, app *domain.MerchantApplication, upiIdentifiers []string) (*SubmitResult, error) {
	payload := submitRequest{
		BusinessName:       app.BusinessName,
		LegalName:          app.LegalName,
		RegistrationNumber: app.RegistrationNumber,
		TaxID:              app.TaxID,
		ContactEmail:       app.ContactEmail,
		Address: address{
			Line:       app.AddressLine,
			City:       app.City,
			Country:    app.Country,
			PostalCode: app.PostalCode,
		},
		MonthlyVolume:  app.MonthlyVolume.String(),
		DocumentRefs:   app.DocumentRefs,
		UPIIdentifiers: upiIdentifiers,
		MerchantRef:    app.ID.String(),
		CallbackURL:    g.callbackURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal submit payload: %w", err)
	}

	respBody, status, err := g.do(ctx, http.MethodPost, "/merchant-applications", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return nil, g.classifyStatus(status, respBody)
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &domain.ExternalAPIError{Kind: domain.ExternalKindBadGateway, Message: "malformed partner response", Err: err}
	}
	if resp.ApplicationID == "" {
		return nil, &domain.ExternalAPIError{Kind: domain.ExternalKindBadGateway, Message: "partner response missing applicationId"}
	}

	estimate, _ := time.ParseDuration(resp.EstimatedProcessingTime)
	return &SubmitResult{ApplicationID: resp.ApplicationID, EstimatedProcessingTime: estimate}, nil
}

// VerifyWebhook checks the payload carries every required field.
func (g *HTTPBankGateway) VerifyWebhook(payload []byte) bool {
	return verifyWebhookShape(payload)
}

type statusResponse struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
}

// GetApplicationStatus polls the partner's read-only status endpoint.
// Safe to call repeatedly; the partner treats it as a pure read.
func (g *HTTPBankGateway) GetApplicationStatus(ctx context.Context, applicationID string) (string, error) {
	respBody, status, err := g.do(ctx, http.MethodGet, "/merchant-applications/"+applicationID+"/status", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", g.classifyStatus(status, respBody)
	}

	var resp statusResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &domain.ExternalAPIError{Kind: domain.ExternalKindBadGateway, Message: "malformed partner status response", Err: err}
	}
	return strings.ToLower(resp.Status), nil
}

func (g *HTTPBankGateway) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build partner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.bearerToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, g.classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, &domain.ExternalAPIError{Kind: domain.ExternalKindBadGateway, Message: "read partner response", Err: err}
	}
	return respBody, resp.StatusCode, nil
}

// classifyTransport maps connection-level failures onto the retryable
// error kinds. An aborted call is an unknown outcome, reconciled later
// via GetApplicationStatus.
func (g *HTTPBankGateway) classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return &domain.ExternalAPIError{Kind: domain.ExternalKindBadGateway, Message: "partner call aborted, outcome unknown", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ExternalAPIError{Kind: domain.ExternalKindTimeout, Message: "partner call timed out", Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &domain.ExternalAPIError{Kind: domain.ExternalKindTimeout, Message: "partner call timed out", Err: err}
	case isConnectionRefused(err):
		return &domain.ExternalAPIError{Kind: domain.ExternalKindUnavailable, Message: "partner unavailable", Err: err}
	default:
		return &domain.ExternalAPIError{Kind: domain.ExternalKindBadGateway, Message: "partner call failed", Err: err}
	}
}

func (g *HTTPBankGateway) classifyStatus(status int, body []byte) error {
	var perr partnerError
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Code != "" {
		// The raw partner message goes to logs only, never to end users.
		g.logger.Warn("bank partner rejected request",
			zap.Int("status", status),
			zap.String("partner_code", perr.Error.Code),
			zap.String("partner_message", perr.Error.Message),
		)
		return &domain.ExternalAPIError{
			Kind:        domain.ExternalKindRejected,
			PartnerCode: perr.Error.Code,
			Message:     perr.Error.Message,
		}
	}

	kind := domain.ExternalKindBadGateway
	if status == http.StatusServiceUnavailable || status == http.StatusBadGateway {
		kind = domain.ExternalKindUnavailable
	}
	if status == http.StatusGatewayTimeout {
		kind = domain.ExternalKindTimeout
	}
	return &domain.ExternalAPIError{Kind: kind, Message: fmt.Sprintf("partner returned HTTP %d", status)}
}

func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(err.Error(), "connection refused")
}

// verifyWebhookShape is shared with the simulated gateway so both
// implementations enforce the same structural contract.
func verifyWebhookShape(payload []byte) bool {
	var cb struct {
		ApplicationID string          `json:"applicationId"`
		MerchantID    string          `json:"merchantId"`
		Status        string          `json:"status"`
		Decision      json.RawMessage `json:"decision"`
		ProcessedAt   string          `json:"processedAt"`
	}
	if err := json.Unmarshal(payload, &cb); err != nil {
		return false
	}
	if cb.ApplicationID == "" || cb.MerchantID == "" || cb.Status == "" || len(cb.Decision) == 0 {
		return false
	}
	var decision struct {
		Approved *bool `json:"approved"`
	}
	if err := json.Unmarshal(cb.Decision, &decision); err != nil {
		return false
	}
	return decision.Approved != nil
}
