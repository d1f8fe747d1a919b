package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testApplication() *domain.MerchantApplication {
	return &domain.MerchantApplication{
		ID:                 uuid.New(),
		OwnerID:            uuid.New(),
		Status:             domain.StatusValidating,
		BusinessName:       "Chai Point",
		LegalName:          "Chai Point Pvt Ltd",
		RegistrationNumber: "REG-42",
		TaxID:              "TAX-42",
		ContactEmail:       "owner@chaipoint.example",
		AddressLine:        "12 MG Road",
		City:               "Bengaluru",
		Country:            "IN",
		PostalCode:         "560001",
		MonthlyVolume:      decimal.NewFromInt(250000),
		DocumentRefs:       []string{"doc://pan"},
	}
}

func TestSubmitSuccess(t *testing.T) {
	app := testApplication()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/merchant-applications", r.URL.Path)
		assert.Equal(t, "Bearer partner-token", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, app.ID.String(), req["merchantRef"])
		assert.Equal(t, "https://onboarding.example/webhooks/bank", req["callbackUrl"])
		assert.Equal(t, "250000", req["monthlyVolume"])
		assert.NotEmpty(t, req["upiIdentifiers"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"applicationId":           "BANK-20260828-00042",
			"estimatedProcessingTime": "48h",
		})
	}))
	defer server.Close()

	g := NewHTTPBankGateway(server.URL, "partner-token", "https://onboarding.example/webhooks/bank", 5*time.Second, zap.NewNop())
	result, err := g.Submit(context.Background(), app, []string{"chai-point@payments"})
	require.NoError(t, err)
	assert.Equal(t, "BANK-20260828-00042", result.ApplicationID)
	assert.Equal(t, 48*time.Hour, result.EstimatedProcessingTime)
}

func TestSubmitStructuredRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"code":    "INVALID_TAX_ID",
				"message": "tax id failed verification",
			},
		})
	}))
	defer server.Close()

	g := NewHTTPBankGateway(server.URL, "tok", "", 5*time.Second, zap.NewNop())
	_, err := g.Submit(context.Background(), testApplication(), nil)

	var extErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, domain.ExternalKindRejected, extErr.Kind)
	assert.Equal(t, "INVALID_TAX_ID", extErr.PartnerCode)
	assert.False(t, extErr.Retryable())
}

func TestSubmitTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	g := NewHTTPBankGateway(server.URL, "tok", "", 20*time.Millisecond, zap.NewNop())
	_, err := g.Submit(context.Background(), testApplication(), nil)

	var extErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, domain.ExternalKindTimeout, extErr.Kind)
	assert.True(t, extErr.Retryable())
}

func TestSubmitUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := NewHTTPBankGateway(server.URL, "tok", "", 5*time.Second, zap.NewNop())
	_, err := g.Submit(context.Background(), testApplication(), nil)

	var extErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, domain.ExternalKindUnavailable, extErr.Kind)
	assert.True(t, extErr.Retryable())
}

func TestSubmitConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listens anymore

	g := NewHTTPBankGateway(server.URL, "tok", "", time.Second, zap.NewNop())
	_, err := g.Submit(context.Background(), testApplication(), nil)

	var extErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, domain.ExternalKindUnavailable, extErr.Kind)
}

func TestSubmitAbortedOutcomeUnknown(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	g := NewHTTPBankGateway(server.URL, "tok", "", 5*time.Second, zap.NewNop())
	_, err := g.Submit(ctx, testApplication(), nil)

	var extErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, domain.ExternalKindBadGateway, extErr.Kind)
	assert.Contains(t, extErr.Message, "outcome unknown")
}

func TestSubmitMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"applicationId":""}`))
	}))
	defer server.Close()

	g := NewHTTPBankGateway(server.URL, "tok", "", 5*time.Second, zap.NewNop())
	_, err := g.Submit(context.Background(), testApplication(), nil)

	var extErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, domain.ExternalKindBadGateway, extErr.Kind)
}

func TestGetApplicationStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/merchant-applications/BANK-1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"applicationId": "BANK-1",
			"status":        "APPROVED",
		})
	}))
	defer server.Close()

	g := NewHTTPBankGateway(server.URL, "tok", "", 5*time.Second, zap.NewNop())
	status, err := g.GetApplicationStatus(context.Background(), "BANK-1")
	require.NoError(t, err)
	assert.Equal(t, PartnerStatusApproved, status)
}

func TestVerifyWebhookShape(t *testing.T) {
	g := NewHTTPBankGateway("http://partner.example", "tok", "", 0, zap.NewNop())

	valid := `{
		"applicationId": "BANK-1",
		"merchantId": "b7f4e7de-0000-0000-0000-000000000000",
		"status": "approved",
		"decision": {"approved": true, "accountNumber": "ACC-1"},
		"processedAt": "2026-08-28T10:00:00Z"
	}`
	assert.True(t, g.VerifyWebhook([]byte(valid)))

	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `plainly not json`},
		{"missing applicationId", `{"merchantId":"m","status":"approved","decision":{"approved":true}}`},
		{"missing merchantId", `{"applicationId":"BANK-1","status":"approved","decision":{"approved":true}}`},
		{"missing status", `{"applicationId":"BANK-1","merchantId":"m","decision":{"approved":true}}`},
		{"missing decision", `{"applicationId":"BANK-1","merchantId":"m","status":"approved"}`},
		{"decision without approved", `{"applicationId":"BANK-1","merchantId":"m","status":"approved","decision":{"reason":"x"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, g.VerifyWebhook([]byte(tc.payload)))
		})
	}
}

func TestSimulatedGatewayRoundTrip(t *testing.T) {
	g := NewSimulatedGateway()
	g.FailureRate = 0
	g.Latency = 0

	result, err := g.Submit(context.Background(), testApplication(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.ApplicationID)

	status, err := g.GetApplicationStatus(context.Background(), result.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, PartnerStatusProcessing, status)

	g.SetStatus(result.ApplicationID, PartnerStatusApproved)
	status, err = g.GetApplicationStatus(context.Background(), result.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, PartnerStatusApproved, status)
}
