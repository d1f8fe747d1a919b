package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
)

// SimulatedGateway stands in for the bank partner in local development.
// It introduces a short delay and fails a configurable fraction of calls
// so retry and reconciliation paths can be exercised without a partner
// sandbox.
type SimulatedGateway struct {
	// FailureRate is the probability of a retryable failure (0.0 to 1.0).
	FailureRate float64
	// Latency bounds the simulated network delay.
	Latency time.Duration

	mu       sync.Mutex
	statuses map[string]string
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		FailureRate: 0.1,
		Latency:     500 * time.Millisecond,
		statuses:    make(map[string]string),
	}
}

func (g *SimulatedGateway) Submit(ctx context.Context, app *domain.MerchantApplication, upiIdentifiers []string) (*SubmitResult, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}
	if rand.Float64() < g.FailureRate {
		return nil, &domain.ExternalAPIError{Kind: domain.ExternalKindUnavailable, Message: "simulated partner unavailable"}
	}

	applicationID := fmt.Sprintf("BANK-%s-%05d", time.Now().Format("20060102"), rand.Intn(100000))
	g.mu.Lock()
	g.statuses[applicationID] = PartnerStatusProcessing
	g.mu.Unlock()

	return &SubmitResult{
		ApplicationID:           applicationID,
		EstimatedProcessingTime: 48 * time.Hour,
	}, nil
}

func (g *SimulatedGateway) VerifyWebhook(payload []byte) bool {
	return verifyWebhookShape(payload)
}

func (g *SimulatedGateway) GetApplicationStatus(ctx context.Context, applicationID string) (string, error) {
	if err := g.sleep(ctx); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[applicationID]
	if !ok {
		return "", &domain.ExternalAPIError{Kind: domain.ExternalKindRejected, PartnerCode: "NOT_FOUND", Message: "unknown application id"}
	}
	return status, nil
}

// SetStatus lets tests and dev tooling drive the simulated decision.
func (g *SimulatedGateway) SetStatus(applicationID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[applicationID] = status
}

func (g *SimulatedGateway) sleep(ctx context.Context) error {
	if g.Latency <= 0 {
		return nil
	}
	delay := time.Duration(rand.Int63n(int64(g.Latency)))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return &domain.ExternalAPIError{Kind: domain.ExternalKindBadGateway, Message: "simulated call aborted", Err: ctx.Err()}
	}
}
