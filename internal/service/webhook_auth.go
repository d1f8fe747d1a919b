package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"go.uber.org/zap"
)

// Machine-readable rejection codes returned to the partner.
const (
	CodeMissingWebhookAuth      = "MISSING_WEBHOOK_AUTH"
	CodeWebhookTimestampExpired = "WEBHOOK_TIMESTAMP_EXPIRED"
	CodeInvalidWebhookSignature = "INVALID_WEBHOOK_SIGNATURE"
)

const webhookMaxSkew = 5 * time.Minute

// AuthError is an authentication rejection carrying its wire code.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("webhook auth rejected (%s): %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return domain.ErrUnauthorized }

// WebhookAuthenticator verifies that a decision callback genuinely
// originated from the bank partner. It must run before any business logic
// touches the payload.
type WebhookAuthenticator struct {
	secret  []byte
	skipSig bool
	maxSkew time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewWebhookAuthenticator(secret string, skipSignature bool, logger *zap.Logger) *WebhookAuthenticator {
	if logger == nil {
		logger = zap.L()
	}
	return &WebhookAuthenticator{
		secret:  []byte(secret),
		skipSig: skipSignature,
		maxSkew: webhookMaxSkew,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock overrides the time source. Used by tests to pin the replay
// window boundary.
func (a *WebhookAuthenticator) WithClock(now func() time.Time) *WebhookAuthenticator {
	a.now = now
	return a
}

// Authenticate checks header presence, timestamp freshness and the
// HMAC-SHA256 signature over "{timestamp}.{rawBody}" in constant time.
func (a *WebhookAuthenticator) Authenticate(rawBody []byte, signatureHeader, timestampHeader string) error {
	if a.skipSig {
		return nil
	}

	signatureHeader = strings.TrimSpace(signatureHeader)
	timestampHeader = strings.TrimSpace(timestampHeader)
	if signatureHeader == "" || timestampHeader == "" {
		return a.reject(&AuthError{Code: CodeMissingWebhookAuth, Message: "signature or timestamp header missing"}, signatureHeader)
	}

	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return a.reject(&AuthError{Code: CodeMissingWebhookAuth, Message: "timestamp header is not a unix timestamp"}, signatureHeader)
	}

	// A timestamp exactly at the window edge is already outside it.
	skew := a.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew >= a.maxSkew {
		return a.reject(&AuthError{Code: CodeWebhookTimestampExpired, Message: "timestamp outside replay window"}, signatureHeader)
	}

	if len(a.secret) == 0 {
		return a.reject(&AuthError{Code: CodeInvalidWebhookSignature, Message: "webhook secret not configured"}, signatureHeader)
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(timestampHeader))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	supplied := strings.TrimPrefix(signatureHeader, "sha256=")
	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return a.reject(&AuthError{Code: CodeInvalidWebhookSignature, Message: "signature mismatch"}, signatureHeader)
	}
	return nil
}

// reject logs an audit entry with a signature prefix only; the secret and
// the full signature never reach the logs.
func (a *WebhookAuthenticator) reject(authErr *AuthError, signatureHeader string) error {
	a.logger.Warn("webhook authentication rejected",
		zap.String("code", authErr.Code),
		zap.String("signature_prefix", signaturePrefix(signatureHeader)),
	)
	return authErr
}

func signaturePrefix(signature string) string {
	signature = strings.TrimPrefix(signature, "sha256=")
	if len(signature) > 8 {
		return signature[:8]
	}
	return signature
}

// SignWebhook computes the signature the partner is expected to send.
// Exposed for the simulated partner and tests.
func SignWebhook(secret string, timestamp string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
