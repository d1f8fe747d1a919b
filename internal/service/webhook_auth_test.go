package service

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWebhookSecret = "test-webhook-secret"

func newTestAuthenticator(now time.Time) *WebhookAuthenticator {
	return NewWebhookAuthenticator(testWebhookSecret, false, zap.NewNop()).
		WithClock(func() time.Time { return now })
}

func signedHeaders(t *testing.T, body []byte, at time.Time) (string, string) {
	t.Helper()
	ts := strconv.FormatInt(at.Unix(), 10)
	return SignWebhook(testWebhookSecret, ts, body), ts
}

func TestAuthenticateValidSignature(t *testing.T) {
	now := time.Now()
	auth := newTestAuthenticator(now)
	body := []byte(`{"applicationId":"bank-app-1","approved":true}`)

	sig, ts := signedHeaders(t, body, now)
	require.NoError(t, auth.Authenticate(body, sig, ts))
}

func TestAuthenticateAcceptsUnprefixedSignature(t *testing.T) {
	now := time.Now()
	auth := newTestAuthenticator(now)
	body := []byte(`{}`)

	sig, ts := signedHeaders(t, body, now)
	require.NoError(t, auth.Authenticate(body, sig[len("sha256="):], ts))
}

func TestAuthenticateRejectsBodyMutation(t *testing.T) {
	now := time.Now()
	auth := newTestAuthenticator(now)
	body := []byte(`{"applicationId":"bank-app-1","approved":true}`)
	sig, ts := signedHeaders(t, body, now)

	// Flip one byte: approved true becomes false.
	tampered := []byte(`{"applicationId":"bank-app-1","approved":false}`)
	err := auth.Authenticate(tampered, sig, ts)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeInvalidWebhookSignature, authErr.Code)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	auth := newTestAuthenticator(now)
	body := []byte(`{"approved":true}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := SignWebhook("some-other-secret", ts, body)

	var authErr *AuthError
	require.ErrorAs(t, auth.Authenticate(body, sig, ts), &authErr)
	assert.Equal(t, CodeInvalidWebhookSignature, authErr.Code)
}

func TestAuthenticateReplayWindowBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"approved":true}`)

	cases := []struct {
		name     string
		offset   time.Duration
		wantCode string
	}{
		{name: "just inside past window", offset: -(5*time.Minute - time.Second)},
		{name: "just inside future window", offset: 5*time.Minute - time.Second},
		{name: "exactly at past edge", offset: -5 * time.Minute, wantCode: CodeWebhookTimestampExpired},
		{name: "exactly at future edge", offset: 5 * time.Minute, wantCode: CodeWebhookTimestampExpired},
		{name: "well outside window", offset: -time.Hour, wantCode: CodeWebhookTimestampExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := newTestAuthenticator(now)
			sig, ts := signedHeaders(t, body, now.Add(tc.offset))
			err := auth.Authenticate(body, sig, ts)
			if tc.wantCode == "" {
				require.NoError(t, err)
				return
			}
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tc.wantCode, authErr.Code)
		})
	}
}

func TestAuthenticateMissingHeaders(t *testing.T) {
	now := time.Now()
	auth := newTestAuthenticator(now)
	body := []byte(`{}`)
	sig, ts := signedHeaders(t, body, now)

	cases := []struct {
		name string
		sig  string
		ts   string
	}{
		{name: "no signature", sig: "", ts: ts},
		{name: "no timestamp", sig: sig, ts: ""},
		{name: "neither", sig: "", ts: ""},
		{name: "non-numeric timestamp", sig: sig, ts: "yesterday"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var authErr *AuthError
			require.ErrorAs(t, auth.Authenticate(body, tc.sig, tc.ts), &authErr)
			assert.Equal(t, CodeMissingWebhookAuth, authErr.Code)
		})
	}
}

func TestAuthenticateSkipSignatureMode(t *testing.T) {
	auth := NewWebhookAuthenticator("", true, zap.NewNop())
	require.NoError(t, auth.Authenticate([]byte(`{}`), "", ""))
}

func TestAuthErrorMessageIncludesCode(t *testing.T) {
	err := &AuthError{Code: CodeWebhookTimestampExpired, Message: "timestamp outside replay window"}
	assert.Equal(t,
		fmt.Sprintf("webhook auth rejected (%s): timestamp outside replay window", CodeWebhookTimestampExpired),
		err.Error())
}
