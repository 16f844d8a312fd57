package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/app"
	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "0xAbC0000000000000000000000000000000000001"

type serviceStub struct {
	payment     *domain.Payment
	err         error
	resumeErr   error
	resumed     int
	lastActor   string
	resumeCalls int
}

func (s *serviceStub) GetPayment(ctx context.Context, paymentID uuid.UUID, actor string) (*app.PaymentView, error) {
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return &app.PaymentView{Payment: s.payment}, nil
}

func (s *serviceStub) ConfirmDelivery(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error) {
	s.lastActor = actor
	return s.payment, s.err
}

func (s *serviceStub) RequestRefund(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error) {
	s.lastActor = actor
	return s.payment, s.err
}

func (s *serviceStub) MarkManualComplete(ctx context.Context, paymentID uuid.UUID, actor string) (*domain.Payment, error) {
	s.lastActor = actor
	return s.payment, s.err
}

func (s *serviceStub) Resume(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	s.resumeCalls++
	return s.resumeErr == nil, s.resumeErr
}

func (s *serviceStub) ResumeAll(ctx context.Context) (int, error) {
	return s.resumed, nil
}

type testIssuer struct {
	key  *rsa.PrivateKey
	jwks *httptest.Server
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "test-key",
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(jwks.Close)
	return &testIssuer{key: key, jwks: jwks}
}

func (i *testIssuer) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(i.key)
	require.NoError(t, err)
	return signed
}

func newTestRouter(t *testing.T, svc *serviceStub) (http.Handler, *testIssuer) {
	issuer := newTestIssuer(t)
	router := SettlementRoutes(NewSettlementHandlers(svc), RouterConfig{
		JWKSURL:        issuer.jwks.URL,
		InternalAPIKey: "internal-key",
		Metrics:        app.MetricsHandler(),
	})
	return router, issuer
}

func doRequest(router http.Handler, method, path, bearer string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWalletAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	router, issuer := newTestRouter(t, &serviceStub{})
	path := "/payments/" + uuid.NewString()

	rec := doRequest(router, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := issuer.token(t, jwt.MapClaims{
		"wallet_address": testWallet,
		"exp":            time.Now().Add(-time.Minute).Unix(),
	})
	rec = doRequest(router, http.MethodGet, path, expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"wallet_address": testWallet})
	forged.Header["kid"] = "test-key"
	forgedToken, err := forged.SignedString(otherKey)
	require.NoError(t, err)
	rec = doRequest(router, http.MethodGet, path, forgedToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWalletAuthPassesWalletClaimToService(t *testing.T) {
	svc := &serviceStub{payment: &domain.Payment{ID: uuid.New(), Status: domain.PaymentStatusEscrowed}}
	router, issuer := newTestRouter(t, svc)

	token := issuer.token(t, jwt.MapClaims{
		"sub":            "user_123",
		"wallet_address": testWallet,
		"exp":            time.Now().Add(time.Hour).Unix(),
	})
	rec := doRequest(router, http.MethodGet, "/payments/"+svc.payment.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, testWallet, svc.lastActor)

	subOnly := issuer.token(t, jwt.MapClaims{"sub": "0xdef", "exp": time.Now().Add(time.Hour).Unix()})
	rec = doRequest(router, http.MethodGet, "/payments/"+svc.payment.ID.String(), subOnly, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xdef", svc.lastActor)
}

func TestServiceErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "unauthorized actor", err: app.ErrUnauthorizedActor, want: http.StatusForbidden},
		{name: "not found", err: app.ErrPaymentNotFound, want: http.StatusNotFound},
		{name: "invalid state", err: fmt.Errorf("%w: payment is completed", app.ErrInvalidState), want: http.StatusConflict},
		{name: "in progress", err: app.ErrOperationInProgress, want: http.StatusConflict},
		{name: "submission", err: &app.SubmissionError{Op: "withdrawUsdcToken", Err: fmt.Errorf("insufficient funds")}, want: http.StatusBadGateway},
		{name: "delivery not recorded", err: fmt.Errorf("%w: tx 0xabc: %w", app.ErrDeliveryNotRecorded, fmt.Errorf("connection reset")), want: http.StatusServiceUnavailable},
		{name: "unexpected", err: fmt.Errorf("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &serviceStub{err: tc.err}
			router, issuer := newTestRouter(t, svc)
			token := issuer.token(t, jwt.MapClaims{"wallet_address": testWallet, "exp": time.Now().Add(time.Hour).Unix()})

			rec := doRequest(router, http.MethodPost, "/payments/"+uuid.NewString()+"/refund", token, nil)
			require.Equal(t, tc.want, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, app.NextAction(tc.err), body.NextAction)
		})
	}
}

func TestInvalidPaymentIDIsBadRequest(t *testing.T) {
	router, issuer := newTestRouter(t, &serviceStub{})
	token := issuer.token(t, jwt.MapClaims{"wallet_address": testWallet, "exp": time.Now().Add(time.Hour).Unix()})

	rec := doRequest(router, http.MethodPost, "/payments/not-a-uuid/confirm-delivery", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeAuthorizesBeforeResuming(t *testing.T) {
	svc := &serviceStub{err: app.ErrUnauthorizedActor}
	router, issuer := newTestRouter(t, svc)
	token := issuer.token(t, jwt.MapClaims{"wallet_address": testWallet, "exp": time.Now().Add(time.Hour).Unix()})

	rec := doRequest(router, http.MethodPost, "/payments/"+uuid.NewString()+"/resume", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, svc.resumeCalls)
}

func TestInternalReconcileRequiresAPIKey(t *testing.T) {
	svc := &serviceStub{resumed: 3}
	router, _ := newTestRouter(t, svc)

	rec := doRequest(router, http.MethodPost, "/internal/payments/reconcile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodPost, "/internal/payments/reconcile", "", map[string]string{"X-Internal-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodPost, "/internal/payments/reconcile", "", map[string]string{"X-Internal-API-Key": "internal-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resumed":3}`, rec.Body.String())
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router, _ := newTestRouter(t, &serviceStub{})

	rec := doRequest(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, SplitOrigins(" https://app.example.com, ,http://localhost:3000 "))
	assert.Nil(t, SplitOrigins(""))
}
