package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/farmledger/internal/domain/models"
)

type stubMessaging struct {
	payloads  []models.WebhookPayload
	handleErr error
}

func (s *stubMessaging) VerifyWebhookToken(mode, token, challenge string) (string, error) {
	if mode == "subscribe" && token == "secret-verify" {
		return challenge, nil
	}
	return "", errors.New("token mismatch")
}

func (s *stubMessaging) HandleWebhook(_ context.Context, payload models.WebhookPayload) error {
	s.payloads = append(s.payloads, payload)
	return s.handleErr
}

func (s *stubMessaging) SendOutbound(context.Context, models.OutboundMessageRequest) error {
	return nil
}

const webhookBody = `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{"messages":[{"from":"221770000000","id":"m1","type":"text","text":{"body":"/stock"}}]}}]}]}`

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookEngine(h *WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/webhook", h.Verify)
	r.POST("/webhook", h.Receive)
	return r
}

func TestWebhookVerify(t *testing.T) {
	r := webhookEngine(NewWebhookHandler(&stubMessaging{}, "", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret-verify&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookReceive(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		signature string
		body      string
		handleErr error
		status    int
		handled   int
	}{
		{name: "unsigned without secret", body: webhookBody, status: http.StatusOK, handled: 1},
		{name: "valid signature", secret: "app", signature: sign("app", webhookBody), body: webhookBody, status: http.StatusOK, handled: 1},
		{name: "wrong signature", secret: "app", signature: sign("other", webhookBody), body: webhookBody, status: http.StatusUnauthorized},
		{name: "missing signature", secret: "app", body: webhookBody, status: http.StatusUnauthorized},
		{name: "malformed body", body: "{", status: http.StatusBadRequest},
		{name: "delivery failure is acknowledged", body: webhookBody, handleErr: errors.New("send failed"), status: http.StatusOK, handled: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubMessaging{handleErr: tt.handleErr}
			r := webhookEngine(NewWebhookHandler(svc, tt.secret, nil))

			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body))
			if tt.signature != "" {
				req.Header.Set(signatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			require.Len(t, svc.payloads, tt.handled)
			if tt.handled > 0 {
				assert.Equal(t, "/stock", svc.payloads[0].Entry[0].Changes[0].Value.Messages[0].MessageText())
			}
		})
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	svc := &stubMessaging{}
	r := webhookEngine(NewWebhookHandler(svc, "", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(strings.Repeat("x", maxWebhookBody+1))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, svc.payloads)
}
