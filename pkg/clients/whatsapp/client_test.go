package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/farmledger/internal/config"
)

func TestSendText(t *testing.T) {
	var got textMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer server.Close()

	client := NewClient(config.WhatsAppConfig{
		BaseURL:       server.URL + "/",
		APIVersion:    "v21.0",
		AccessToken:   "secret",
		PhoneNumberID: "12345",
	})

	id, err := client.SendText(context.Background(), "221770000000", "Stock: C1 4 bags")
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "221770000000", got.To)
	assert.Equal(t, "Stock: C1 4 bags", got.Text.Body)
}

func TestSendTextAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","code":100}}`))
	}))
	defer server.Close()

	client := NewClient(config.WhatsAppConfig{BaseURL: server.URL, APIVersion: "v21.0", PhoneNumberID: "1"})

	_, err := client.SendText(context.Background(), "1", "hi")
	assert.EqualError(t, err, "whatsapp api error: code=100, message=Invalid parameter")
}
