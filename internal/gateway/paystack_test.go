package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *PaystackClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPaystackClient(srv.URL, "sk_test_secret", zap.NewNop().Sugar())
}

func TestInitializeTransaction(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "WALLET_FUND_x", body["reference"])
		assert.Equal(t, "50000", body["amount"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  true,
			"message": "Authorization URL created",
			"data":    map[string]string{"authorization_url": "https://checkout.paystack.com/abc"},
		})
	})

	url, err := client.InitializeTransaction(context.Background(), "WALLET_FUND_x", decimal.NewFromInt(50000), "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", url)
}

func TestInitializeTransaction_ProviderRejects(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  false,
			"message": "Invalid amount",
		})
	})

	_, err := client.InitializeTransaction(context.Background(), "WALLET_FUND_x", decimal.NewFromInt(-1), "owner@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid amount")
}

func TestPayoutFlow(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transferrecipient":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]string{"recipient_code": "RCP_123"},
			})
		case "/transfer":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "RCP_123", body["recipient"])
			assert.Equal(t, "balance", body["source"])
			json.NewEncoder(w).Encode(map[string]interface{}{"status": true, "data": map[string]string{}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	code, err := client.CreateTransferRecipient(context.Background(), "0123456789", "058", "A Person")
	require.NoError(t, err)
	assert.Equal(t, "RCP_123", code)

	require.NoError(t, client.InitiatePayout(context.Background(), decimal.NewFromInt(20000), code, "WALLET_WD_x"))
}

func TestPayout_Timeout(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.InitiatePayout(ctx, decimal.NewFromInt(100), "RCP_123", "WALLET_WD_y")
	require.Error(t, err)
}
