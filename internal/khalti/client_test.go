package khalti

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/epayment/initiate/", r.URL.Path)
		assert.Equal(t, "Key test-secret", r.Header.Get("Authorization"))

		var body InitiateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(2000), body.Amount)
		assert.Equal(t, "11", body.PurchaseOrderID)
		assert.Equal(t, "buyer@example.com", body.CustomerInfo.Email)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pidx":"abc","payment_url":"https://pay.khalti.com/?pidx=abc","expires_at":"2024-01-01T00:30:00+05:45","expires_in":1800}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-secret", 5*time.Second)
	resp, err := c.Initiate(context.Background(), &InitiateRequest{
		Amount:          2000,
		PurchaseOrderID: "11",
		CustomerInfo:    CustomerInfo{Name: "buyer", Email: "buyer@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.Pidx)
	assert.Equal(t, 1800, resp.ExpiresIn)
}

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/epayment/lookup/", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc", body["pidx"])

		w.Write([]byte(`{"pidx":"abc","total_amount":2000,"status":"Completed","transaction_id":"tx-1","fee":0,"refunded":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-secret", 5*time.Second)
	resp, err := c.Lookup(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, int64(2000), resp.TotalAmount)
	assert.Equal(t, "tx-1", resp.TransactionID)
}

func TestUnauthorizedIsInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Invalid token."}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "wrong", 5*time.Second)
	_, err := c.Lookup(context.Background(), "abc")

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusUnauthorized, gwErr.HTTPStatus)
	assert.Equal(t, DetailInvalidCredentials, gwErr.Detail)
	assert.NotContains(t, err.Error(), "wrong")
}

func TestNon2xxKeepsDetailAndDoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"amount":["Amount should be greater than Rs. 10"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-secret", 5*time.Second)
	_, err := c.Initiate(context.Background(), &InitiateRequest{Amount: 100})

	require.True(t, IsGatewayError(err))
	assert.Contains(t, err.Error(), "Amount should be greater")
	assert.Equal(t, 1, calls)
}
