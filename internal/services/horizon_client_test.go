package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHorizonGetAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/GTEST", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "GTEST",
			"account_id": "GTEST",
			"sequence": "123456789",
			"subentry_count": 2,
			"balances": [
				{"balance": "100.5000000", "asset_type": "credit_alphanum4", "asset_code": "USDC"},
				{"balance": "50.0000000", "asset_type": "native"}
			]
		}`))
	}))
	defer server.Close()

	client := NewHorizonClient(server.URL, 3, time.Minute)

	account, err := client.GetAccount(context.Background(), "GTEST")
	assert.NoError(t, err)
	assert.Equal(t, "GTEST", account.AccountID)
	assert.Equal(t, "123456789", account.Sequence)
	assert.Len(t, account.Balances, 2)
	assert.Equal(t, "USDC", *account.Balances[0].AssetCode)
	assert.Nil(t, account.Balances[1].AssetCode)
}

func TestHorizonAccountNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHorizonClient(server.URL, 3, time.Minute)

	_, err := client.GetAccount(context.Background(), "GMISSING")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// 404s never trip the breaker
	for i := 0; i < 10; i++ {
		_, err = client.GetAccount(context.Background(), "GMISSING")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	}
	assert.Equal(t, "closed", client.CircuitState())
}

func TestHorizonBreakerTripsOnServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHorizonClient(server.URL, 3, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := client.GetAccount(context.Background(), "GTEST")
		assert.ErrorIs(t, err, ErrHorizonUnavailable)
	}

	assert.Equal(t, "open", client.CircuitState())

	// Open breaker short-circuits without touching the upstream
	_, err := client.GetAccount(context.Background(), "GTEST")
	assert.ErrorIs(t, err, ErrHorizonUnavailable)
}

func TestHorizonBreakerHalfOpensAfterReset(t *testing.T) {
	healthy := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"id": "GTEST", "account_id": "GTEST", "sequence": "1"}`))
	}))
	defer server.Close()

	client := NewHorizonClient(server.URL, 3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		client.GetAccount(context.Background(), "GTEST")
	}
	assert.Equal(t, "open", client.CircuitState())

	healthy = true
	time.Sleep(150 * time.Millisecond)

	account, err := client.GetAccount(context.Background(), "GTEST")
	assert.NoError(t, err)
	assert.Equal(t, "GTEST", account.AccountID)
}
