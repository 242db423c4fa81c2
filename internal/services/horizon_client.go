package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// ErrAccountNotFound means the network knows nothing about the address.
	ErrAccountNotFound = errors.New("account not found")
	// ErrHorizonUnavailable covers transport failures and an open breaker.
	ErrHorizonUnavailable = errors.New("horizon unavailable")
)

type AccountInfo struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Sequence      string    `json:"sequence"`
	SubentryCount int       `json:"subentry_count"`
	Balances      []Balance `json:"balances"`
}

type Balance struct {
	Balance   string  `json:"balance"`
	AssetType string  `json:"asset_type"`
	AssetCode *string `json:"asset_code,omitempty"`
}

// HorizonClient looks up accounts on the asset network. The circuit breaker
// trips after a run of consecutive failures and stays open for the reset
// window before half-opening, so a dead upstream cannot stall callers.
// The core consults this client for health and diagnostics only; it is
// never on the ingestion hot path.
type HorizonClient struct {
	client  *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

func NewHorizonClient(baseURL string, failureThreshold uint32, resetTimeout time.Duration) *HorizonClient {
	if failureThreshold == 0 {
		failureThreshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "horizon",
		Timeout: resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			// A missing account is a definitive answer, not an upstream fault.
			return err == nil || errors.Is(err, ErrAccountNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	return &HorizonClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// CircuitState reports the breaker state for the health endpoint.
func (h *HorizonClient) CircuitState() string {
	return h.breaker.State().String()
}

// GetAccount fetches account details. A 404 maps to ErrAccountNotFound and
// does not count against the breaker; transport and 5xx failures do.
func (h *HorizonClient) GetAccount(ctx context.Context, address string) (*AccountInfo, error) {
	result, err := h.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/accounts/%s", h.baseURL, address)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrAccountNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("horizon returned status %d", resp.StatusCode)
		}

		var account AccountInfo
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			return nil, fmt.Errorf("decode horizon response: %w", err)
		}
		return &account, nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrHorizonUnavailable
		}
		return nil, fmt.Errorf("%w: %v", ErrHorizonUnavailable, err)
	}
	return result.(*AccountInfo), nil
}
