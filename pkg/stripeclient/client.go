/**
 * @description
 * This package provides a client for the Stripe Connect API surface the
 * settlement pipeline depends on: reading connected-account verification
 * state, reading balances and creating onboarding continuation links.
 *
 * Key features:
 * - Manages the API base URL and secret key.
 * - Form-encoded requests with bearer auth, JSON responses.
 * - Context-aware with a bounded request timeout.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campfire-labs/settlement-service/internal/domain"
)

// Client is a client for the Stripe API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Stripe API client.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetAccount fetches the current state of a connected account, including its
// outstanding verification requirements.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*domain.ConnectAccount, error) {
	var account domain.ConnectAccount
	endpoint := fmt.Sprintf("%s/v1/accounts/%s", c.baseURL, accountID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetBalance fetches the available and pending balance of a connected account.
func (c *Client) GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	var resp struct {
		Available []struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"available"`
		Pending []struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"pending"`
	}

	endpoint := fmt.Sprintf("%s/v1/balance", c.baseURL)
	if err := c.doAs(ctx, http.MethodGet, endpoint, nil, &resp, accountID); err != nil {
		return nil, err
	}

	balance := &domain.AccountBalance{}
	for _, a := range resp.Available {
		balance.Available += a.Amount
		balance.Currency = a.Currency
	}
	for _, p := range resp.Pending {
		balance.Pending += p.Amount
		if balance.Currency == "" {
			balance.Currency = p.Currency
		}
	}
	return balance, nil
}

// CreateAccountLink creates a fresh onboarding continuation link for an
// account with outstanding requirements.
func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*domain.AccountLink, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", refreshURL)
	form.Set("return_url", returnURL)
	form.Set("type", "account_onboarding")

	var link domain.AccountLink
	endpoint := fmt.Sprintf("%s/v1/account_links", c.baseURL)
	if err := c.do(ctx, http.MethodPost, endpoint, form, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// do makes an authenticated request to the Stripe API.
func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, target interface{}) error {
	return c.doAs(ctx, method, endpoint, form, target, "")
}

// doAs makes a request on behalf of a connected account when accountID is
// non-empty (Stripe-Account header).
func (c *Client) doAs(ctx context.Context, method, endpoint string, form url.Values, target interface{}, accountID string) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if accountID != "" {
		req.Header.Set("Stripe-Account", accountID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Type    string `json:"type"`
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("stripe api error (%d %s): %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("stripe api error: status %d", resp.StatusCode)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("failed to decode stripe response: %w", err)
	}
	return nil
}
