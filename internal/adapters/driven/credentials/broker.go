// Package credentials fetches provider access tokens from the credential
// broker service.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CredentialProvider = (*BrokerClient)(nil)

// BrokerClient asks the credential broker for a currently valid bearer token.
// The broker owns OAuth storage and refresh; this client only reads.
type BrokerClient struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewBrokerClient creates a broker client. serviceKey authenticates this
// service to the broker.
func NewBrokerClient(baseURL, serviceKey string) *BrokerClient {
	return &BrokerClient{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// AccessToken fetches a valid token for the user and family. A 404 or 401
// from the broker means no usable credential and maps to ErrAuthFailure so
// the engine pauses the resource instead of retrying.
func (c *BrokerClient) AccessToken(ctx context.Context, userID string, family domain.ResourceFamily) (string, error) {
	endpoint := fmt.Sprintf("%s/api/credentials/%s/%s/token",
		c.baseURL, url.PathEscape(userID), url.PathEscape(string(family)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		return "", fmt.Errorf("%w: broker status %d for user %s", domain.ErrAuthFailure, resp.StatusCode, userID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("broker status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode broker response: %w", err)
	}

	if result.AccessToken == "" {
		return "", fmt.Errorf("%w: broker returned empty token", domain.ErrAuthFailure)
	}
	return result.AccessToken, nil
}
