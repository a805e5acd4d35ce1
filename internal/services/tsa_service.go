package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// TSAService requests trusted-timestamp tokens from a third-party provider.
// The token is an opaque non-repudiation attestation stored alongside the
// record; this service never validates it. Implements TimestampProvider.
//
// Failure mode is deliberate: any error degrades to "no token". Record
// creation must never block on the attestor.
type TSAService struct {
	endpoint   string
	provider   string
	client     *http.Client
	maxRetries int
}

// NewTSAService creates a new TSAService instance.
func NewTSAService(endpoint, provider string, timeout time.Duration, maxRetries int) *TSAService {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	return &TSAService{
		endpoint:   endpoint,
		provider:   provider,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

type tsaRequest struct {
	Digest string `json:"digest"`
}

type tsaResponse struct {
	Token string `json:"token"`
}

// RequestToken requests a timestamp token for a hex digest. Returns empty
// strings on any failure.
func (ts *TSAService) RequestToken(ctx context.Context, digestHex string) (string, string) {
	if ts.endpoint == "" {
		return "", ""
	}

	body, err := json.Marshal(tsaRequest{Digest: digestHex})
	if err != nil {
		log.Printf("⚠️ TSA request marshalling failed: %v", err)
		return "", ""
	}

	for attempt := 1; attempt <= ts.maxRetries; attempt++ {
		token, err := ts.requestOnce(ctx, body)
		if err == nil {
			return token, ts.provider
		}

		log.Printf("⚠️ TSA request failed (attempt %d/%d): %v", attempt, ts.maxRetries, err)
		if attempt < ts.maxRetries {
			select {
			case <-ctx.Done():
				return "", ""
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return "", ""
}

func (ts *TSAService) requestOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed tsaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding TSA response: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("empty token in TSA response")
	}

	return parsed.Token, nil
}
