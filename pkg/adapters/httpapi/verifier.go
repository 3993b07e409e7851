package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/lattice/pkg/ports"
)

// Verifier implements ports.SemanticVerifier against a remote HTTP
// endpoint. The endpoint receives a VerifyRequest as JSON and answers with
// a VerifyResult.
type Verifier struct {
	url    string
	client *http.Client
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) VerifierOption {
	return func(v *Verifier) {
		v.client = c
	}
}

// NewVerifier creates a verifier client for the given endpoint URL.
func NewVerifier(url string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify posts the request to the remote verifier. The caller's context
// deadline bounds the call on top of the client timeout.
func (v *Verifier) Verify(ctx context.Context, req ports.VerifyRequest) (ports.VerifyResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ports.VerifyResult{}, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return ports.VerifyResult{}, fmt.Errorf("failed to build verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return ports.VerifyResult{}, fmt.Errorf("verifier call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ports.VerifyResult{}, fmt.Errorf("verifier returned status %d", resp.StatusCode)
	}

	var result ports.VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ports.VerifyResult{}, fmt.Errorf("failed to decode verify result: %w", err)
	}
	return result, nil
}
