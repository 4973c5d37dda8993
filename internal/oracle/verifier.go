// Package oracle is the boundary to the external task-completion verifier.
// The core only consumes its boolean verdict; any oracle failure surfaces as
// an error and must never mutate ledger state.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// VerificationRequest describes one completion check: a task, its
// description, and the media artifact the worker submitted as proof.
type VerificationRequest struct {
	ID          string `json:"id"`
	TaskAddress string `json:"task_address"`
	Description string `json:"description"`
	MediaURL    string `json:"media_url"`
}

type Verifier interface {
	Verify(ctx context.Context, req VerificationRequest) (bool, error)
}

type httpVerifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPVerifier talks to a verification service over JSON.
func NewHTTPVerifier(baseURL string, timeout time.Duration) Verifier {
	return &httpVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (v *httpVerifier) Verify(ctx context.Context, req VerificationRequest) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, errors.Wrap(err, "marshal verification request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return false, errors.Wrap(err, "build verification request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return false, errors.Wrap(err, "call verification oracle")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verification oracle returned status %d", resp.StatusCode)
	}

	var verdict struct {
		Approved bool `json:"approved"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false, errors.Wrap(err, "decode verification verdict")
	}

	return verdict.Approved, nil
}
