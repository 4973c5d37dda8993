package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPVerifier_Verify(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		expected    bool
		expectError bool
	}{
		{
			name: "approved verdict",
			handler: func(w http.ResponseWriter, r *http.Request) {
				var req VerificationRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "/v1/verify", r.URL.Path)
				assert.NotEmpty(t, req.TaskAddress)
				_ = json.NewEncoder(w).Encode(map[string]bool{"approved": true})
			},
			expected: true,
		},
		{
			name: "rejected verdict",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]bool{"approved": false})
			},
			expected: false,
		},
		{
			name: "oracle error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectError: true,
		},
		{
			name: "malformed verdict body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			v := NewHTTPVerifier(srv.URL, time.Second)

			got, err := v.Verify(context.Background(), VerificationRequest{
				ID:          "req-1",
				TaskAddress: "aa11",
				Description: "mow the lawn",
				MediaURL:    "https://example.com/photo.jpg",
			})

			if tt.expectError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestHTTPVerifier_Unreachable(t *testing.T) {
	v := NewHTTPVerifier("http://127.0.0.1:1", 100*time.Millisecond)

	_, err := v.Verify(context.Background(), VerificationRequest{ID: "req-1"})
	assert.Error(t, err)
}
