package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/giantswarm/mcp-authserver/server"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
		wantDesc   string
	}{
		{
			name:       "storage unavailable",
			err:        fmt.Errorf("%w: get client: store closed", server.ErrStorageUnavailable),
			wantCode:   ErrorCodeTemporarilyUnavailable,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "invalid client",
			err:        fmt.Errorf("%w: unknown client", server.ErrInvalidClient),
			wantCode:   ErrorCodeInvalidClient,
			wantStatus: http.StatusUnauthorized,
			wantDesc:   "Client authentication failed",
		},
		{
			name:       "invalid grant hides the reason",
			err:        fmt.Errorf("%w: code already consumed", server.ErrInvalidGrant),
			wantCode:   ErrorCodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "The provided authorization grant is invalid, expired or revoked",
		},
		{
			name:       "invalid scope keeps the detail",
			err:        fmt.Errorf("%w: requested scope exceeds the original grant", server.ErrInvalidScope),
			wantCode:   ErrorCodeInvalidScope,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "requested scope exceeds the original grant",
		},
		{
			name:       "invalid request",
			err:        fmt.Errorf("%w: code_verifier is required", server.ErrInvalidRequest),
			wantCode:   ErrorCodeInvalidRequest,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "code_verifier is required",
		},
		{
			name:       "bare kind",
			err:        server.ErrInvalidRedirectURI,
			wantCode:   ErrorCodeInvalidRedirectURI,
			wantStatus: http.StatusBadRequest,
			wantDesc:   server.ErrInvalidRedirectURI.Error(),
		},
		{
			name:       "access denied",
			err:        fmt.Errorf("%w: bad password", server.ErrAccessDenied),
			wantCode:   ErrorCodeAccessDenied,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "oauth error passes through",
			err:        fmt.Errorf("wrapped: %w", ErrUnsupportedGrantType("nope")),
			wantCode:   ErrorCodeUnsupportedGrantType,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "nope",
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantCode:   ErrorCodeServerError,
			wantStatus: http.StatusInternalServerError,
			wantDesc:   "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got == nil {
				t.Fatal("FromError() = nil")
			}
			if got.Code != tt.wantCode {
				t.Errorf("FromError().Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("FromError().Status = %d, want %d", got.Status, tt.wantStatus)
			}
			if tt.wantDesc != "" && got.Description != tt.wantDesc {
				t.Errorf("FromError().Description = %q, want %q", got.Description, tt.wantDesc)
			}
		})
	}

	if FromError(nil) != nil {
		t.Error("FromError(nil) != nil")
	}
}

func TestOAuthError_Error(t *testing.T) {
	err := ErrInvalidScope("too broad")
	if got := err.Error(); got != "invalid_scope: too broad" {
		t.Errorf("Error() = %q, want %q", got, "invalid_scope: too broad")
	}
}
