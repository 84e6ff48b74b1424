package server

import (
	"errors"
	"strings"
	"testing"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/storage"
)

func TestValidateCodeChallenge(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name      string
		challenge string
		method    string
		wantErr   bool
	}{
		{name: "valid S256", challenge: challenge, method: storage.PKCEMethodS256},
		{name: "missing challenge", challenge: "", method: storage.PKCEMethodS256, wantErr: true},
		{name: "plain method", challenge: challenge, method: "plain", wantErr: true},
		{name: "missing method", challenge: challenge, method: "", wantErr: true},
		{name: "lowercase method", challenge: challenge, method: "s256", wantErr: true},
		{name: "too short", challenge: challenge[:42], method: storage.PKCEMethodS256, wantErr: true},
		{name: "too long", challenge: challenge + "A", method: storage.PKCEMethodS256, wantErr: true},
		{name: "padding", challenge: challenge[:42] + "=", method: storage.PKCEMethodS256, wantErr: true},
		{name: "standard base64 chars", challenge: challenge[:42] + "+", method: storage.PKCEMethodS256, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCodeChallenge(tt.challenge, tt.method)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCodeChallenge() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestValidateCodeVerifier(t *testing.T) {
	tests := []struct {
		name     string
		verifier string
		wantErr  bool
	}{
		{name: "minimum length", verifier: strings.Repeat("a", MinCodeVerifierLength)},
		{name: "maximum length", verifier: strings.Repeat("a", MaxCodeVerifierLength)},
		{name: "all allowed characters", verifier: "ABCxyz019-._~" + strings.Repeat("a", 30)},
		{name: "too short", verifier: strings.Repeat("a", MinCodeVerifierLength-1), wantErr: true},
		{name: "too long", verifier: strings.Repeat("a", MaxCodeVerifierLength+1), wantErr: true},
		{name: "space", verifier: strings.Repeat("a", 42) + " ", wantErr: true},
		{name: "plus", verifier: strings.Repeat("a", 42) + "+", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCodeVerifier(tt.verifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCodeVerifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyPKCE(t *testing.T) {
	challenge, verifier := testutil.GeneratePKCEPair()
	_, otherVerifier := testutil.GeneratePKCEPair()

	if !VerifyPKCE(challenge, verifier) {
		t.Error("VerifyPKCE() = false for matching pair")
	}
	if VerifyPKCE(challenge, otherVerifier) {
		t.Error("VerifyPKCE() = true for a different verifier")
	}
	// plain would accept the challenge itself as verifier
	if VerifyPKCE(challenge, challenge) {
		t.Error("VerifyPKCE() accepted the challenge as verifier")
	}
}
