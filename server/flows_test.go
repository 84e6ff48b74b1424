package server

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/giantswarm/mcp-authserver/auth"
	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/storage/memory"
)

func TestFlowState_Transitions(t *testing.T) {
	tests := []struct {
		from, to FlowState
		want     bool
	}{
		{FlowRequested, FlowCodeIssued, true},
		{FlowCodeIssued, FlowRedeemed, true},
		{FlowCodeIssued, FlowExpired, true},
		{FlowRequested, FlowRedeemed, false},
		{FlowRedeemed, FlowCodeIssued, false},
		{FlowExpired, FlowRedeemed, false},
		{FlowRedeemed, FlowExpired, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	for _, s := range []FlowState{FlowRedeemed, FlowExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false", s)
		}
	}
	if FlowCodeIssued.IsTerminal() {
		t.Error("CODE_ISSUED reported terminal")
	}
}

func TestServer_Authorize(t *testing.T) {
	challenge, _ := testutil.GeneratePKCEPair()

	base := func(clientID string) AuthorizeRequest {
		return AuthorizeRequest{
			ClientID:            clientID,
			RedirectURI:         testutil.TestRedirectURI,
			CodeChallenge:       challenge,
			CodeChallengeMethod: storage.PKCEMethodS256,
			Subject:             testutil.TestSubject,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*AuthorizeRequest)
		wantErr error
	}{
		{name: "valid"},
		{name: "unknown client", mutate: func(r *AuthorizeRequest) { r.ClientID = "unknown" }, wantErr: ErrInvalidClient},
		{name: "missing redirect", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "" }, wantErr: ErrInvalidRedirectURI},
		{name: "redirect mismatch", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "https://app.example/cb/" }, wantErr: ErrInvalidRedirectURI},
		{name: "no pkce", mutate: func(r *AuthorizeRequest) { r.CodeChallenge = "" }, wantErr: ErrInvalidRequest},
		{name: "plain pkce", mutate: func(r *AuthorizeRequest) { r.CodeChallengeMethod = "plain" }, wantErr: ErrInvalidRequest},
		{name: "scope outside policy", mutate: func(r *AuthorizeRequest) { r.Scopes = []string{"admin"} }, wantErr: ErrInvalidScope},
		{name: "no subject", mutate: func(r *AuthorizeRequest) { r.Subject = "" }, wantErr: ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, func(c *Config) {
				c.AllowedScopes = []string{"read", "write"}
				c.DefaultScopes = []string{"read"}
			})
			clientID := registerPublicClient(t, srv)

			req := base(clientID)
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			code, err := srv.Authorize(context.Background(), req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authorize() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if !slices.Equal(code.Scopes, []string{"read"}) {
				t.Errorf("Scopes = %v, want default [read]", code.Scopes)
			}
			if code.Subject != testutil.TestSubject {
				t.Errorf("Subject = %q, want %q", code.Subject, testutil.TestSubject)
			}
		})
	}
}

func TestServer_Authorize_Credentials(t *testing.T) {
	provider := auth.NewStaticProvider(discardLogger())
	provider.SetCost(4)
	if err := provider.AddUser("alice", "correct horse"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	store := memory.New()
	t.Cleanup(store.Stop)
	srv, err := New(store, store, store, provider, &Config{}, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.secretHashCost = 4
	clientID := registerPublicClient(t, srv)
	challenge, _ := testutil.GeneratePKCEPair()

	req := AuthorizeRequest{
		ClientID:            clientID,
		RedirectURI:         testutil.TestRedirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: storage.PKCEMethodS256,
		Subject:             "ignored",
		Credentials:         &auth.Credentials{Username: "alice", Password: "correct horse"},
	}

	code, err := srv.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if code.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", code.Subject)
	}

	req.Credentials = &auth.Credentials{Username: "alice", Password: "wrong"}
	_, err = srv.Authorize(context.Background(), req)
	testutil.AssertErrorIs(t, err, ErrAccessDenied)
}

func TestServer_CodeState(t *testing.T) {
	srv, _, _ := newTestServer(t)
	_, err := srv.CodeState(context.Background(), "unknown")
	testutil.AssertErrorIs(t, err, ErrInvalidGrant)
}
