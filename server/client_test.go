package server

import (
	"context"
	"errors"
	"testing"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/storage"
)

func TestServer_RegisterClient(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) {
		c.AllowedScopes = []string{"read", "write"}
	})

	tests := []struct {
		name       string
		reg        ClientRegistration
		wantPublic bool
		wantErr    error
	}{
		{
			name: "public client",
			reg: ClientRegistration{
				RedirectURIs:            []string{testutil.TestRedirectURI},
				TokenEndpointAuthMethod: storage.TokenEndpointAuthMethodNone,
			},
			wantPublic: true,
		},
		{
			name: "confidential client by default",
			reg: ClientRegistration{
				RedirectURIs: []string{testutil.TestRedirectURI, "http://127.0.0.1:9000/cb"},
				ClientName:   "Backend",
				Scopes:       []string{"read"},
			},
		},
		{
			name:    "unsupported auth method",
			reg:     ClientRegistration{RedirectURIs: []string{testutil.TestRedirectURI}, TokenEndpointAuthMethod: "private_key_jwt"},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "no redirect uris",
			reg:     ClientRegistration{},
			wantErr: ErrInvalidRedirectURI,
		},
		{
			name:    "insecure redirect uri",
			reg:     ClientRegistration{RedirectURIs: []string{"http://app.example/cb"}},
			wantErr: ErrInvalidRedirectURI,
		},
		{
			name:    "scope outside policy",
			reg:     ClientRegistration{RedirectURIs: []string{testutil.TestRedirectURI}, Scopes: []string{"admin"}},
			wantErr: ErrInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := srv.RegisterClient(context.Background(), tt.reg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("RegisterClient() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RegisterClient() error = %v", err)
			}

			if got.Client.ClientID == "" {
				t.Error("ClientID is empty")
			}
			if got.Client.IsPublic() != tt.wantPublic {
				t.Errorf("IsPublic() = %v, want %v", got.Client.IsPublic(), tt.wantPublic)
			}
			if tt.wantPublic && (got.ClientSecret != "" || got.Client.ClientSecretHash != "") {
				t.Error("public client received a secret")
			}
			if !tt.wantPublic {
				if got.ClientSecret == "" {
					t.Fatal("confidential client received no secret")
				}
				if got.Client.ClientSecretHash == got.ClientSecret {
					t.Error("secret stored in plain text")
				}
			}

			stored, err := srv.LookupClient(context.Background(), got.Client.ClientID)
			if err != nil {
				t.Fatalf("LookupClient() error = %v", err)
			}
			if !stored.CreatedAt.Equal(testNow) {
				t.Errorf("CreatedAt = %v, want %v", stored.CreatedAt, testNow)
			}
		})
	}
}

func TestServer_RegisterClient_UniqueIDs(t *testing.T) {
	srv, _, _ := newTestServer(t)
	seen := make(map[string]bool)
	for range 20 {
		id := registerPublicClient(t, srv)
		if seen[id] {
			t.Fatalf("duplicate client ID %s", id)
		}
		seen[id] = true
	}
}

func TestServer_VerifyRedirectURI(t *testing.T) {
	srv, _, _ := newTestServer(t)
	clientID := registerPublicClient(t, srv)
	ctx := context.Background()

	tests := []struct {
		name     string
		clientID string
		uri      string
		want     bool
	}{
		{name: "exact match", clientID: clientID, uri: testutil.TestRedirectURI, want: true},
		{name: "trailing slash", clientID: clientID, uri: testutil.TestRedirectURI + "/"},
		{name: "different case", clientID: clientID, uri: "https://APP.example/cb"},
		{name: "prefix", clientID: clientID, uri: "https://app.example/c"},
		{name: "extra query", clientID: clientID, uri: testutil.TestRedirectURI + "?x=1"},
		{name: "unknown client", clientID: "nope", uri: testutil.TestRedirectURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := srv.VerifyRedirectURI(ctx, tt.clientID, tt.uri); got != tt.want {
				t.Errorf("VerifyRedirectURI(%q) = %v, want %v", tt.uri, got, tt.want)
			}
		})
	}
}

func TestServer_AuthenticateClient(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	publicID := registerPublicClient(t, srv)
	confidential, err := srv.RegisterClient(ctx, ClientRegistration{RedirectURIs: []string{testutil.TestRedirectURI}})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	confidentialID := confidential.Client.ClientID

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{name: "public without secret", clientID: publicID},
		{name: "public with secret", clientID: publicID, secret: "x", wantErr: true},
		{name: "confidential with secret", clientID: confidentialID, secret: confidential.ClientSecret},
		{name: "confidential wrong secret", clientID: confidentialID, secret: "wrong", wantErr: true},
		{name: "confidential without secret", clientID: confidentialID, wantErr: true},
		{name: "unknown client", clientID: "unknown", secret: "x", wantErr: true},
		{name: "empty client id", clientID: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.AuthenticateClient(ctx, tt.clientID, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AuthenticateClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidClient) {
				t.Errorf("error = %v, want ErrInvalidClient", err)
			}
			if got := srv.VerifySecret(ctx, tt.clientID, tt.secret); got == tt.wantErr {
				t.Errorf("VerifySecret() = %v, want %v", got, !tt.wantErr)
			}
		})
	}
}

func TestServer_DeregisterClient(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()
	clientID := registerPublicClient(t, srv)
	otherID := registerPublicClient(t, srv)

	code, verifier := authorize(t, srv, clientID)
	pair := exchange(t, srv, clientID, code, verifier)
	pending, pendingVerifier := authorize(t, srv, clientID)
	otherCode, otherVerifier := authorize(t, srv, otherID)
	otherPair := exchange(t, srv, otherID, otherCode, otherVerifier)

	if err := srv.DeregisterClient(ctx, clientID); err != nil {
		t.Fatalf("DeregisterClient() error = %v", err)
	}

	if _, err := srv.LookupClient(ctx, clientID); !errors.Is(err, ErrInvalidClient) {
		t.Errorf("LookupClient() error = %v, want ErrInvalidClient", err)
	}
	for _, tok := range []*storage.Token{pair.AccessToken, pair.RefreshToken} {
		meta, err := srv.Introspect(ctx, tok.Value)
		if err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
		if meta.Active {
			t.Errorf("%s token still active after deregistration", tok.Type)
		}
	}
	if _, err := store.GetAuthorizationCode(ctx, pending.Code); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("pending code survived deregistration: %v", err)
	}
	_, err := srv.ExchangeAuthorizationCode(ctx, TokenRequest{
		Code: pending.Code, ClientID: clientID, RedirectURI: testutil.TestRedirectURI, CodeVerifier: pendingVerifier,
	})
	testutil.AssertErrorIs(t, err, ErrInvalidGrant)

	// Other clients are untouched
	meta, err := srv.Introspect(ctx, otherPair.AccessToken.Value)
	if err != nil || !meta.Active {
		t.Errorf("other client's token affected: active=%v err=%v", meta != nil && meta.Active, err)
	}

	if err := srv.DeregisterClient(ctx, clientID); !errors.Is(err, ErrInvalidClient) {
		t.Errorf("second DeregisterClient() error = %v, want ErrInvalidClient", err)
	}
}

func TestServer_ClientStoreUnavailable(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.Stop()

	_, err := srv.RegisterClient(context.Background(), ClientRegistration{
		RedirectURIs:            []string{testutil.TestRedirectURI},
		TokenEndpointAuthMethod: storage.TokenEndpointAuthMethodNone,
	})
	testutil.AssertErrorIs(t, err, ErrStorageUnavailable)

	_, err = srv.LookupClient(context.Background(), "any")
	testutil.AssertErrorIs(t, err, ErrStorageUnavailable)

}
