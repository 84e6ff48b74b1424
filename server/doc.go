// Package server implements the OAuth 2.1 authorization server core.
//
// The Server type ties together a client registry, single-use authorization
// codes bound to a PKCE S256 challenge, and access/refresh tokens grouped into
// families. It knows nothing about HTTP; the root package maps its errors onto
// OAuth error responses.
//
// A flow moves through REQUESTED, CODE_ISSUED and then either REDEEMED or EXPIRED:
//
//	code, err := srv.Authorize(ctx, server.AuthorizeRequest{
//	    ClientID:            clientID,
//	    RedirectURI:         "https://app.example/cb",
//	    CodeChallenge:       challenge,
//	    CodeChallengeMethod: "S256",
//	    Subject:             "demo_user",
//	})
//	pair, err := srv.ExchangeAuthorizationCode(ctx, server.TokenRequest{
//	    Code:         code.Code,
//	    ClientID:     clientID,
//	    RedirectURI:  "https://app.example/cb",
//	    CodeVerifier: verifier,
//	})
//
// Redemption and refresh rotation are atomic in the store: of any number of
// concurrent attempts with one code or refresh token, at most one succeeds.
// Every error wraps one of the Err* kinds declared in errors.go.
package server
