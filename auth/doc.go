// Package auth authenticates resource owners during the authorization step.
//
// The authorization server depends only on the Authenticator interface. Two
// implementations are provided: StaticProvider checks a username and password
// against bcrypt hashes held in memory, and Anonymous always yields one fixed
// subject for deployments that run with authentication disabled.
package auth
