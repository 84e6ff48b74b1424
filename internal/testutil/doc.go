// Package testutil provides testing utilities and fixtures for the authorization
// server: a controllable clock, PKCE pairs, and ready-made storage records.
package testutil
