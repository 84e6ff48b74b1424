// Package util provides common utility functions used across the authorization server.
//
// This package contains helper functions for string manipulation, scope handling
// and host classification that don't fit into domain-specific packages.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - ParseScope / FormatScope: Convert between space-delimited scope strings and slices
//   - IsLoopbackHost: Checks if a redirect URI host is a loopback address
package util
