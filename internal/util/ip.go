package util

import (
	"net"
	"strings"
)

// IsLoopbackHost reports whether a URL host (without port) designates the local machine:
// "localhost", any address in 127.0.0.0/8, or ::1.
// Native apps use loopback redirects over plain http (RFC 8252 Section 7.3).
func IsLoopbackHost(host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
