package security

import (
	"net"
	"net/http"
	"strings"
)

// IPResolver extracts the client IP address used for rate limiting and audit logs.
//
// SECURITY: Only set TrustProxy when running behind a reverse proxy you control.
// Otherwise clients can pick their own rate limiting identity via X-Forwarded-For.
type IPResolver struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP
	TrustProxy bool

	// TrustedProxyCount is how many proxies to skip from the right of X-Forwarded-For.
	// 0 is treated as 1.
	TrustedProxyCount int
}

// ClientIP returns the client IP of r
func (res IPResolver) ClientIP(r *http.Request) string {
	if res.TrustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), res.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor picks the client entry of "client, proxy1, proxy2".
// The rightmost trustedProxyCount entries were appended by our own proxies;
// if there are fewer entries than that, the leftmost one is used.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	ips := strings.Split(xff, ",")
	idx := max(len(ips)-trustedProxyCount-1, 0)

	clientIP := strings.TrimSpace(ips[idx])
	if net.ParseIP(clientIP) == nil {
		return ""
	}
	return clientIP
}

// ipFromRemoteAddr strips the port from the direct peer address
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
