package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-authserver/introspection"
)

type whoamiResponse struct {
	Subject   string `json:"sub"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

type timeResponse struct {
	CurrentTime string `json:"current_time"`
	Timezone    string `json:"timezone"`
	Timestamp   int64  `json:"timestamp"`
}

// newResourceHandler serves /health openly and every other route behind introspection
func newResourceHandler(verifier introspection.Verifier, logger *slog.Logger, now func() time.Time, requiredScopes ...string) http.Handler {
	protect := introspection.Middleware(verifier, logger, requiredScopes...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /whoami", protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ := introspection.TokenInfoFromContext(r.Context())
		writeJSON(w, whoamiResponse{
			Subject:   info.Subject,
			ClientID:  info.ClientID,
			Scope:     info.Scope,
			ExpiresAt: info.ExpiresAt,
		})
	})))
	mux.Handle("GET /time", protect(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t := now().UTC()
		writeJSON(w, timeResponse{
			CurrentTime: t.Format(time.RFC3339),
			Timezone:    "UTC",
			Timestamp:   t.Unix(),
		})
	})))
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}
