// Package instrumentation provides OpenTelemetry instrumentation for the authorization server.
//
// It wraps a meter provider and a tracer provider and exposes pre-built metric
// instruments through Metrics. When disabled, no-op providers are used and every
// Record call costs next to nothing.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "mcp-authserver",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	store.SetInstrumentation(inst)
//	srv.SetInstrumentation(inst)
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{method, endpoint, status}
//
// Authorization flows:
//   - oauth.client.registered{client_type}, oauth.client.deregistered
//   - oauth.code.issued{client_id}, oauth.code.redeemed{client_id}, oauth.code.rejected{reason}
//   - oauth.flow.transitions{from, to}
//   - oauth.token.issued{grant_type}, oauth.token.refreshed{client_id}
//   - oauth.token.revoked{token_type}, oauth.token.family_revoked{reason}
//   - oauth.token.introspected{active}
//
// Security:
//   - oauth.ratelimit.exceeded{limiter_type}
//   - oauth.authentication.failed{kind}
//   - oauth.pkce.validation_failed{method}
//   - oauth.code.reuse_detected
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.clients.count, storage.codes.count, storage.tokens.count, storage.families.count
//
// # Security
//
// Credential values are never recorded. Spans and metrics carry client IDs,
// token types, family IDs and results only.
package instrumentation
