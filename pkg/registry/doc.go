// Package registry is the in-memory catalog of tools, each tagged with a
// layer, risk level, and business domain.
//
// Invariants:
// - Tool IDs are unique; layer and risk must be valid enum values.
// - The registry is append-only: no unregistration for the process lifetime.
// - Input and output schemas are compiled once, at registration.
//
// Usage:
//
//	reg := registry.New()
//	reg.MustRegister(registry.Tool{
//		ID: "system.domain.health.read", Name: "Read system health",
//		Description: "Reports pipeline health", Layer: protocol.LayerDomain,
//		Risk: protocol.RiskLow, Domain: "system",
//		Handler: func(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
//			return map[string]interface{}{"status": "ok"}, nil
//		},
//	})
package registry
