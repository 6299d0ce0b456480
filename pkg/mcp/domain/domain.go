// Package domain implements the read-only advisory tool layer. Domain tools
// answer tenant-scoped questions and never mutate anything; by convention
// they ship with empty role and scope requirements.
package domain

import (
	"context"
	"fmt"

	"github.com/pohlai88/lynx/pkg/audit"
	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
	"github.com/pohlai88/lynx/pkg/store"
)

// VendorProfile is the tenant-scoped vendor record served by vendor reads
// and snapshotted into payment drafts.
type VendorProfile struct {
	VendorID      string   `json:"vendor_id"`
	VendorName    string   `json:"vendor_name"`
	Status        string   `json:"status"`
	RiskFlags     []string `json:"risk_flags"`
	PaymentTerms  string   `json:"payment_terms,omitempty"`
	TotalPayments float64  `json:"total_payments,omitempty"`
}

// ApprovalRule is one workflow policy rule.
type ApprovalRule struct {
	WorkflowType    string   `json:"workflow_type"`
	RequiredRole    []string `json:"required_role"`
	ThresholdAmount float64  `json:"threshold_amount"`
	ApprovalCount   int      `json:"approval_count"`
}

// PolicySnapshot is the workflow policy state at read time.
type PolicySnapshot struct {
	ApprovalRules []ApprovalRule `json:"approval_rules"`
}

// Directory serves the tenant business data behind the read tools. The
// production implementation is backed by the kernel; tests and dev mode use
// StaticDirectory.
type Directory interface {
	Vendor(ctx context.Context, tenantID, vendorID string) (*VendorProfile, error)
	VendorSummary(ctx context.Context, tenantID string) (map[string]int, error)
	Policy(ctx context.Context, tenantID, workflowType string) (*PolicySnapshot, error)
	FeatureFlag(ctx context.Context, tenantID, flag string) (bool, error)
	TenantProfile(ctx context.Context, tenantID string) (map[string]interface{}, error)
}

// AuditReader exposes recent audit events for the run read tool.
type AuditReader interface {
	RecentEvents(ctx context.Context, tenantID string, limit int) ([]audit.Event, error)
}

// HealthProber reports reachability of the surrounding platform.
type HealthProber interface {
	Health(ctx context.Context) error
}

// Service holds the data sources behind the domain tool handlers.
type Service struct {
	directory   Directory
	settlements store.SettlementStore
	auditReader AuditReader
	health      HealthProber
}

// Option configures a Service.
type Option func(*Service)

// WithAuditReader wires the audit sink behind audit.domain.run.read.
func WithAuditReader(r AuditReader) Option {
	return func(s *Service) { s.auditReader = r }
}

// WithHealthProber wires the kernel health probe behind
// system.domain.health.read.
func WithHealthProber(p HealthProber) Option {
	return func(s *Service) { s.health = p }
}

// NewService creates the domain tool service.
func NewService(directory Directory, settlements store.SettlementStore, opts ...Option) *Service {
	s := &Service{
		directory:   directory,
		settlements: settlements,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds every domain tool to the registry.
func (s *Service) Register(reg *registry.Registry) {
	reg.MustRegister(registry.Tool{
		ID:          "vpm.domain.vendor.read",
		Name:        "Read Vendor Profile",
		Description: "Returns a vendor profile with status and risk flags, or a status summary across vendors when no vendor id is given.",
		Layer:       protocol.LayerDomain,
		Risk:        protocol.RiskLow,
		Domain:      "vpm",
		InputSchema: objectSchema(map[string]interface{}{
			"vendor_id":          map[string]interface{}{"type": "string"},
			"include_risk_flags": map[string]interface{}{"type": "boolean"},
		}, nil),
		Handler: s.vendorRead,
	})

	reg.MustRegister(registry.Tool{
		ID:          "vpm.domain.payment.status.read",
		Name:        "Read Payment Status",
		Description: "Returns the settlement state of a payment created by the payment execute tool.",
		Layer:       protocol.LayerDomain,
		Risk:        protocol.RiskLow,
		Domain:      "vpm",
		InputSchema: objectSchema(map[string]interface{}{
			"payment_id": map[string]interface{}{"type": "string"},
		}, []interface{}{"payment_id"}),
		Handler: s.paymentStatusRead,
	})

	reg.MustRegister(registry.Tool{
		ID:          "workflow.domain.policy.read",
		Name:        "Read Workflow Policy",
		Description: "Returns approval rules and thresholds for a workflow type so cluster tools can compute risk and approvers.",
		Layer:       protocol.LayerDomain,
		Risk:        protocol.RiskLow,
		Domain:      "workflow",
		InputSchema: objectSchema(map[string]interface{}{
			"workflow_type": map[string]interface{}{"type": "string"},
		}, []interface{}{"workflow_type"}),
		Handler: s.policyRead,
	})

	reg.MustRegister(registry.Tool{
		ID:          "featureflag.domain.status.read",
		Name:        "Read Feature Flag Status",
		Description: "Reports whether a feature flag is on for the calling tenant.",
		Layer:       protocol.LayerDomain,
		Risk:        protocol.RiskLow,
		Domain:      "featureflag",
		InputSchema: objectSchema(map[string]interface{}{
			"flag": map[string]interface{}{"type": "string"},
		}, []interface{}{"flag"}),
		Handler: s.featureFlagRead,
	})

	reg.MustRegister(registry.Tool{
		ID:          "tenant.domain.profile.read",
		Name:        "Read Tenant Profile",
		Description: "Returns the calling tenant's profile and enabled modules.",
		Layer:       protocol.LayerDomain,
		Risk:        protocol.RiskLow,
		Domain:      "tenant",
		Handler:     s.tenantProfileRead,
	})

	reg.MustRegister(registry.Tool{
		ID:          "system.domain.health.read",
		Name:        "Read System Health",
		Description: "Reports reachability of the platform kernel and the local stores.",
		Layer:       protocol.LayerDomain,
		Risk:        protocol.RiskLow,
		Domain:      "system",
		Handler:     s.healthRead,
	})

	reg.MustRegister(registry.Tool{
		ID:          "audit.domain.run.read",
		Name:        "Read Recent Audit Events",
		Description: "Returns the most recent audit events for the calling tenant, newest first.",
		Layer:       protocol.LayerDomain,
		Risk:        protocol.RiskLow,
		Domain:      "audit",
		InputSchema: objectSchema(map[string]interface{}{
			"limit": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 200},
		}, nil),
		Handler: s.auditRunRead,
	})
}

func objectSchema(props map[string]interface{}, required []interface{}) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if required != nil {
		schema["required"] = required
	}
	return schema
}

func (s *Service) vendorRead(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	vendorID, _ := input["vendor_id"].(string)
	if vendorID == "" {
		summary, err := s.directory.VendorSummary(ctx, execCtx.TenantID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"vendors_summary": summary,
			"tenant_id":       execCtx.TenantID,
		}, nil
	}

	vendor, err := s.directory.Vendor(ctx, execCtx.TenantID, vendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, fmt.Errorf("vendor %s not found", vendorID)
	}
	if include, ok := input["include_risk_flags"].(bool); ok && !include {
		v := *vendor
		v.RiskFlags = nil
		vendor = &v
	}
	return map[string]interface{}{
		"vendor":    vendor,
		"tenant_id": execCtx.TenantID,
	}, nil
}

func (s *Service) paymentStatusRead(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	paymentID, _ := input["payment_id"].(string)
	intent, err := s.settlements.GetIntent(ctx, execCtx.TenantID, paymentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, fmt.Errorf("payment %s not found", paymentID)
	}
	return map[string]interface{}{
		"payment_id":        intent.PaymentID,
		"settlement_status": string(intent.SettlementStatus),
		"provider":          intent.Provider,
		"updated_at":        intent.UpdatedAt,
		"tenant_id":         execCtx.TenantID,
	}, nil
}

func (s *Service) policyRead(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	workflowType, _ := input["workflow_type"].(string)
	policy, err := s.directory.Policy(ctx, execCtx.TenantID, workflowType)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"policy":    policy,
		"tenant_id": execCtx.TenantID,
	}, nil
}

func (s *Service) featureFlagRead(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	flag, _ := input["flag"].(string)
	enabled, err := s.directory.FeatureFlag(ctx, execCtx.TenantID, flag)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"flag":      flag,
		"enabled":   enabled,
		"tenant_id": execCtx.TenantID,
	}, nil
}

func (s *Service) tenantProfileRead(ctx context.Context, _ map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	profile, err := s.directory.TenantProfile(ctx, execCtx.TenantID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"profile":   profile,
		"tenant_id": execCtx.TenantID,
	}, nil
}

func (s *Service) healthRead(ctx context.Context, _ map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	kernelStatus := "not_configured"
	if s.health != nil {
		if err := s.health.Health(ctx); err != nil {
			kernelStatus = "unreachable"
		} else {
			kernelStatus = "ok"
		}
	}
	return map[string]interface{}{
		"kernel":    kernelStatus,
		"stores":    "ok",
		"tenant_id": execCtx.TenantID,
	}, nil
}

func (s *Service) auditRunRead(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	if s.auditReader == nil {
		return nil, fmt.Errorf("audit event storage is not configured")
	}
	limit := 50
	if v, ok := input["limit"].(float64); ok {
		limit = int(v)
	}
	events, err := s.auditReader.RecentEvents(ctx, execCtx.TenantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]interface{}{
			"event_type": string(ev.Type),
			"run_id":     ev.RunID,
			"tool_id":    ev.ToolID,
			"actor_id":   ev.ActorID,
			"reason":     ev.Reason,
			"status":     ev.Status,
			"timestamp":  ev.Timestamp,
		})
	}
	return map[string]interface{}{
		"events":    out,
		"tenant_id": execCtx.TenantID,
	}, nil
}
