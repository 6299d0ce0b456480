// Package cluster implements the draft-creating tool layer. Cluster tools
// read the domain layer to assemble a source context, compute a risk level
// and recommended approvers from business rules, and write exactly one
// thing: a new draft. They never touch production state.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pohlai88/lynx/pkg/mcp/domain"
	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
	"github.com/pohlai88/lynx/pkg/store"
)

// Service holds the draft store and domain data sources behind the cluster
// tool handlers.
type Service struct {
	drafts    store.DraftStore
	directory domain.Directory
}

// NewService creates the cluster tool service.
func NewService(drafts store.DraftStore, directory domain.Directory) *Service {
	return &Service{drafts: drafts, directory: directory}
}

// Register adds every cluster tool to the registry.
func (s *Service) Register(reg *registry.Registry) {
	reg.MustRegister(registry.Tool{
		ID:          "docs.cluster.draft.create",
		Name:        "Create Document Draft",
		Description: "Creates a document draft with a preview and suggested next actions. Draft-only, no side effects.",
		Layer:       protocol.LayerCluster,
		Risk:        protocol.RiskMedium,
		Domain:      "docs",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"doc_type", "title"},
			"properties": map[string]interface{}{
				"doc_type":        map[string]interface{}{"type": "string"},
				"doc_id":          map[string]interface{}{"type": "string"},
				"title":           map[string]interface{}{"type": "string"},
				"source_refs":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"content_outline": map[string]interface{}{"type": "string"},
				"request_id":      map[string]interface{}{"type": "string"},
			},
		},
		Handler: s.docsDraftCreate,
	})

	reg.MustRegister(registry.Tool{
		ID:          "vpm.cluster.payment.draft.create",
		Name:        "Create Payment Draft",
		Description: "Creates a payment draft with a vendor snapshot, approval requirements, and an execution readiness checklist. Draft-only, no side effects.",
		Layer:       protocol.LayerCluster,
		Risk:        protocol.RiskMedium,
		Domain:      "vpm",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"vendor_id", "amount", "due_date"},
			"properties": map[string]interface{}{
				"vendor_id":    map[string]interface{}{"type": "string"},
				"amount":       map[string]interface{}{"type": "number", "exclusiveMinimum": 0},
				"currency":     map[string]interface{}{"type": "string"},
				"due_date":     map[string]interface{}{"type": "string"},
				"invoice_refs": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"request_id":   map[string]interface{}{"type": "string"},
			},
		},
		Handler: s.paymentDraftCreate,
	})

	reg.MustRegister(registry.Tool{
		ID:          "workflow.cluster.draft.create",
		Name:        "Create Workflow Draft",
		Description: "Creates a workflow draft with steps, approvers, and policy gates. Draft-only, no side effects.",
		Layer:       protocol.LayerCluster,
		Risk:        protocol.RiskMedium,
		Domain:      "workflow",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"workflow_kind", "name"},
			"properties": map[string]interface{}{
				"workflow_kind": map[string]interface{}{"type": "string"},
				"name":          map[string]interface{}{"type": "string"},
				"steps":         map[string]interface{}{"type": "array"},
				"linked_object": map[string]interface{}{"type": "string"},
				"request_id":    map[string]interface{}{"type": "string"},
			},
		},
		Handler: s.workflowDraftCreate,
	})
}

// createDraft persists a new draft in draft status. The request id, when
// present, makes the call idempotent within (tenant, draft type).
func (s *Service) createDraft(ctx context.Context, execCtx *session.ExecutionContext, draftType string,
	payload, sourceContext map[string]interface{}, risk protocol.RiskLevel, approvers []string, requestID string) (*protocol.Draft, error) {

	draft := &protocol.Draft{
		DraftID:              uuid.NewString(),
		TenantID:             execCtx.TenantID,
		DraftType:            draftType,
		Payload:              payload,
		Status:               protocol.StatusDraft,
		RiskLevel:            risk,
		CreatedBy:            execCtx.UserID,
		CreatedAt:            time.Now().UTC(),
		SourceContext:        sourceContext,
		RecommendedApprovers: approvers,
		RequestID:            requestID,
	}
	stored, _, err := s.drafts.CreateDraft(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s draft: %w", draftType, err)
	}
	return stored, nil
}

func (s *Service) docsDraftCreate(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	docType, _ := input["doc_type"].(string)
	title, _ := input["title"].(string)
	outline, _ := input["content_outline"].(string)
	requestID, _ := input["request_id"].(string)

	payload := map[string]interface{}{
		"doc_type":        docType,
		"title":           title,
		"content_outline": outline,
		"source_refs":     stringSlice(input["source_refs"]),
	}
	if docID, ok := input["doc_id"].(string); ok && docID != "" {
		payload["doc_id"] = docID
	}

	sourceContext := map[string]interface{}{
		"domain_tools_used": []string{"tenant.domain.profile.read"},
	}

	draft, err := s.createDraft(ctx, execCtx, "docs", payload, sourceContext,
		protocol.RiskMedium, []string{"admin"}, requestID)
	if err != nil {
		return nil, err
	}

	var preview strings.Builder
	fmt.Fprintf(&preview, "# %s\n\n**Type:** %s\n**Status:** Draft\n**Created By:** %s\n", title, docType, execCtx.UserID)
	if outline != "" {
		fmt.Fprintf(&preview, "\n## Outline\n\n%s\n", outline)
	}

	return map[string]interface{}{
		"draft_id":         draft.DraftID,
		"status":           string(draft.Status),
		"preview_markdown": preview.String(),
		"next_actions":     []string{"submit-for-approval", "edit", "cancel"},
		"tenant_id":        execCtx.TenantID,
	}, nil
}

func (s *Service) paymentDraftCreate(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	vendorID, _ := input["vendor_id"].(string)
	amount, _ := input["amount"].(float64)
	currency, _ := input["currency"].(string)
	if currency == "" {
		currency = "USD"
	}
	dueDate, _ := input["due_date"].(string)
	requestID, _ := input["request_id"].(string)
	invoiceRefs := stringSlice(input["invoice_refs"])

	enabled, err := s.directory.FeatureFlag(ctx, execCtx.TenantID, "vpm")
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, fmt.Errorf("VPM module is disabled for this tenant")
	}

	vendor, err := s.directory.Vendor(ctx, execCtx.TenantID, vendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, fmt.Errorf("vendor %s not found", vendorID)
	}
	if vendor.Status != "active" {
		return nil, fmt.Errorf("vendor %s is not active (status: %s), cannot create payment draft for inactive vendor",
			vendorID, vendor.Status)
	}

	policy, err := s.directory.Policy(ctx, execCtx.TenantID, "payment")
	if err != nil {
		return nil, err
	}

	threshold := 0.0
	var approvers []string
	for _, rule := range policy.ApprovalRules {
		if rule.WorkflowType == "payment" {
			threshold = rule.ThresholdAmount
			approvers = append(approvers, rule.RequiredRole...)
		}
	}
	if len(approvers) == 0 {
		approvers = []string{"admin", "finance_manager"}
	}
	approvers = dedupe(approvers)

	amountWithinThreshold := amount <= threshold
	requiresManualReview := len(vendor.RiskFlags) > 0 || !amountWithinThreshold

	readiness := map[string]interface{}{
		"is_vendor_active":        true,
		"bank_details_present":    nil, // unknown until vendor bank data is wired
		"amount_within_threshold": amountWithinThreshold,
		"requires_manual_review":  requiresManualReview,
	}

	risk := protocol.RiskMedium
	if requiresManualReview {
		risk = protocol.RiskHigh
	}

	payload := map[string]interface{}{
		"vendor_id":           vendorID,
		"vendor_snapshot":     vendorSnapshot(vendor),
		"amount":              amount,
		"currency":            currency,
		"due_date":            dueDate,
		"invoice_refs":        invoiceRefs,
		"execution_readiness": readiness,
		"policy_snapshot":     policySnapshot(policy),
	}
	sourceContext := map[string]interface{}{
		"domain_tools_used": []string{
			"vpm.domain.vendor.read",
			"workflow.domain.policy.read",
			"featureflag.domain.status.read",
		},
		"vendor_snapshot": vendorSnapshot(vendor),
		"policy_snapshot": policySnapshot(policy),
	}

	draft, err := s.createDraft(ctx, execCtx, "vpm_payment", payload, sourceContext, risk, approvers, requestID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"draft_id":              draft.DraftID,
		"status":                string(draft.Status),
		"preview_markdown":      paymentPreview(draft, vendor, currency, amount, dueDate, invoiceRefs, approvers),
		"risk_level":            string(draft.RiskLevel),
		"recommended_approvers": draft.RecommendedApprovers,
		"vendor_snapshot":       vendorSnapshot(vendor),
		"execution_readiness":   readiness,
		"tenant_id":             execCtx.TenantID,
	}, nil
}

func (s *Service) workflowDraftCreate(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	kind, _ := input["workflow_kind"].(string)
	name, _ := input["name"].(string)
	requestID, _ := input["request_id"].(string)

	enabled, err := s.directory.FeatureFlag(ctx, execCtx.TenantID, "workflow")
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, fmt.Errorf("workflow module is disabled for this tenant")
	}

	policy, err := s.directory.Policy(ctx, execCtx.TenantID, kind)
	if err != nil {
		return nil, err
	}

	var approvers []string
	for _, rule := range policy.ApprovalRules {
		approvers = append(approvers, rule.RequiredRole...)
	}
	if len(approvers) == 0 {
		approvers = []string{"admin"}
	}
	approvers = dedupe(approvers)

	// Payment and approval workflows gate money movement downstream.
	risk := protocol.RiskMedium
	if kind == "payment" || kind == "approval" {
		risk = protocol.RiskHigh
	}

	payload := map[string]interface{}{
		"workflow_kind":   kind,
		"name":            name,
		"steps":           input["steps"],
		"policy_snapshot": policySnapshot(policy),
	}
	if linked, ok := input["linked_object"].(string); ok && linked != "" {
		payload["linked_object"] = linked
	}
	sourceContext := map[string]interface{}{
		"domain_tools_used": []string{
			"workflow.domain.policy.read",
			"featureflag.domain.status.read",
		},
		"policy_snapshot": policySnapshot(policy),
	}

	draft, err := s.createDraft(ctx, execCtx, "workflow", payload, sourceContext, risk, approvers, requestID)
	if err != nil {
		return nil, err
	}

	var preview strings.Builder
	fmt.Fprintf(&preview, "# Workflow Draft: %s\n\n**Kind:** %s\n**Risk Level:** %s\n**Recommended Approvers:** %s\n",
		name, kind, risk, strings.Join(approvers, ", "))

	return map[string]interface{}{
		"draft_id":              draft.DraftID,
		"status":                string(draft.Status),
		"preview_markdown":      preview.String(),
		"risk_level":            string(draft.RiskLevel),
		"recommended_approvers": draft.RecommendedApprovers,
		"tenant_id":             execCtx.TenantID,
	}, nil
}

func paymentPreview(draft *protocol.Draft, vendor *domain.VendorProfile, currency string, amount float64,
	dueDate string, invoiceRefs, approvers []string) string {

	riskFlags := "None"
	if len(vendor.RiskFlags) > 0 {
		riskFlags = "- " + strings.Join(vendor.RiskFlags, "\n- ")
	}
	invoices := "- None"
	if len(invoiceRefs) > 0 {
		invoices = "- " + strings.Join(invoiceRefs, "\n- ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Payment Draft\n\n")
	fmt.Fprintf(&b, "**Vendor:** %s (%s)\n**Amount:** %s %.2f\n**Due Date:** %s\n**Status:** Draft\n\n",
		vendor.VendorName, vendor.VendorID, currency, amount, dueDate)
	fmt.Fprintf(&b, "## Vendor Snapshot\n\n- **Status:** %s\n- **Payment Terms:** %s\n- **Risk Flags:**\n%s\n\n",
		vendor.Status, vendor.PaymentTerms, riskFlags)
	fmt.Fprintf(&b, "## Approval Requirements\n\n- **Risk Level:** %s\n- **Recommended Approvers:** %s\n\n",
		draft.RiskLevel, strings.Join(approvers, ", "))
	fmt.Fprintf(&b, "## Invoice References\n\n%s\n\n", invoices)
	b.WriteString("---\n*This is a draft. Submit for approval to execute payment.*\n")
	return b.String()
}

func vendorSnapshot(v *domain.VendorProfile) map[string]interface{} {
	return map[string]interface{}{
		"vendor_id":     v.VendorID,
		"vendor_name":   v.VendorName,
		"status":        v.Status,
		"risk_flags":    v.RiskFlags,
		"payment_terms": v.PaymentTerms,
	}
}

func policySnapshot(p *domain.PolicySnapshot) map[string]interface{} {
	rules := make([]map[string]interface{}, 0, len(p.ApprovalRules))
	for _, r := range p.ApprovalRules {
		rules = append(rules, map[string]interface{}{
			"workflow_type":    r.WorkflowType,
			"required_role":    r.RequiredRole,
			"threshold_amount": r.ThresholdAmount,
			"approval_count":   r.ApprovalCount,
		})
	}
	return map[string]interface{}{"approval_rules": rules}
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
