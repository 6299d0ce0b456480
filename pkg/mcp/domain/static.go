package domain

import (
	"context"
	"sync"
)

// StaticDirectory is a fixture-backed Directory for tests and dev mode.
// Vendors and flags are keyed per tenant; unknown tenants see empty data,
// matching the isolation posture of the real stores.
type StaticDirectory struct {
	mu      sync.RWMutex
	vendors map[string]map[string]*VendorProfile // tenant -> vendor_id -> profile
	flags   map[string]map[string]bool
	policy  map[string]*PolicySnapshot // tenant -> policy
	tenants map[string]map[string]interface{}
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		vendors: make(map[string]map[string]*VendorProfile),
		flags:   make(map[string]map[string]bool),
		policy:  make(map[string]*PolicySnapshot),
		tenants: make(map[string]map[string]interface{}),
	}
}

// AddVendor registers a vendor profile under a tenant.
func (d *StaticDirectory) AddVendor(tenantID string, v VendorProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vendors[tenantID] == nil {
		d.vendors[tenantID] = make(map[string]*VendorProfile)
	}
	d.vendors[tenantID][v.VendorID] = &v
}

// SetFlag sets a feature flag for a tenant.
func (d *StaticDirectory) SetFlag(tenantID, flag string, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.flags[tenantID] == nil {
		d.flags[tenantID] = make(map[string]bool)
	}
	d.flags[tenantID][flag] = on
}

// SetPolicy sets the policy snapshot for a tenant.
func (d *StaticDirectory) SetPolicy(tenantID string, p PolicySnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policy[tenantID] = &p
}

// SetTenantProfile sets the profile returned for a tenant.
func (d *StaticDirectory) SetTenantProfile(tenantID string, profile map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[tenantID] = profile
}

// Vendor implements Directory.
func (d *StaticDirectory) Vendor(_ context.Context, tenantID, vendorID string) (*VendorProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.vendors[tenantID][vendorID]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

// VendorSummary implements Directory.
func (d *StaticDirectory) VendorSummary(_ context.Context, tenantID string) (map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	summary := make(map[string]int)
	for _, v := range d.vendors[tenantID] {
		summary[v.Status]++
	}
	return summary, nil
}

// Policy implements Directory. The snapshot is filtered to rules matching
// the workflow type; an unknown type yields a default admin-only rule.
func (d *StaticDirectory) Policy(_ context.Context, tenantID, workflowType string) (*PolicySnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if p, ok := d.policy[tenantID]; ok {
		var rules []ApprovalRule
		for _, r := range p.ApprovalRules {
			if r.WorkflowType == workflowType {
				rules = append(rules, r)
			}
		}
		if len(rules) > 0 {
			return &PolicySnapshot{ApprovalRules: rules}, nil
		}
	}
	return &PolicySnapshot{
		ApprovalRules: []ApprovalRule{{
			WorkflowType:    workflowType,
			RequiredRole:    []string{"admin"},
			ThresholdAmount: 1000.0,
			ApprovalCount:   1,
		}},
	}, nil
}

// FeatureFlag implements Directory. Unset flags default to on, matching the
// permissive defaults of dev environments.
func (d *StaticDirectory) FeatureFlag(_ context.Context, tenantID, flag string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if flags, ok := d.flags[tenantID]; ok {
		if on, set := flags[flag]; set {
			return on, nil
		}
	}
	return true, nil
}

// TenantProfile implements Directory.
func (d *StaticDirectory) TenantProfile(_ context.Context, tenantID string) (map[string]interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.tenants[tenantID]; ok {
		return p, nil
	}
	return map[string]interface{}{
		"tenant_id":       tenantID,
		"enabled_modules": []string{"workflow", "vpm", "docs"},
	}, nil
}
