package protocol

import "time"

// SettlementStatus is the downstream settlement state of a payment.
type SettlementStatus string

const (
	SettlementQueued     SettlementStatus = "queued"
	SettlementProcessing SettlementStatus = "processing"
	SettlementCompleted  SettlementStatus = "completed"
	SettlementFailed     SettlementStatus = "failed"
)

// Valid reports whether s is one of the enumerated settlement statuses.
func (s SettlementStatus) Valid() bool {
	switch s {
	case SettlementQueued, SettlementProcessing, SettlementCompleted, SettlementFailed:
		return true
	}
	return false
}

// SettlementIntent is the downstream settlement placeholder minted by a
// successful payment execution. Created exactly once per payment.
type SettlementIntent struct {
	PaymentID        string                 `json:"payment_id"`
	SettlementStatus SettlementStatus       `json:"settlement_status"`
	Provider         string                 `json:"provider"` // none|manual|bank
	TenantID         string                 `json:"tenant_id"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
