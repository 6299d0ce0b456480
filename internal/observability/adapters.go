package observability

import (
	"time"
)

// ExecutorMetrics adapts the prometheus recorders to the executor's
// metrics interface.
type ExecutorMetrics struct{}

func (ExecutorMetrics) ObserveExecution(toolID, outcome string, elapsed time.Duration) {
	RecordToolExecution(toolID, outcome, elapsed)
}

// SettlementMetrics adapts the prometheus recorders to the settlement
// worker's metrics interface.
type SettlementMetrics struct{}

func (SettlementMetrics) ObserveSettlement(provider, outcome string) {
	RecordSettlementSweep(provider, outcome)
}
