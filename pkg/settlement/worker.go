// Package settlement runs the background sweep that moves queued payment
// settlement intents to a terminal state.
package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/store"
)

const (
	defaultSchedule  = "@every 30s"
	defaultBatchSize = 50

	// ProviderNone is the built-in no-op provider. Its intents settle
	// immediately; real providers are resolved by their own callbacks.
	ProviderNone = "none"
)

// Metrics counts sweep outcomes. Outcomes are "completed", "failed" and
// "skipped".
type Metrics interface {
	ObserveSettlement(provider, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSettlement(string, string) {}

// Option configures a Worker.
type Option func(*Worker)

// WithSchedule sets the cron schedule for the sweep. Accepts standard
// five-field cron expressions and @every descriptors.
func WithSchedule(expr string) Option {
	return func(w *Worker) { w.schedule = expr }
}

// WithBatchSize bounds how many intents one sweep claims.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithMetrics wires a metrics recorder into the worker.
func WithMetrics(m Metrics) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// Worker periodically claims queued settlement intents and resolves them.
type Worker struct {
	intents   store.SettlementStore
	schedule  string
	batchSize int
	metrics   Metrics

	mu   sync.Mutex
	cron *cron.Cron
}

// NewWorker creates a settlement worker over the given store.
func NewWorker(intents store.SettlementStore, opts ...Option) *Worker {
	w := &Worker{
		intents:   intents,
		schedule:  defaultSchedule,
		batchSize: defaultBatchSize,
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start schedules the sweep and begins running it.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return fmt.Errorf("settlement worker already started")
	}

	c := cron.New()
	_, err := c.AddFunc(w.schedule, func() {
		if _, err := w.Sweep(context.Background()); err != nil {
			log.Error().Err(err).Msg("Settlement sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid settlement schedule %q: %w", w.schedule, err)
	}

	c.Start()
	w.cron = c
	log.Info().Str("schedule", w.schedule).Int("batch_size", w.batchSize).
		Msg("Settlement worker started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Info().Msg("Settlement worker stopped")
}

// Sweep claims up to one batch of queued intents and resolves each one.
// It returns the number of intents that reached a terminal state.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	claimed, err := w.intents.DequeueIntents(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("dequeue settlement intents: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	resolved := 0
	for _, intent := range claimed {
		status, outcome := w.settle(intent)
		if status == "" {
			// Not ours to finish; an external provider callback will.
			w.metrics.ObserveSettlement(intent.Provider, outcome)
			continue
		}
		if err := w.intents.ResolveIntent(ctx, intent.PaymentID, status); err != nil {
			log.Error().Err(err).
				Str("payment_id", intent.PaymentID).
				Str("tenant_id", intent.TenantID).
				Msg("Failed to resolve settlement intent")
			continue
		}
		w.metrics.ObserveSettlement(intent.Provider, outcome)
		log.Info().
			Str("payment_id", intent.PaymentID).
			Str("tenant_id", intent.TenantID).
			Str("provider", intent.Provider).
			Str("status", string(status)).
			Msg("Settlement intent resolved")
		resolved++
	}
	return resolved, nil
}

// settle decides the terminal status for a claimed intent. An empty status
// leaves the intent in processing.
func (w *Worker) settle(intent *protocol.SettlementIntent) (protocol.SettlementStatus, string) {
	switch intent.Provider {
	case ProviderNone:
		return protocol.SettlementCompleted, "completed"
	case "":
		log.Warn().Str("payment_id", intent.PaymentID).
			Msg("Settlement intent has no provider, marking failed")
		return protocol.SettlementFailed, "failed"
	default:
		return "", "skipped"
	}
}
