// Package executor is the single choke point for tool invocation. Every
// tool call, whatever its layer, goes through Execute and its fixed
// pipeline: resolve, validate input, authorize, risk gate, invoke,
// validate output, audit.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pohlai88/lynx/pkg/audit"
	"github.com/pohlai88/lynx/pkg/permissions"
	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
)

var tracer = otel.Tracer("github.com/pohlai88/lynx/pkg/executor")

// Metrics receives one observation per finished execution. Implementations
// must be safe for concurrent use.
type Metrics interface {
	ObserveExecution(toolID, outcome string, elapsed time.Duration)
}

// Executor runs tools from a registry under permission and risk gates.
type Executor struct {
	registry *registry.Registry
	checker  *permissions.Checker
	auditor  *audit.Logger

	// Production mode turns on the explicit-approval gate for high-risk
	// tools. Outside production, draft approval alone is accepted.
	productionMode bool

	metrics Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithProductionMode enables the high-risk explicit-approval gate.
func WithProductionMode(on bool) Option {
	return func(e *Executor) { e.productionMode = on }
}

// WithMetrics wires an execution metrics observer.
func WithMetrics(m Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor over the given registry, checker, and auditor.
func New(reg *registry.Registry, checker *permissions.Checker, auditor *audit.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry: reg,
		checker:  checker,
		auditor:  auditor,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.productionMode {
		log.Warn().Msg("High-risk approval gate is off outside production mode")
	}
	return e
}

// Execute runs one tool call through the full pipeline.
//
// The step order matters: a permission failure must never reveal whether
// the input would have validated further down, and the approval gate runs
// strictly after the permission check so a denial is never masked as a
// missing approval.
func (e *Executor) Execute(ctx context.Context, toolID string, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	// No tool context exists yet, so a lookup miss is not audited.
	tool, err := e.registry.Get(toolID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.id", tool.ID),
		attribute.String("tool.layer", string(tool.Layer)),
		attribute.String("tool.risk", string(tool.Risk)),
		attribute.String("tenant.id", execCtx.TenantID),
		attribute.String("run.id", execCtx.RunID),
	))
	defer span.End()
	start := time.Now()

	// Handlers type-assert against JSON shapes (numbers as float64), so the
	// raw map is coerced through a JSON round-trip before validation and
	// dispatch.
	input, err = normalizeInput(input)
	if err != nil {
		e.auditor.Refusal(ctx, execCtx, tool, "Input validation failed: "+err.Error())
		e.observe(tool.ID, "refused", start)
		span.SetStatus(codes.Error, "input validation failed")
		return nil, &InputValidationError{ToolID: tool.ID, Details: []string{err.Error()}}
	}

	if details := e.validateInput(tool, input); details != nil {
		e.auditor.Refusal(ctx, execCtx, tool, "Input validation failed: "+details[0])
		e.observe(tool.ID, "refused", start)
		span.SetStatus(codes.Error, "input validation failed")
		return nil, &InputValidationError{ToolID: tool.ID, Details: details}
	}

	decision := e.checker.Check(ctx, tool, execCtx)
	if !decision.Allowed {
		e.auditor.Refusal(ctx, execCtx, tool, "Insufficient permissions")
		log.Warn().
			Str("tool", tool.ID).
			Str("user_id", execCtx.UserID).
			Str("source", string(decision.Source)).
			Strs("required_role", tool.RequiredRole).
			Strs("required_scope", tool.RequiredScope).
			Str("reason", decision.Reason).
			Msg("Permission denied")
		e.observe(tool.ID, "refused", start)
		span.SetStatus(codes.Error, "permission denied")
		return nil, &PermissionDeniedError{
			ToolID:        tool.ID,
			Reason:        decision.Reason,
			RequiredRole:  tool.RequiredRole,
			RequiredScope: tool.RequiredScope,
		}
	}

	if tool.Risk == protocol.RiskHigh && e.productionMode {
		if execCtx.ExplicitApproval == nil || !*execCtx.ExplicitApproval {
			e.auditor.Refusal(ctx, execCtx, tool, "Explicit approval required for high-risk action in production mode")
			e.observe(tool.ID, "refused", start)
			span.SetStatus(codes.Error, "approval required")
			return nil, &ApprovalRequiredError{ToolID: tool.ID}
		}
	}

	e.auditor.ExecutionStart(ctx, execCtx, tool, input)

	output, err := tool.Handler(ctx, input, execCtx)
	if err != nil {
		e.auditor.ExecutionFailure(ctx, execCtx, tool, err)
		e.observe(tool.ID, "failed", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// Errors are reported, never swallowed.
		return nil, err
	}

	// Output validation is best effort: a shape mismatch is logged but the
	// handler's work is already done and the result is returned as-is.
	if warning := e.validateOutput(tool, output); warning != "" {
		e.auditor.ExecutionWarning(ctx, execCtx, tool, warning)
	}

	e.auditor.ExecutionSuccess(ctx, execCtx, tool, output)
	e.observe(tool.ID, "succeeded", start)
	span.SetStatus(codes.Ok, "")
	return output, nil
}

func (e *Executor) observe(toolID, outcome string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveExecution(toolID, outcome, time.Since(start))
	}
}

// normalizeInput coerces arbitrary Go values to their JSON equivalents, so
// handlers and schema validation see one shape regardless of how the caller
// built the map.
func normalizeInput(input map[string]interface{}) (map[string]interface{}, error) {
	if input == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(input))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) validateInput(tool *registry.Tool, input map[string]interface{}) []string {
	schema := e.registry.InputSchema(tool.ID)
	if schema == nil {
		return nil
	}
	if input == nil {
		input = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return details
}

func (e *Executor) validateOutput(tool *registry.Tool, output map[string]interface{}) string {
	schema := e.registry.OutputSchema(tool.ID)
	if schema == nil || output == nil {
		return ""
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(output))
	if err != nil {
		return "output validation failed: " + err.Error()
	}
	if result.Valid() {
		return ""
	}
	msg := "output validation failed"
	for _, desc := range result.Errors() {
		msg += ": " + desc.String()
		break
	}
	return msg
}
