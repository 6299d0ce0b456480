package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pohlai88/lynx/pkg/audit"
	"github.com/pohlai88/lynx/pkg/executor"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
)

const defaultMaxIterations = 10

// Config holds runner configuration.
type Config struct {
	Provider LLMProvider
	Executor *executor.Executor
	Registry *registry.Registry
	Auditor  *audit.Logger

	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	// MaxIterations bounds the tool-call loop; zero means the default.
	MaxIterations int
}

// Runner drives the model loop. Every tool call the model requests runs
// through the executor pipeline under the caller's execution context; the
// model gets no privileges the caller does not have.
type Runner struct {
	cfg Config
}

// NewRunner creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Runner{cfg: cfg}, nil
}

// modelToolName maps a dotted tool id to a name the model APIs accept.
func modelToolName(toolID string) string {
	return strings.ReplaceAll(toolID, ".", "_")
}

func (r *Runner) toolDefinitions() ([]ToolDefinition, map[string]string) {
	tools := r.cfg.Registry.ListAll()
	defs := make([]ToolDefinition, 0, len(tools))
	names := make(map[string]string, len(tools))
	for _, t := range tools {
		name := modelToolName(t.ID)
		names[name] = t.ID
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		defs = append(defs, ToolDefinition{
			Name:        name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return defs, names
}

// Run answers one query, executing any tool calls the model makes.
func (r *Runner) Run(ctx context.Context, execCtx *session.ExecutionContext, query string) (*RunResult, error) {
	defs, names := r.toolDefinitions()
	messages := []Message{{Role: "user", Content: query}}
	usage := &TokenUsage{}
	var executed []ToolCall

	for i := 0; i < r.cfg.MaxIterations; i++ {
		resp, err := r.cfg.Provider.Call(ctx, Request{
			Model:        r.cfg.Model,
			Messages:     messages,
			Tools:        defs,
			Temperature:  r.cfg.Temperature,
			MaxTokens:    r.cfg.MaxTokens,
			SystemPrompt: r.cfg.SystemPrompt,
		})
		if err != nil {
			r.cfg.Auditor.Run(ctx, execCtx, query, "", "failed")
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		if resp.Usage != nil {
			usage.InputTokens += resp.Usage.InputTokens
			usage.OutputTokens += resp.Usage.OutputTokens
		}

		if len(resp.ToolCalls) == 0 {
			r.cfg.Auditor.Run(ctx, execCtx, query, resp.Content, "completed")
			return &RunResult{
				Response:  resp.Content,
				ToolCalls: executed,
				Usage:     usage,
				RunID:     execCtx.RunID,
			}, nil
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			toolID, ok := names[call.Name]
			if !ok {
				toolID = call.Name
			}
			executed = append(executed, ToolCall{ID: call.ID, Name: toolID, Parameters: call.Parameters})

			output, err := r.cfg.Executor.Execute(ctx, toolID, call.Parameters, execCtx)
			messages = append(messages, Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    toolResultContent(output, err),
			})
			if err != nil {
				log.Debug().Err(err).Str("tool", toolID).Str("run_id", execCtx.RunID).
					Msg("Tool call rejected or failed during agent run")
			}
		}
	}

	r.cfg.Auditor.Run(ctx, execCtx, query, "", "aborted")
	return nil, fmt.Errorf("agent run exceeded %d iterations", r.cfg.MaxIterations)
}

// toolResultContent renders a tool outcome for the model. Pipeline
// refusals are reported as plain text so the model can explain them
// instead of retrying blindly.
func toolResultContent(output map[string]interface{}, err error) string {
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	raw, marshalErr := json.Marshal(output)
	if marshalErr != nil {
		return fmt.Sprintf(`{"error": %q}`, marshalErr.Error())
	}
	return string(raw)
}
