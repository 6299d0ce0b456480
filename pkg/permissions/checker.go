// Package permissions decides whether an actor may invoke a tool.
//
// The decision combines local role/scope requirements with an optional
// remote policy service. A remote deny is authoritative; a remote failure
// falls back to the local result unless fail-closed mode is on.
package permissions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/session"
)

// PolicyDecision is the answer from a remote policy service.
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// PolicyClient consults an external policy service.
type PolicyClient interface {
	CheckPermission(ctx context.Context, userID, action, resourceType string) (PolicyDecision, error)
}

// DecisionSource names which code path produced a decision.
type DecisionSource string

const (
	SourceLocal             DecisionSource = "local"
	SourceRemote            DecisionSource = "remote"
	SourceRemoteUnavailable DecisionSource = "remote-unavailable"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Source  DecisionSource
	Reason  string
}

// Checker evaluates tool permissions. It is a pure decision function over
// its inputs; it performs no writes.
type Checker struct {
	policy PolicyClient

	// When set, a remote policy failure denies the call instead of
	// falling back to the local role/scope result.
	failClosed bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithPolicyClient wires a remote policy service into the checker.
func WithPolicyClient(client PolicyClient) Option {
	return func(c *Checker) { c.policy = client }
}

// WithFailClosed makes remote policy failures deny rather than fall back
// to the local decision.
func WithFailClosed(on bool) Option {
	return func(c *Checker) { c.failClosed = on }
}

// NewChecker creates a checker with local role/scope rules and any
// configured options.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check decides whether the context may invoke the tool.
//
// Order: role membership, then scope intersection, then the remote policy
// service. The remote service can deny an already-allowed call but is not
// consulted to rescue a locally-denied one.
func (c *Checker) Check(ctx context.Context, tool *registry.Tool, execCtx *session.ExecutionContext) Decision {
	if len(tool.RequiredRole) > 0 && !contains(tool.RequiredRole, execCtx.UserRole) {
		return Decision{
			Allowed: false,
			Source:  SourceLocal,
			Reason:  fmt.Sprintf("role %q is not in required set %v", execCtx.UserRole, tool.RequiredRole),
		}
	}

	if len(tool.RequiredScope) > 0 && !intersects(tool.RequiredScope, execCtx.UserScope) {
		return Decision{
			Allowed: false,
			Source:  SourceLocal,
			Reason:  fmt.Sprintf("none of scopes %v match required set %v", execCtx.UserScope, tool.RequiredScope),
		}
	}

	if c.policy == nil {
		return Decision{Allowed: true, Source: SourceLocal}
	}

	remote, err := c.policy.CheckPermission(ctx, execCtx.UserID, tool.ID, tool.Domain)
	if err != nil {
		log.Warn().
			Err(err).
			Str("tool", tool.ID).
			Str("user_id", execCtx.UserID).
			Bool("fail_closed", c.failClosed).
			Msg("Policy service unreachable")

		if c.failClosed {
			return Decision{
				Allowed: false,
				Source:  SourceRemoteUnavailable,
				Reason:  "policy service unreachable and fail-closed mode is on",
			}
		}
		// Named fallback path: the local role/scope result stands.
		return Decision{Allowed: true, Source: SourceRemoteUnavailable}
	}

	if !remote.Allowed {
		reason := remote.Reason
		if reason == "" {
			reason = "denied by policy service"
		}
		return Decision{Allowed: false, Source: SourceRemote, Reason: reason}
	}

	return Decision{Allowed: true, Source: SourceRemote}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(required, held []string) bool {
	for _, r := range required {
		if contains(held, r) {
			return true
		}
	}
	return false
}
