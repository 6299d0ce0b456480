// Package session manages tenant-scoped sessions and the execution context
// that every tool call carries.
//
// The tenant ID on an ExecutionContext is the sole source of truth for tenant
// scoping. It is derived from an authenticated session, never from request
// payloads.
package session
