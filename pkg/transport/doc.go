// Package transport defines the handler interface and middleware chain
// shared by every broker transport (HTTP, MCP).
//
// The transport layer bridges external clients and the Execution Engine.
// It deserializes incoming requests into the domain types defined in
// pkg/api, dispatches them through the Executor interface, and serializes
// results back to the client.
//
// # Executor
//
// Executor is the single contract every transport dispatches through: code
// execution (sync and async), replay, workspace files, and session/
// principal administration. Concrete transports (pkg/transport/http,
// pkg/transport/mcp) hold an Executor and never talk to *engine.Engine or
// its dependencies directly.
//
// # Middleware
//
// The middleware chain wraps an Executor with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), and structured logging via log/slog, applied to the two
// caller-facing dispatch operations (ExecuteSync, SubmitAsync) that every
// transport shares. A middleware decorator embeds the wrapped Executor and
// overrides only the methods it needs; every other call falls through
// unchanged.
package transport
