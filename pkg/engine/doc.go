// Package engine implements the Execution Engine: the component that
// turns one principal's execution request into a sandboxed result. It
// owns the six-step synchronous pipeline (rate limit, screen, session,
// serialize, dispatch, wrap-up), the async job queue built on top of it,
// and the replay ring that lets a past execution be inspected or rerun.
package engine
