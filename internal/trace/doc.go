// Package trace provides the tracing subsystem for rsbridge.
//
// The trace package records builds, cache lookups, native calls and handle
// releases to help diagnose slow compiles and leaked native resources.
//
// # Usage
//
// Enable tracing via rsbridge.toml:
//
//	[trace]
//	level = "detail"
//	output = "-"
//
// or via the CLI:
//
//	rsbridge build --trace=- --trace-level=phase snippet.rs
//
// # Architecture
//
//   - Nop: zero-overhead no-op tracer when disabled
//   - StreamTracer: immediate write to output (file/stderr)
//   - RingTracer: circular buffer, dumped on demand
//   - MultiTracer: combines multiple tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only failures
//   - LevelPhase: context-level operations and builds
//   - LevelDetail: per-artifact events (cache hit/miss, load, swap)
//   - LevelDebug: everything including individual calls and releases
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeBuild, "rustc", parentID)
//	defer span.End("")
package trace
