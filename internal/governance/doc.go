// Package governance provides runtime safety controls for node
// execution: retry with exponential backoff, circuit breaking, and rate
// limiting for outbound calls.
//
// The engine runner applies retry policies around node attempts; call
// components layer the breaker and limiter on top for their upstream
// targets. The primitives are deliberately free of engine types so they
// can wrap any call path.
package governance
