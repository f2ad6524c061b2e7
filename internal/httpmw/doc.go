// Package httpmw provides HTTP middleware for the admin server.
//
// opshttp composes them outermost first: request ID, panic recovery,
// client IP extraction and the private network guard, OTEL tracing, metrics,
// structured logging, then the chi router. Mutating routes additionally sit
// behind the per-IP rate limiter and MaxBody.
//
// Request headers other than the request ID are never copied into logs.
package httpmw
