// Package ratelimit provides per-IP rate limiting for the admin API's
// mutating routes, with background eviction of idle entries and a ceiling on
// tracked visitors.
//
// It is in-memory and per process. The admin listener only accepts
// non-public clients, so the limiter guards against a runaway script or
// config loop flapping the logger rather than against hostile traffic.
package ratelimit
