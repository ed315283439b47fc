// Package middleware provides HTTP middleware for the evaluation server.
//
// Available middleware:
//   - RateLimiter: per-client token bucket limiting
//   - RequestID: tags every request with an ID
//   - Logging: one structured log line per request
//   - Recovery: turns handler panics into 500 responses
//   - CORS: permissive cross-origin headers
//   - Timeout: bounds the request context
//
// Usage:
//
//	handler = middleware.Chain(mux,
//		middleware.Recovery(log),
//		middleware.RequestID,
//		middleware.Logging(log),
//	)
package middleware
