// Package httpmw provides HTTP middleware for the public listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// recover, request ID, client IP, rate limit, CORS, OTEL tracing, trace
// response headers, metrics, request logger, max body, access log and
// compression.
//
// Logged fields come from the connection and server-side state only. Query
// strings, user agents and other client headers are left out.
package httpmw
