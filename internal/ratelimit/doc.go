// Package ratelimit provides per-IP rate limiting with background eviction
// of idle entries and a ceiling on how many IPs are tracked.
//
// It is single-instance and in-memory. It blunts a single client hammering
// the bucket through this server; distributed floods belong to the CDN or
// WAF in front of it.
package ratelimit
