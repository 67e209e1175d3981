// Package health provides composable probes and the HTTP handlers behind
// the liveness and readiness endpoints.
//
// [ShutdownGate] fails readiness during drain so the load balancer stops
// routing before the listeners close.
package health
