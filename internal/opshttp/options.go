package opshttp

import (
	"net/http"

	"github.com/keithlinneman/bucketedge/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Inventory is mounted at /-/inventory when set.
	Inventory http.Handler

	UseRecoverMW bool
	OnPanic      func() // e.g. the panic counter
}
