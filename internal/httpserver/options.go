package httpserver

import (
	"net/http"

	"github.com/keithlinneman/bucketedge/internal/health"
	"github.com/keithlinneman/bucketedge/internal/httpmw"
	"github.com/keithlinneman/bucketedge/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	Health    health.Probe
	Readiness health.Probe

	// SiteHandler receives every path the health routes do not claim.
	SiteHandler http.Handler

	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	// CORSOrigins is passed to httpmw.CORS; empty disables CORS.
	CORSOrigins []string

	// MaxBodyBytes caps request bodies. Default 1 KiB.
	MaxBodyBytes int64
}
