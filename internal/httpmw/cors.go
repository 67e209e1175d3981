package httpmw

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows read-only cross-origin fetches of bucket objects from the
// given origins ("*" for any). An empty list disables the middleware.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept"},
		ExposedHeaders: []string{"Content-Length", "Content-Type", DefaultRequestIDHeader},
		MaxAge:         3600,
	})
}
