package httpmw

import "net/http"

// SecurityHeaders sets hardening headers that still allow framing. Bucket
// pages run inside third-party iframes, so no X-Frame-Options,
// frame-ancestors or COEP/COOP.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), geolocation=(), microphone=(), payment=(), usb=()")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		// assets are loaded from embedding origins
		h.Set("Cross-Origin-Resource-Policy", "cross-origin")
		next.ServeHTTP(w, r)
	})
}
