package sitehandler

import "net/http"

// cacheControlFor returns the Cache-Control value for a response status.
// Only successful objects are cacheable; error pages must not outlive the
// condition that produced them.
func cacheControlFor(status int, o *Options) string {
	if status == http.StatusOK {
		return o.CacheControl
	}
	return "no-store"
}
