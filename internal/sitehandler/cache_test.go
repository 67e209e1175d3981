package sitehandler

import (
	"net/http"
	"testing"
)

func TestCacheControlFor(t *testing.T) {
	o := &Options{CacheControl: "public, max-age=86400"}
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "public, max-age=86400"},
		{http.StatusNotFound, "no-store"},
		{http.StatusInternalServerError, "no-store"},
	}
	for _, tt := range tests {
		if got := cacheControlFor(tt.status, o); got != tt.want {
			t.Errorf("status %d: got %q, want %q", tt.status, got, tt.want)
		}
	}
	if got := cacheControlFor(http.StatusOK, &Options{}); got != "" {
		t.Errorf("empty policy should omit header, got %q", got)
	}
}
