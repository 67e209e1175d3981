package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/bucketedge/internal/log"
)

// requireNonPublicNetwork rejects peers outside loopback, private and
// link-local ranges, and any request that came through a proxy. Nothing
// on the admin port should ever be behind the load balancer.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !nonPublicPeer(r.RemoteAddr) || proxied(r) {
			L.Warn(r.Context(), "ops request from public network rejected",
				"network.peer.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublicPeer(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return false
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	// ::ffff:8.8.8.8 must be judged as 8.8.8.8
	a = a.Unmap()
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast()
}

func proxied(r *http.Request) bool {
	return r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("Forwarded") != ""
}
