package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

type ClientIPOptions struct {
	// TrustedHops is how many proxies sit in front of the server. 0 ignores
	// X-Forwarded-For, 1 takes its rightmost entry (single load balancer),
	// 2 the one before that (CDN then load balancer), and so on.
	TrustedHops int
}

// ClientIP stores the peer address as the client IP, trusting no proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// clientAddr honors X-Forwarded-For only when the peer is on a private or
// loopback network and hops are configured. Otherwise the forwarding
// headers are removed so nothing downstream trusts them.
func clientAddr(r *http.Request, trustedHops int) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return "0.0.0.0"
	}
	if !isInternal(peer) || trustedHops <= 0 {
		dropForwarded(r)
		return peer.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer.String()
	}
	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than proxies: spoofed or misconfigured
		dropForwarded(r)
		return peer.String()
	}
	if cand, err := netip.ParseAddr(strings.TrimSpace(parts[idx])); err == nil {
		return cand.Unmap().String()
	}
	return peer.String()
}

func peerAddr(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func isInternal(a netip.Addr) bool {
	return a.IsPrivate() || a.IsLoopback()
}

func dropForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
