package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies holds the networks of reverse proxies allowed to report the
// client address in X-Forwarded-For.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies accepts CIDRs and bare IPs.
func ParseTrustedProxies(raw []string) (TrustedProxies, error) {
	out := make(TrustedProxies, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q is not an IP or CIDR", s)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (p TrustedProxies) trusts(ip net.IP) bool {
	for _, n := range p {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address a request came from. The peer address wins
// unless the peer is a trusted proxy; then X-Forwarded-For is walked from the
// right and the first hop that is not a trusted proxy is the client.
func (p TrustedProxies) ClientIP(r *http.Request) string {
	peer := peerIP(r)
	ip := net.ParseIP(peer)
	if ip == nil || !p.trusts(ip) {
		return peer
	}

	var hops []string
	for _, h := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop := net.ParseIP(hops[i])
		if hop == nil {
			break
		}
		client = hop.String()
		if !p.trusts(hop) {
			break
		}
	}
	return client
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
