package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// DefaultRealIPHeaders are consulted, in order, when a trusted proxy forwards
// a request.
var DefaultRealIPHeaders = []string{"X-Real-IP", "X-Forwarded-For"}

// RealIPConfig decides when forwarding headers may override the socket
// address. Headers are ignored unless the direct peer is in TrustedOrigins.
type RealIPConfig struct {
	TrustedOrigins []*net.IPNet
	TrustedHeaders []string
}

// ParseTrustedOrigins accepts CIDRs or bare IPs.
func ParseTrustedOrigins(values []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(values))
	for _, v := range values {
		if !strings.Contains(v, "/") {
			ip := net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", v)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// RealIP rewrites RemoteAddr to the forwarded client address when the
// request came through a trusted proxy.
func RealIP(cfg *RealIPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if addr := ExtractAddress(cfg, r); addr != r.RemoteAddr {
				r.RemoteAddr = addr
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractAddress returns the client address for r, honouring forwarding
// headers only from trusted peers.
func ExtractAddress(cfg *RealIPConfig, r *http.Request) string {
	if cfg == nil || len(cfg.TrustedOrigins) == 0 || len(cfg.TrustedHeaders) == 0 {
		return r.RemoteAddr
	}

	peer := net.ParseIP(clientIP(r))
	if peer == nil || !trusted(cfg.TrustedOrigins, peer) {
		return r.RemoteAddr
	}

	for _, header := range cfg.TrustedHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		first := strings.TrimSpace(strings.Split(value, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	return r.RemoteAddr
}

func trusted(origins []*net.IPNet, ip net.IP) bool {
	for _, n := range origins {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
