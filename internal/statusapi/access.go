package statusapi

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Allowlist controls which client addresses may read the status API.
type Allowlist struct {
	networks []*net.IPNet
	ips      map[string]struct{}
	allowAll bool
}

// NewAllowlist accepts CIDR blocks or single addresses. An empty list allows
// everyone.
func NewAllowlist(entries []string) (*Allowlist, error) {
	al := &Allowlist{ips: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("parse cidr %q: %w", entry, err)
			}
			al.networks = append(al.networks, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("parse ip %q: invalid address", entry)
		}
		al.ips[ip.String()] = struct{}{}
	}
	al.allowAll = len(al.networks) == 0 && len(al.ips) == 0
	return al, nil
}

// Allowed reports whether ip may access the API.
func (a *Allowlist) Allowed(ip net.IP) bool {
	if a == nil || a.allowAll {
		return true
	}
	if ip == nil {
		return false
	}
	if _, ok := a.ips[ip.String()]; ok {
		return true
	}
	for _, network := range a.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address. X-Forwarded-For is honoured only when
// the direct peer is one of the trusted proxies.
func ClientIP(r *http.Request, trusted []*net.IPNet) net.IP {
	if r == nil {
		return nil
	}
	remote := hostIP(r.RemoteAddr)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" && contains(trusted, remote) {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip
			}
		}
	}
	return remote
}

func hostIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}

func contains(networks []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, network := range networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseCIDRs converts CIDR strings into networks.
func ParseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	var result []*net.IPNet
	for _, entry := range cidrs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("parse cidr %q: %w", entry, err)
		}
		result = append(result, network)
	}
	return result, nil
}
