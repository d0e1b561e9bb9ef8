package support

import (
	"net"
	"strings"
)

// NormalizeIP returns the canonical textual form of raw, or "" when raw is not
// an IPv4 or IPv6 address. IPv4-mapped IPv6 addresses collapse to dotted IPv4
// and IPv6 zones are dropped.
func NormalizeIP(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
	if idx := strings.IndexByte(trimmed, '%'); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	parsed := net.ParseIP(trimmed)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}
	return parsed.String()
}

// IsPublicIP reports whether ip is routable on the public internet.
func IsPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast())
}
