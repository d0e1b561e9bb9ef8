package ingest

import (
	"net"
	"net/http"
	"strings"

	"iptrack/internal/support"
)

const deniedMessage = "Access denied. Your IP has been blocked."

// Middleware runs Handle before next and answers 403 for denied addresses.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := ClientIP(r, p.trustForwarded)

		if p.Handle(r.Context(), address, r.URL.Path) == Deny {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(deniedMessage))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the normalized client address of r, or "" if none can
// be determined. Proxy headers are only consulted when trustForwarded is set;
// the first public X-Forwarded-For hop wins, then X-Real-IP, then the peer.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if ip := support.NormalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return support.NormalizeIP(host)
}

func forwardedFor(header string) string {
	if header == "" {
		return ""
	}

	var fallback string
	for _, part := range strings.Split(header, ",") {
		ip := support.NormalizeIP(part)
		if ip == "" {
			continue
		}
		if support.IsPublicIP(net.ParseIP(ip)) {
			return ip
		}
		if fallback == "" {
			fallback = ip
		}
	}
	return fallback
}
