package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may call the API. Entries are
// exact origins, "*" for any origin, or a leading-dot domain suffix such as
// ".marcasino.io".
type OriginPolicy struct {
	origins  []string
	allowAll bool
}

// NewOriginPolicy builds a policy from the configured origins.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{origins: origins}
	for _, origin := range origins {
		if origin == "*" {
			p.allowAll = true
			break
		}
	}
	return p
}

// Allows reports whether origin is listed.
func (p *OriginPolicy) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.allowAll {
		return true
	}
	for _, allowed := range p.origins {
		if allowed == origin {
			return true
		}
		if strings.HasPrefix(allowed, ".") && strings.HasSuffix(hostOf(origin), allowed) {
			return true
		}
	}
	return false
}

// CheckOrigin is a websocket upgrade check. Browsers do not apply CORS to
// upgrades, so the Origin header is matched here: requests without one
// (non-browser clients), same-host requests and listed origins pass.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return p.Allows(origin)
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// CORSMiddleware answers preflights and sets CORS headers for listed origins.
type CORSMiddleware struct {
	policy *OriginPolicy
}

// NewCORSMiddleware creates a CORS middleware for origins.
func NewCORSMiddleware(origins []string) *CORSMiddleware {
	return &CORSMiddleware{policy: NewOriginPolicy(origins)}
}

// Handler returns the CORS middleware handler.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if m.policy.Allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Trace-ID")
			h.Set("Access-Control-Expose-Headers", "X-Trace-ID")
			h.Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
