// HTTP middleware enforcing the tiers.

package ratelimit

import (
	"net"
	"net/http"
	"strconv"
)

// DenyFunc writes the response of a rejected request. The rate limit headers
// are already set.
type DenyFunc func(w http.ResponseWriter, r *http.Request, res Result)

// Middleware limits the requests reaching next per client IP.
func Middleware(c *Config, next http.Handler, deny DenyFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier := c.Match(r.Method, r.URL.Path)
		if tier == nil {
			next.ServeHTTP(w, r)
			return
		}
		res := tier.Limiter.Allow(Key(ClientIP(r), tier.Name))
		WriteHeaders(w, res)
		if !res.Allowed {
			deny(w, r, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteHeaders sets the X-RateLimit-* headers, and Retry-After when res was
// denied.
func WriteHeaders(w http.ResponseWriter, res Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	}
}

// Key returns the bucket key of a client in a tier.
func Key(ip, tier string) string {
	return "ip:" + ip + ":" + tier
}

// ClientIP returns the host part of the request's remote address.
//
// Forwarding headers are not trusted: the server is meant to be reached
// directly.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
