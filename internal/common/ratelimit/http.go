package ratelimit

import (
	"net"
	"net/http"
)

// KeyFunc picks the bucket a request is charged to
type KeyFunc func(r *http.Request) string

// RemoteIPKey charges requests to the client address
func RemoteIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HTTPMiddleware rejects requests over the limit with 429
func HTTPMiddleware(limiter *Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.TryAcquireForKey("http:" + key(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate_limit","message":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
