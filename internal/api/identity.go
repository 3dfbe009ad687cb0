package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/traduki/traduki/internal/usage"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity resolves the caller's quota identity and stores it on the request
// context. An authenticated caller supplies an opaque id in X-User-ID;
// anonymous callers are tracked by network address, resolved through the
// usual proxy headers before falling back to the socket address.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := usage.Identity{
			UserID: strings.TrimSpace(r.Header.Get("X-User-ID")),
			Addr:   clientAddr(r),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func identityFrom(r *http.Request) usage.Identity {
	if id, ok := r.Context().Value(identityKey).(usage.Identity); ok {
		return id
	}
	return usage.Identity{Addr: clientAddr(r)}
}

func clientAddr(r *http.Request) string {
	// Loopback hops are local proxy artifacts, not the client; skip them and
	// keep walking.
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr := strings.TrimSpace(part); addr != "" && !isLoopback(addr) {
			return addr
		}
	}
	for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if addr := strings.TrimSpace(r.Header.Get(h)); addr != "" && !isLoopback(addr) {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(addr string) bool {
	return strings.HasPrefix(addr, "127.") || addr == "::1"
}

// BearerAuth guards the API with a shared service token. An empty token
// disables the check.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
