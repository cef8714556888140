package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const clientContextKey contextKey = "client_id"

// ClientCookieName identifies an anonymous browser across submissions.
const ClientCookieName = "waitlist_client"

// clientCookieMaxAge keeps the client id for a year.
const clientCookieMaxAge = 365 * 24 * 60 * 60

// ClientID assigns every browser a stable anonymous id, kept in a cookie, and
// puts it in the request context. The id scopes per-browser state such as the
// last accepted signup time.
func ClientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if cookie, err := r.Cookie(ClientCookieName); err == nil {
			if _, err := uuid.Parse(cookie.Value); err == nil {
				id = cookie.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     ClientCookieName,
				Value:    id,
				HttpOnly: true,
				Secure:   SecureCookies,
				SameSite: http.SameSiteLaxMode,
				Path:     "/",
				MaxAge:   clientCookieMaxAge,
			})
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClientID(r.Context(), id)))
	})
}

// GetClientID returns the anonymous client id, or "" outside the ClientID middleware.
func GetClientID(ctx context.Context) string {
	id, _ := ctx.Value(clientContextKey).(string)
	return id
}

// ContextWithClientID returns a context carrying id.
// Intended for use in tests.
func ContextWithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientContextKey, id)
}

// ClientIP extracts the caller's address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
