package middleware

import (
	"errors"
	"net"
	"net/http"

	phlow "github.com/phlow-dev/phlow"
)

// AuthContextFromRequest returns the [phlow.AuthContext] a guard attached to
// the request, if any.
func AuthContextFromRequest(r *http.Request) (*phlow.AuthContext, bool) {
	return phlow.AuthContextFrom(r.Context())
}

// Guard returns middleware that authenticates every request through the
// engine without requiring any permission.
func Guard(engine *phlow.Engine) func(http.Handler) http.Handler {
	return RequirePermissions(engine)
}

// RequirePermissions returns middleware that authenticates every request and
// rejects tokens missing any of the given permissions.
func RequirePermissions(engine *phlow.Engine, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := phlow.WithClientIP(r.Context(), remoteIP(r))
			auth, err := engine.AuthenticateRequest(ctx, requestHeaders{r}, permissions...)
			if err != nil {
				http.Error(w, statusText(err), statusCode(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(phlow.WithAuthContext(ctx, auth)))
		})
	}
}

type requestHeaders struct {
	r *http.Request
}

func (h requestHeaders) Header(name string) (string, bool) {
	value := h.r.Header.Get(name)
	return value, value != ""
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, phlow.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, phlow.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, phlow.ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func statusText(err error) string {
	switch statusCode(err) {
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "service unavailable"
	default:
		return "unauthorized"
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
