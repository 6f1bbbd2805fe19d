package phlow

import "context"

type clientIPContextKey struct{}
type authContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine copies it
// into every audit event it emits for the request.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// WithAuthContext attaches an authenticated [AuthContext] to ctx. Transport
// adapters use it to hand the decision result to downstream handlers.
func WithAuthContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthContextFrom returns the [AuthContext] previously attached to ctx, if any.
func AuthContextFrom(ctx context.Context) (*AuthContext, bool) {
	if ctx == nil {
		return nil, false
	}

	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return auth, ok
}
