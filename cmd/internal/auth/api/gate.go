package authapi

import (
	"context"
	"net/http"

	"blogapi/cmd/internal/auth/codec"
)

// Identity is the caller resolved by RequireAuth.
type Identity struct {
	UserID string
	Login  string
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by RequireAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RequireAuth verifies the bearer access token and attaches the caller's
// Identity to the request context. It is a pure cryptographic check: rotation
// and logout state are not consulted, so an unexpired access token keeps
// working until it expires.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := authenticate(h.codec, bearerToken(r))
		if !ok {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// authenticate accepts only access tokens: subject and login present, no device binding.
func authenticate(c codec.Codec, token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	claims, err := c.Verify(token)
	if err != nil || claims.UserID == "" || claims.Login == "" || claims.DeviceID != "" {
		return Identity{}, false
	}
	return Identity{UserID: claims.UserID, Login: claims.Login}, true
}
