package auth

import (
	"context"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the Firebase principal behind a request. Storefront shoppers and admin operators
// share it; admin authority is resolved separately from the admin user store.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Locale        string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// SignInProvider returns the provider that issued the session, e.g. "password" or "google.com".
func (i *Identity) SignInProvider() string {
	if i == nil || i.token == nil {
		return ""
	}
	return i.token.Firebase.SignInProvider
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
