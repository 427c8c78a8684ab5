// README: Caller identity produced by the token verifiers.
package infra

import "context"

// Identity holds the verified token data used by downstream middleware.
type Identity struct {
	UID    string
	Email  string
	Name   string
	Role   string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw bearer token and returns the caller's identity.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Identity, error)
}
