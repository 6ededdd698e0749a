package auth

import (
	"github.com/coreos/go-oidc/v3/oidc"
)

// VerifiedEmail returns the email claim of token when email_verified is true.
func VerifiedEmail(token *oidc.IDToken) (string, bool) {
	if token == nil {
		return "", false
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := token.Claims(&claims); err != nil || !claims.EmailVerified || claims.Email == "" {
		return "", false
	}
	return claims.Email, true
}

// StableID identifies the user behind token across providers, as
// "provider:subject".
func StableID(token *oidc.IDToken, providerID string) string {
	if token == nil {
		return ""
	}
	return providerID + ":" + token.Subject
}
