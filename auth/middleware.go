package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/mnehpets/servicebox/service"
)

// CodeUnauthorized is the application error code for a missing or rejected
// credential.
const CodeUnauthorized jsonrpc.Code = -32001

// Identity keys contributed by the middleware in this package.
const (
	IdentitySubject  = "subject"
	IdentityIssuer   = "issuer"
	IdentityProvider = "provider"
	IdentityUserID   = "user_id"
	IdentityEmail    = "email"
)

// ErrNoToken is the cause of an unauthorized error when a required bearer
// token is absent.
var ErrNoToken = errors.New("auth: no bearer token")

// Unauthorized returns the protocol error reported for rejected credentials.
func Unauthorized(reason string) *jsonrpc.Error {
	return jsonrpc.NewError(CodeUnauthorized, "Unauthorized", map[string]any{"reason": reason})
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// BearerOption configures Bearer and UserInfo.
type BearerOption func(*bearerConfig)

type bearerConfig struct {
	required bool
}

// Required rejects requests without a token. By default such requests
// contribute no identity and proceed anonymously.
func Required() BearerOption {
	return func(c *bearerConfig) { c.required = true }
}

func newBearerConfig(opts []BearerOption) bearerConfig {
	var c bearerConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Bearer is service middleware that verifies an ID token passed as a bearer
// token against the providers of reg, in id order. The first provider that
// accepts the token contributes subject, issuer, provider, user_id and, when
// verified, email. A token no provider accepts fails the batch with
// CodeUnauthorized.
func Bearer(reg *Registry, opts ...BearerOption) service.Middleware {
	cfg := newBearerConfig(opts)
	return service.MiddlewareFunc(func(r *http.Request) (service.Identity, error) {
		raw, ok := BearerToken(r)
		if !ok {
			if cfg.required {
				return nil, Unauthorized(ErrNoToken.Error())
			}
			return nil, nil
		}
		for _, p := range reg.Providers() {
			if p.Verifier() == nil {
				continue
			}
			token, err := p.Verifier().Verify(r.Context(), raw)
			if err != nil {
				continue
			}
			return tokenIdentity(token, p.ID()), nil
		}
		return nil, Unauthorized("token rejected")
	})
}

func tokenIdentity(token *oidc.IDToken, providerID string) service.Identity {
	id := service.Identity{
		IdentitySubject:  token.Subject,
		IdentityIssuer:   token.Issuer,
		IdentityProvider: providerID,
		IdentityUserID:   StableID(token, providerID),
	}
	if email, ok := VerifiedEmail(token); ok {
		id[IdentityEmail] = email
	}
	return id
}

// UserInfo is service middleware that resolves an access token passed as a
// bearer token through p's userinfo endpoint. It contributes subject,
// provider, user_id and, when verified, email.
func UserInfo(p *Provider, opts ...BearerOption) service.Middleware {
	cfg := newBearerConfig(opts)
	return service.MiddlewareFunc(func(r *http.Request) (service.Identity, error) {
		raw, ok := BearerToken(r)
		if !ok {
			if cfg.required {
				return nil, Unauthorized(ErrNoToken.Error())
			}
			return nil, nil
		}
		info, err := p.UserInfo(r.Context(), raw)
		if err != nil {
			return nil, Unauthorized("userinfo rejected")
		}
		id := service.Identity{
			IdentitySubject:  info.Subject,
			IdentityProvider: p.ID(),
			IdentityUserID:   p.ID() + ":" + info.Subject,
		}
		if info.EmailVerified && info.Email != "" {
			id[IdentityEmail] = info.Email
		}
		return id, nil
	})
}
