package middleware

import (
	"net/http"

	"github.com/mnehpets/servicebox/service"
)

// Identity keys contributed by SessionIdentity.
const (
	IdentitySession = "session"
	IdentityUser    = "user"
)

// SessionIdentity is service middleware that exposes the cookie session
// loaded by a SessionProcessor. It contributes the session id and, when
// signed in, the user; requests without a session contribute nothing.
func SessionIdentity() service.Middleware {
	return service.MiddlewareFunc(func(r *http.Request) (service.Identity, error) {
		s, ok := SessionFromContext(r.Context())
		if !ok || s.ID() == "" {
			return nil, nil
		}
		id := service.Identity{IdentitySession: s.ID()}
		if user, ok := s.User(); ok {
			id[IdentityUser] = user
		}
		return id, nil
	})
}

// CurrentSession returns the session of the request a call belongs to. It
// is meant for method callbacks, whose context derives from the request.
func CurrentSession(c *service.Context) (*Session, error) {
	s, ok := SessionFromContext(c)
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}
