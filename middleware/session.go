package middleware

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/mnehpets/servicebox/endpoint"
)

var (
	ErrNoSession  = errors.New("middleware: no session")
	ErrNoSuchKey  = errors.New("middleware: no such session key")
	ErrNilSession = errors.New("middleware: nil session")
)

const (
	// DefaultCookieName names the session cookie.
	DefaultCookieName = "SBX"
	// DefaultLifetime is the lifetime of a new session.
	DefaultLifetime = 24 * time.Hour
	// DefaultRefreshWindow is how close to expiry a session must be before a
	// request extends it.
	DefaultRefreshWindow = DefaultLifetime / 4
	// MaxLifetime caps the total lifetime of a session, extensions included.
	MaxLifetime = 90 * 24 * time.Hour

	sessionIDBytes = 16
)

// sessionState is the sealed cookie payload.
type sessionState struct {
	ID       string                     `cbor:"1,keysasint"`
	User     string                     `cbor:"2,keysasint"`
	Expires  time.Time                  `cbor:"3,keysasint"`
	Lifetime int64                      `cbor:"4,keysasint"`
	Values   map[string]cbor.RawMessage `cbor:"5,keysasint,omitempty"`
}

func newSessionState(lifetime time.Duration) (*sessionState, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	now := time.Now().Truncate(time.Second)
	return &sessionState{
		ID:       base64.RawURLEncoding.EncodeToString(b),
		Expires:  now.Add(lifetime),
		Lifetime: int64(lifetime / time.Second),
		Values:   map[string]cbor.RawMessage{},
	}, nil
}

// check reports whether the state is live at now, and extends it to
// now+lifetime when it expires within window. Extension never moves the
// expiry past the issue time plus MaxLifetime.
func (st *sessionState) check(now time.Time, window, lifetime time.Duration) (live, extended bool) {
	if st == nil || st.Lifetime <= 0 || st.Lifetime > int64(MaxLifetime/time.Second) {
		return false, false
	}
	if st.Expires.IsZero() || !now.Before(st.Expires) {
		return false, false
	}
	if window <= 0 || lifetime < window || st.Expires.Sub(now) >= window {
		return true, false
	}

	issued := st.Expires.Add(-time.Duration(st.Lifetime) * time.Second)
	target := now.Add(lifetime).Truncate(time.Second)
	if limit := issued.Add(MaxLifetime); target.After(limit) {
		target = limit
	}
	if !target.After(st.Expires) {
		return true, false
	}
	st.Lifetime += int64(target.Sub(st.Expires) / time.Second)
	st.Expires = target
	return true, true
}

// Session is the cookie-backed session of one HTTP request. A request
// without a valid session cookie starts with no session; SignIn and Set
// create one.
type Session struct {
	state    *sessionState
	lifetime time.Duration
	dirty    bool
}

// ID returns the session id, or "" when there is no session.
func (s *Session) ID() string {
	if s == nil || s.state == nil {
		return ""
	}
	return s.state.ID
}

// User returns the signed-in user, if any.
func (s *Session) User() (string, bool) {
	if s == nil || s.state == nil || s.state.User == "" {
		return "", false
	}
	return s.state.User, true
}

// Expires returns the expiry of the session, or the zero time.
func (s *Session) Expires() time.Time {
	if s == nil || s.state == nil {
		return time.Time{}
	}
	return s.state.Expires
}

// SignIn starts a fresh session for user. Existing values are dropped and
// the session id changes.
func (s *Session) SignIn(user string) error {
	if s == nil {
		return ErrNilSession
	}
	st, err := newSessionState(s.lifetime)
	if err != nil {
		return err
	}
	st.User = user
	s.state = st
	s.dirty = true
	return nil
}

// SignOut ends the session and clears the cookie.
func (s *Session) SignOut() error {
	if s == nil {
		return ErrNilSession
	}
	s.state = nil
	s.dirty = true
	return nil
}

// Get decodes the value stored under key into dest.
func (s *Session) Get(key string, dest any) error {
	if s == nil || s.state == nil {
		return ErrNoSession
	}
	raw, ok := s.state.Values[key]
	if !ok {
		return ErrNoSuchKey
	}
	return cbor.Unmarshal(raw, dest)
}

// Set stores value under key, starting an anonymous session if needed.
func (s *Session) Set(key string, value any) error {
	if s == nil {
		return ErrNilSession
	}
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	if s.state == nil {
		st, err := newSessionState(s.lifetime)
		if err != nil {
			return err
		}
		s.state = st
	}
	if s.state.Values == nil {
		s.state.Values = map[string]cbor.RawMessage{}
	}
	s.state.Values[key] = raw
	s.dirty = true
	return nil
}

func (s *Session) Delete(key string) {
	if s == nil || s.state == nil {
		return
	}
	if _, ok := s.state.Values[key]; ok {
		delete(s.state.Values, key)
		s.dirty = true
	}
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by a SessionProcessor.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// SessionOption configures a SessionProcessor.
type SessionOption func(*SessionProcessor)

func WithCookieName(name string) SessionOption {
	return func(p *SessionProcessor) { p.cookieName = name }
}

func WithCookieOptions(opts ...CookieOption) SessionOption {
	return func(p *SessionProcessor) { p.cookieOpts = append(p.cookieOpts, opts...) }
}

func WithLifetime(d time.Duration) SessionOption {
	return func(p *SessionProcessor) { p.lifetime = d }
}

func WithRefreshWindow(d time.Duration) SessionOption {
	return func(p *SessionProcessor) { p.window = d }
}

// SessionProcessor is an endpoint.Processor that loads the session cookie
// into the request context and writes it back, sealed, when the session
// changes.
type SessionProcessor struct {
	cookie     *SecureCookie
	cookieName string
	cookieOpts []CookieOption
	lifetime   time.Duration
	window     time.Duration
}

// NewSessionProcessor seals cookies with keys[keyID]; the other keys are
// accepted when opening, for rotation.
func NewSessionProcessor(keyID string, keys map[string][]byte, opts ...SessionOption) (*SessionProcessor, error) {
	p := &SessionProcessor{
		cookieName: DefaultCookieName,
		lifetime:   DefaultLifetime,
		window:     DefaultRefreshWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.lifetime <= 0 || p.lifetime > MaxLifetime {
		return nil, errors.New("middleware: session lifetime out of range")
	}
	c, err := NewSecureCookie(p.cookieName, keyID, keys, p.cookieOpts...)
	if err != nil {
		return nil, err
	}
	p.cookie = c
	return p, nil
}

func (p *SessionProcessor) load(r *http.Request) *Session {
	s := &Session{lifetime: p.lifetime}
	ck, err := r.Cookie(p.cookie.Name())
	if err != nil {
		return s
	}
	var st sessionState
	if err := p.cookie.Open(ck, &st); err != nil {
		s.dirty = true
		return s
	}
	live, extended := st.check(time.Now(), p.window, p.lifetime)
	if !live {
		s.dirty = true
		return s
	}
	s.state = &st
	s.dirty = extended
	return s
}

func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next endpoint.Next) error {
	s := p.load(r)
	endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
		p.save(w, s)
	})
	return next(w, r.WithContext(WithSession(r.Context(), s)))
}

func (p *SessionProcessor) save(w http.ResponseWriter, s *Session) {
	if !s.dirty {
		return
	}
	if s.state == nil {
		http.SetCookie(w, p.cookie.Expire())
		return
	}
	maxAge := int(time.Until(s.state.Expires) / time.Second)
	if maxAge <= 0 {
		http.SetCookie(w, p.cookie.Expire())
		return
	}
	if ck, err := p.cookie.Seal(s.state, maxAge); err == nil {
		http.SetCookie(w, ck)
	}
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
