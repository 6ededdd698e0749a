package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("middleware: malformed cookie")
	ErrCookieInvalid = errors.New("middleware: cookie failed authentication")
	ErrCookieConfig  = errors.New("middleware: invalid cookie configuration")
)

// maxCookieLen bounds the cookie values Open will decode.
const maxCookieLen = 8192

// KeySize is the key length of the default AEAD (XChaCha20-Poly1305).
const KeySize = chacha20poly1305.KeySize

// Sealer seals values with an AEAD. Values are sealed with the key named by
// KeyID and may be opened with any key in Keys, which allows rotation.
//
// Sealed form: keyID "." base64url(nonce || ciphertext).
type Sealer struct {
	KeyID   string
	Keys    map[string][]byte
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

func NewSealer(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*Sealer, error) {
	if newAEAD == nil {
		newAEAD = chacha20poly1305.NewX
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrCookieConfig, keyID)
	}
	for id, k := range keys {
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrCookieConfig, id, err)
		}
	}
	return &Sealer{KeyID: keyID, Keys: keys, NewAEAD: newAEAD}, nil
}

func (s *Sealer) Seal(plain, aad []byte) (string, error) {
	aead, err := s.NewAEAD(s.Keys[s.KeyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return s.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(value string, aad []byte) ([]byte, error) {
	if value == "" || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, enc, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || enc == "" {
		return nil, ErrCookieFormat
	}
	key, ok := s.Keys[keyID]
	if !ok {
		return nil, ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return nil, ErrCookieFormat
	}
	aead, err := s.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCookieFormat
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], aad)
	if err != nil {
		return nil, ErrCookieInvalid
	}
	return plain, nil
}

// CookieOption configures a SecureCookie.
type CookieOption func(*SecureCookie)

func CookiePath(path string) CookieOption {
	return func(c *SecureCookie) { c.path = path }
}

func CookieDomain(domain string) CookieOption {
	return func(c *SecureCookie) { c.domain = domain }
}

// CookieSecure sets the Secure attribute. It defaults to true; disable it
// only for plain-HTTP development servers.
func CookieSecure(secure bool) CookieOption {
	return func(c *SecureCookie) { c.secure = secure }
}

func CookieSameSite(mode http.SameSite) CookieOption {
	return func(c *SecureCookie) { c.sameSite = mode }
}

// CookieAEAD replaces the default XChaCha20-Poly1305 AEAD.
func CookieAEAD(newAEAD func(key []byte) (cipher.AEAD, error)) CookieOption {
	return func(c *SecureCookie) { c.newAEAD = newAEAD }
}

// SecureCookie stores a CBOR-encoded value in a sealed, HttpOnly cookie.
// The cookie name, domain, path and Secure flag are bound to the sealed
// value, so a value cannot be replayed under other attributes.
type SecureCookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	newAEAD  func(key []byte) (cipher.AEAD, error)
	sealer   *Sealer
}

func NewSecureCookie(name, keyID string, keys map[string][]byte, opts ...CookieOption) (*SecureCookie, error) {
	c := &SecureCookie{
		name:     name,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.path == "" {
		c.path = "/"
	}
	sealer, err := NewSealer(keyID, keys, c.newAEAD)
	if err != nil {
		return nil, err
	}
	c.sealer = sealer
	return c, nil
}

func (c *SecureCookie) Name() string {
	return c.name
}

func (c *SecureCookie) aad() []byte {
	secure := "f"
	if c.secure {
		secure = "t"
	}
	return []byte(strings.Join([]string{c.name, c.domain, c.path, secure}, ":"))
}

func (c *SecureCookie) cookie(value string, maxAge int) *http.Cookie {
	ck := &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   maxAge,
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}
	if maxAge > 0 {
		ck.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	} else {
		ck.Expires = time.Unix(0, 0)
	}
	return ck
}

// Seal encodes v into a cookie that expires after maxAge seconds.
func (c *SecureCookie) Seal(v any, maxAge int) (*http.Cookie, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("%w: non-positive max age", ErrCookieConfig)
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	value, err := c.sealer.Seal(plain, c.aad())
	if err != nil {
		return nil, err
	}
	return c.cookie(value, maxAge), nil
}

// Open authenticates ck and decodes its value into v.
func (c *SecureCookie) Open(ck *http.Cookie, v any) error {
	if ck == nil {
		return ErrCookieFormat
	}
	plain, err := c.sealer.Open(ck.Value, c.aad())
	if err != nil {
		return err
	}
	return cbor.Unmarshal(plain, v)
}

// Expire returns a cookie that deletes this cookie in the client.
func (c *SecureCookie) Expire() *http.Cookie {
	return c.cookie("", -1)
}
