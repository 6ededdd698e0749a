package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/mnehpets/servicebox/service"
)

const (
	testIssuer   = "https://issuer.example.com"
	testClientID = "client-id"
)

func newSigner(t *testing.T) (*rsa.PrivateKey, jose.Signer) {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: privKey}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatal(err)
	}
	return privKey, signer
}

func signToken(t *testing.T, signer jose.Signer, issuer, audience string, extra map[string]any) string {
	t.Helper()
	claims := jwt.Claims{
		Subject:   "user123",
		Issuer:    issuer,
		Audience:  jwt.Audience{audience},
		Expiry:    jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now()),
	}
	b := jwt.Signed(signer).Claims(claims)
	if extra != nil {
		b = b.Claims(extra)
	}
	raw, err := b.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func staticRegistry(privKey *rsa.PrivateKey) *Registry {
	reg := NewRegistry()
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&privKey.PublicKey}}
	reg.RegisterStaticProvider("test", testIssuer, testClientID, keys)
	return reg
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func wantUnauthorized(t *testing.T, err error) {
	t.Helper()
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"Bearer", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBearer_ValidToken(t *testing.T) {
	privKey, signer := newSigner(t)
	mw := Bearer(staticRegistry(privKey))

	token := signToken(t, signer, testIssuer, testClientID, map[string]any{
		"email":          "user@example.com",
		"email_verified": true,
	})
	id, err := mw.Map(bearerRequest(token))
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	want := service.Identity{
		IdentitySubject:  "user123",
		IdentityIssuer:   testIssuer,
		IdentityProvider: "test",
		IdentityUserID:   "test:user123",
		IdentityEmail:    "user@example.com",
	}
	for k, v := range want {
		if id[k] != v {
			t.Errorf("identity[%q] = %v, want %v", k, id[k], v)
		}
	}
}

func TestBearer_UnverifiedEmailOmitted(t *testing.T) {
	privKey, signer := newSigner(t)
	mw := Bearer(staticRegistry(privKey))

	token := signToken(t, signer, testIssuer, testClientID, map[string]any{
		"email":          "user@example.com",
		"email_verified": false,
	})
	id, err := mw.Map(bearerRequest(token))
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if _, ok := id[IdentityEmail]; ok {
		t.Fatalf("unverified email contributed: %v", id)
	}
}

func TestBearer_Rejected(t *testing.T) {
	privKey, signer := newSigner(t)
	_, otherSigner := newSigner(t)
	mw := Bearer(staticRegistry(privKey))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong audience", signToken(t, signer, testIssuer, "someone-else", nil)},
		{"wrong issuer", signToken(t, signer, "https://evil.example.com", testClientID, nil)},
		{"wrong key", signToken(t, otherSigner, testIssuer, testClientID, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mw.Map(bearerRequest(tt.token))
			wantUnauthorized(t, err)
		})
	}
}

func TestBearer_MissingToken(t *testing.T) {
	privKey, _ := newSigner(t)
	reg := staticRegistry(privKey)

	id, err := Bearer(reg).Map(bearerRequest(""))
	if err != nil || id != nil {
		t.Fatalf("optional bearer: id=%v err=%v", id, err)
	}
	_, err = Bearer(reg, Required()).Map(bearerRequest(""))
	wantUnauthorized(t, err)
}

func TestBearer_SkipClientIDCheck(t *testing.T) {
	privKey, signer := newSigner(t)
	reg := NewRegistry()
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&privKey.PublicKey}}
	reg.RegisterStaticProvider("any", testIssuer, "", keys, WithSkipClientIDCheck())

	if _, err := Bearer(reg).Map(bearerRequest(signToken(t, signer, testIssuer, "other", nil))); err != nil {
		t.Fatalf("Map: %v", err)
	}
}

func TestBearer_SecondProviderAccepts(t *testing.T) {
	keyA, _ := newSigner(t)
	keyB, signerB := newSigner(t)
	reg := NewRegistry()
	reg.RegisterStaticProvider("a", testIssuer, testClientID, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&keyA.PublicKey}})
	reg.RegisterStaticProvider("b", testIssuer, testClientID, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&keyB.PublicKey}})

	id, err := Bearer(reg).Map(bearerRequest(signToken(t, signerB, testIssuer, testClientID, nil)))
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if id[IdentityProvider] != "b" {
		t.Fatalf("provider = %v", id[IdentityProvider])
	}
}

func TestBearer_ThroughAuthorize(t *testing.T) {
	privKey, signer := newSigner(t)
	mws := []service.Middleware{
		service.Static(service.Identity{"role": "guest", IdentitySubject: "nobody"}),
		Bearer(staticRegistry(privKey)),
	}
	id, err := service.Authorize(bearerRequest(signToken(t, signer, testIssuer, testClientID, nil)), mws)
	if err != nil {
		t.Fatal(err)
	}
	if id[IdentitySubject] != "user123" || id["role"] != "guest" {
		t.Fatalf("identity = %v", id)
	}
}

func TestRegistry_ProvidersSorted(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		reg.Register(NewProvider(id, nil, nil, nil))
	}
	var got []string
	for _, p := range reg.Providers() {
		got = append(got, p.ID())
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("providers = %v", got)
	}
	if _, ok := reg.Get("b"); !ok {
		t.Fatal("Get(b) failed")
	}
	if _, ok := reg.Get("z"); ok {
		t.Fatal("Get(z) succeeded")
	}
}

// newOIDCServer serves discovery, keys and userinfo for privKey.
func newOIDCServer(t *testing.T, privKey *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer := srv.URL
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			json.NewEncoder(w).Encode(map[string]any{
				"issuer":                                issuer,
				"jwks_uri":                              issuer + "/keys",
				"authorization_endpoint":                issuer + "/auth",
				"token_endpoint":                        issuer + "/token",
				"userinfo_endpoint":                     issuer + "/userinfo",
				"response_types_supported":              []string{"code"},
				"subject_types_supported":               []string{"public"},
				"id_token_signing_alg_values_supported": []string{"RS256"},
			})
		case "/keys":
			jwk := jose.JSONWebKey{Key: &privKey.PublicKey, Use: "sig", Algorithm: "RS256", KeyID: "test-key"}
			json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer good-access-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"sub":            "user123",
				"email":          "user@example.com",
				"email_verified": true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterOIDCProvider_Discovery(t *testing.T) {
	privKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: privKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", "test-key"),
	)
	if err != nil {
		t.Fatal(err)
	}
	srv := newOIDCServer(t, privKey)

	reg := NewRegistry()
	if err := reg.RegisterOIDCProvider(context.Background(), "oidc-test", srv.URL, testClientID, []string{oidc.ScopeOpenID}); err != nil {
		t.Fatalf("RegisterOIDCProvider: %v", err)
	}
	p, ok := reg.Get("oidc-test")
	if !ok {
		t.Fatal("provider not registered")
	}
	if p.Config().Endpoint.TokenURL != srv.URL+"/token" {
		t.Errorf("token url = %q", p.Config().Endpoint.TokenURL)
	}

	id, err := Bearer(reg).Map(bearerRequest(signToken(t, signer, srv.URL, testClientID, nil)))
	if err != nil {
		t.Fatalf("Bearer: %v", err)
	}
	if id[IdentityIssuer] != srv.URL {
		t.Errorf("issuer = %v", id[IdentityIssuer])
	}
}

func TestRegisterOIDCProvider_DiscoveryFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if err := NewRegistry().RegisterOIDCProvider(context.Background(), "x", srv.URL, testClientID, nil); err == nil {
		t.Fatal("expected discovery error")
	}
}

func TestUserInfo(t *testing.T) {
	privKey, _ := newSigner(t)
	srv := newOIDCServer(t, privKey)
	reg := NewRegistry()
	if err := reg.RegisterOIDCProvider(context.Background(), "oidc-test", srv.URL, testClientID, nil); err != nil {
		t.Fatal(err)
	}
	p, _ := reg.Get("oidc-test")
	mw := UserInfo(p)

	id, err := mw.Map(bearerRequest("good-access-token"))
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if id[IdentitySubject] != "user123" || id[IdentityEmail] != "user@example.com" || id[IdentityUserID] != "oidc-test:user123" {
		t.Fatalf("identity = %v", id)
	}

	_, err = mw.Map(bearerRequest("bad-access-token"))
	wantUnauthorized(t, err)

	if id, err := mw.Map(bearerRequest("")); err != nil || id != nil {
		t.Fatalf("no token: id=%v err=%v", id, err)
	}
}

func TestUserInfo_StaticProviderUnsupported(t *testing.T) {
	privKey, _ := newSigner(t)
	p, _ := staticRegistry(privKey).Get("test")
	_, err := UserInfo(p).Map(bearerRequest("token"))
	wantUnauthorized(t, err)
}
