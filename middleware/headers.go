package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/mnehpets/servicebox/endpoint"
)

// HeadersProcessor sets response headers suited to an RPC endpoint and, when
// origins are configured, answers CORS preflights for browser callers.
//
// Defaults:
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Referrer-Policy: no-referrer
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Cache-Control: no-store
type HeadersProcessor struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds. Zero
	// disables the header.
	HSTSMaxAge int

	ReferrerPolicy        string
	ContentSecurityPolicy string
	CacheControl          string

	// Origins lists origins allowed to call cross-origin. "*" allows any
	// origin unless Credentials is set. Empty disables CORS handling.
	Origins []string

	// Credentials allows cookies (the session cookie) on cross-origin calls.
	Credentials bool

	// PreflightMaxAge is the Access-Control-Max-Age in seconds.
	PreflightMaxAge int
}

type HeadersOption func(*HeadersProcessor)

func NewHeadersProcessor(opts ...HeadersOption) *HeadersProcessor {
	p := &HeadersProcessor{
		HSTSMaxAge:            31536000,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		CacheControl:          "no-store",
		PreflightMaxAge:       3600,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithOrigins enables CORS for the given origins.
func WithOrigins(origins ...string) HeadersOption {
	return func(p *HeadersProcessor) {
		p.Origins = origins
	}
}

// WithCredentials allows credentialed cross-origin calls.
func WithCredentials() HeadersOption {
	return func(p *HeadersProcessor) {
		p.Credentials = true
	}
}

// WithoutHSTS disables Strict-Transport-Security, e.g. for plain HTTP
// development servers.
func WithoutHSTS() HeadersOption {
	return func(p *HeadersProcessor) {
		p.HSTSMaxAge = 0
	}
}

// corsMethods and corsHeaders are what the host accepts: GET for metadata,
// POST with a JSON body and optional bearer token for batches.
var (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization"
)

func (p *HeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge)+"; includeSubDomains")
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}
	if p.CacheControl != "" {
		h.Set("Cache-Control", p.CacheControl)
	}
	h.Set("X-Content-Type-Options", "nosniff")

	origin := r.Header.Get("Origin")
	if len(p.Origins) == 0 || origin == "" {
		return next(w, r)
	}
	allowed := p.allowOrigin(origin)
	if allowed != "" {
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Add("Vary", "Origin")
		if p.Credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
	}
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		if allowed != "" {
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			if p.PreflightMaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(p.PreflightMaxAge))
			}
		}
		return endpoint.Error(http.StatusNoContent, "", nil)
	}
	return next(w, r)
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when it is not allowed. A wildcard is never combined with credentials.
func (p *HeadersProcessor) allowOrigin(origin string) string {
	if slices.ContainsFunc(p.Origins, func(o string) bool { return strings.EqualFold(o, origin) }) {
		return origin
	}
	if !p.Credentials && slices.Contains(p.Origins, "*") {
		return "*"
	}
	return ""
}

var _ endpoint.Processor = (*HeadersProcessor)(nil)
