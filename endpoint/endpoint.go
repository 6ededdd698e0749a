// Package endpoint is the HTTP layer of servicebox. It wraps typed endpoint
// functions in http.Handlers and separates a request into three phases:
//
//  1. Processors run in order, each wrapping the rest of the chain. They may
//     replace the request (for example to add a session to its context) or
//     the response writer (for example to compress the body).
//  2. The params struct is decoded from the request with Unmarshal, and the
//     EndpointFunc runs with it. It returns a Renderer instead of writing the
//     response.
//  3. Hooks registered with Defer run, then the Renderer writes status,
//     headers and body.
//
// A returned *EndpointError selects the HTTP status of the error response;
// any other error is a 500.
//
// Renderers:
//   - JSONRenderer: a value encoded as JSON.
//   - StringRenderer: a string body.
//   - NoContentRenderer: a status with no body.
package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// EndpointError is an error with an HTTP status.
type EndpointError struct {
	Status int
	// Message is written as the error response body. Empty means the status
	// text.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.text()
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *EndpointError) text() string {
	if e.Message != "" {
		return e.Message
	}
	if s := http.StatusText(e.Status); s != "" {
		return s
	}
	return "unknown error"
}

// Error returns an *EndpointError. If err already carries one, err is
// returned unchanged.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes a response. It must call WriteHeader and may set headers,
// including Content-Type, before doing so. An error means the response could
// not be written.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Next continues a processor chain.
type Next = func(w http.ResponseWriter, r *http.Request) error

// Processor runs before the endpoint. It calls next to continue the chain or
// returns without calling it to short-circuit. Processors must not call
// WriteHeader or write the body; an error stops the chain.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next Next) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next Next) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next Next) error {
	return f(w, r, next)
}

// EndpointFunc handles a request with decoded params P and returns the
// Renderer for the response. It holds the business logic and does not write
// the response itself.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler for an EndpointFunc.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler returns an EndpointHandler for fn, inferring P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{Endpoint: fn, Processors: processors}
}

// HandleFunc is Handler as an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

type hooksKey struct{}

type hooks struct {
	fns []func(http.ResponseWriter)
}

func withHooks(r *http.Request) *http.Request {
	if _, ok := r.Context().Value(hooksKey{}).(*hooks); ok {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks{}))
}

// Defer registers fn to run before the response headers are written, on
// success and on error alike. fn must not call WriteHeader. Outside an
// EndpointHandler, Defer does nothing.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	if h, ok := ctx.Value(hooksKey{}).(*hooks); ok {
		h.fns = append(h.fns, fn)
	}
}

// Commit runs the deferred functions in reverse registration order, once.
func Commit(ctx context.Context, w http.ResponseWriter) {
	h, ok := ctx.Value(hooksKey{}).(*hooks)
	if !ok {
		return
	}
	fns := h.fns
	h.fns = nil
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i](w)
	}
}

func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}
	r = withHooks(r)

	if err := h.chain(0)(w, r); err != nil {
		status, message := errorStatus(err)
		Commit(r.Context(), w)
		http.Error(w, message, status)
	}
}

// chain returns the continuation starting at processor i.
func (h *EndpointHandler[P]) chain(i int) Next {
	if i < len(h.Processors) {
		return func(w http.ResponseWriter, r *http.Request) error {
			p := h.Processors[i]
			if p == nil {
				return errors.New("endpoint: nil processor")
			}
			return p.Process(w, r, h.chain(i+1))
		}
	}
	return h.serve
}

func (h *EndpointHandler[P]) serve(w http.ResponseWriter, r *http.Request) error {
	var params P
	if err := Unmarshal(r, &params); err != nil {
		return err
	}
	renderer, err := h.Endpoint(w, r, params)
	if err != nil {
		return err
	}
	if renderer == nil {
		return errors.New("endpoint: nil renderer")
	}
	if c, ok := renderer.(io.Closer); ok {
		defer c.Close()
	}
	Commit(r.Context(), w)
	return renderer.Render(w, r)
}

func errorStatus(err error) (int, string) {
	var ee *EndpointError
	if !errors.As(err, &ee) || ee == nil {
		return http.StatusInternalServerError, err.Error()
	}
	status := ee.Status
	if status < 100 {
		status = http.StatusInternalServerError
	}
	if ee.Message != "" {
		return status, ee.Message
	}
	return status, http.StatusText(status)
}
