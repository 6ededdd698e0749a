package service

import (
	"fmt"
	"net/http"
)

// Middleware maps an inbound request to an identity fragment. A nil fragment
// contributes nothing. Middleware must not consume the request body: every
// call in a batch is authorized against the same request.
//
// An error aborts authorization of the whole batch. A *jsonrpc.Error keeps its
// code (for example an application "unauthorized" code); any other error is
// reported as an internal error.
type Middleware interface {
	Map(r *http.Request) (Identity, error)
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(r *http.Request) (Identity, error)

func (f MiddlewareFunc) Map(r *http.Request) (Identity, error) {
	return f(r)
}

// Static is middleware that contributes a fixed fragment.
func Static(fragment Identity) Middleware {
	return MiddlewareFunc(func(*http.Request) (Identity, error) {
		return fragment, nil
	})
}

// Authorize runs mws in order against r and merges their fragments with
// Merge. An empty list yields an empty Identity. A panicking middleware is
// reported as an error.
func Authorize(r *http.Request, mws []Middleware) (id Identity, err error) {
	defer func() {
		if p := recover(); p != nil {
			id, err = nil, fmt.Errorf("service: middleware panic: %v", p)
		}
	}()
	fragments := make([]Identity, 0, len(mws))
	for _, mw := range mws {
		f, err := mw.Map(r)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, f)
	}
	return Merge(fragments...), nil
}
