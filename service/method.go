package service

import (
	"errors"
	"fmt"

	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/mnehpets/servicebox/schema"
)

// ErrNilCallback is returned when a member is built without a callback.
var ErrNilCallback = errors.New("service: nil callback")

// unexpectedReturn is the data of the internal error reported when a method
// returns a value its signature does not allow.
const unexpectedReturn = "Method returned unexpected value"

// Signature declares the contract of a method. A zero Signature takes no
// params and may return anything.
type Signature struct {
	// Params holds one schema per positional parameter.
	Params []schema.Schema
	// Returns is the schema of the result. Nil accepts any result.
	Returns schema.Schema
	// Description is published in the host metadata.
	Description string
}

// MethodFunc is the callback of a method. params has exactly one element per
// declared parameter; missing trailing arguments are nil.
type MethodFunc func(c *Context, params Params) (any, error)

// ParamsError is the data of an InvalidParams error.
type ParamsError struct {
	Index  int                 `json:"index"`
	Errors []schema.FieldError `json:"errors"`
}

// Method is a schema-typed remote procedure. It is immutable and safe for
// concurrent use.
type Method struct {
	middleware []Middleware
	signature  Signature
	params     []schema.Validator
	returns    schema.Validator
	fn         MethodFunc
}

func newMethod(c *schema.Compiler, mws []Middleware, sig Signature, fn MethodFunc) (*Method, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	m := &Method{
		middleware: mws,
		signature:  sig,
		params:     make([]schema.Validator, len(sig.Params)),
		fn:         fn,
	}
	for i, p := range sig.Params {
		v, err := c.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		m.params[i] = v
	}
	v, err := c.Compile(sig.Returns)
	if err != nil {
		return nil, fmt.Errorf("returns: %w", err)
	}
	m.returns = v
	return m, nil
}

func (m *Method) Middleware() []Middleware {
	return m.middleware
}

func (m *Method) Signature() Signature {
	return m.signature
}

// Execute validates params, invokes the callback and validates its result.
//
// Invalid params, including more params than declared, fail with
// InvalidParams carrying a ParamsError for the first failing index. A result
// that does not match the return schema fails with InternalError. Errors
// returned by the callback are passed through unchanged.
func (m *Method) Execute(c *Context, params []any) (any, error) {
	if len(params) > len(m.params) {
		return nil, jsonrpc.InvalidParams(ParamsError{
			Index: len(m.params),
			Errors: []schema.FieldError{{
				Field:       "(root)",
				Type:        "too_many_params",
				Description: fmt.Sprintf("expected at most %d params, got %d", len(m.params), len(params)),
			}},
		})
	}
	args := make(Params, len(m.params))
	copy(args, params)
	for i, v := range m.params {
		if ok, errs := v.Validate(args[i]); !ok {
			return nil, jsonrpc.InvalidParams(ParamsError{Index: i, Errors: errs})
		}
	}

	result, err := m.fn(c, args)
	if err != nil {
		return nil, err
	}
	if ok, _ := m.returns.Validate(result); !ok {
		return nil, jsonrpc.InternalError(unexpectedReturn)
	}
	return result, nil
}

func (*Method) member() {}
