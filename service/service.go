// Package service defines the building blocks of a servicebox service:
// methods, events and lifecycle handlers, the middleware that computes caller
// identity, and the registry a host dispatches against.
//
// A service is a value that lists its members explicitly:
//
//	type Math struct {
//		Add   *service.Method
//		Added *service.Event
//	}
//
//	func NewMath() *Math {
//		svc := service.New()
//		m := &Math{Added: svc.Event(schema.Number())}
//		m.Add = svc.MustMethod(service.Signature{
//			Params:  []schema.Schema{schema.Number(), schema.Number()},
//			Returns: schema.Number(),
//		}, func(c *service.Context, p service.Params) (any, error) {
//			sum := p[0].(float64) + p[1].(float64)
//			m.Added.Send(c.ID, sum)
//			return sum, nil
//		})
//		return m
//	}
//
//	func (m *Math) Members() service.Members {
//		return service.Members{"add": m.Add, "$added": m.Added}
//	}
package service

import "github.com/mnehpets/servicebox/schema"

// Service builds members that share a middleware list and a schema compiler.
type Service struct {
	compiler   *schema.Compiler
	middleware []Middleware
}

// New returns a builder using the process-wide schema compiler.
func New(middleware ...Middleware) *Service {
	return NewWithCompiler(schema.Default(), middleware...)
}

func NewWithCompiler(c *schema.Compiler, middleware ...Middleware) *Service {
	return &Service{compiler: c, middleware: middleware}
}

// Method builds a method. The signature's schemas are compiled once, here.
func (s *Service) Method(sig Signature, fn MethodFunc) (*Method, error) {
	return newMethod(s.compiler, s.middleware, sig, fn)
}

// MustMethod is like Method but panics on error.
func (s *Service) MustMethod(sig Signature, fn MethodFunc) *Method {
	m, err := s.Method(sig, fn)
	if err != nil {
		panic(err)
	}
	return m
}

func (s *Service) Event(data schema.Schema) *Event {
	return NewEvent(data)
}

func (s *Service) Handler(fn HandlerFunc) *Handler {
	return &Handler{middleware: s.middleware, fn: fn}
}
