package service

import (
	"context"
	"errors"
)

// ErrNoConnections is returned by Context.Close when the context carries no
// connection handle.
var ErrNoConnections = errors.New("service: no connection handle")

// Connections controls the connections of a host. It is the only part of the
// host exposed to service code.
type Connections interface {
	// Close terminates the connection identified by the session id.
	Close(id string) error
}

// Context is the execution context of one call. All calls of one HTTP
// request share the session ID; Identity is computed per call from the
// method's middleware.
type Context struct {
	context.Context

	// ID is the session id of the request.
	ID       string
	Identity Identity
	// Connections may be nil.
	Connections Connections
}

func NewContext(ctx context.Context, id string, identity Identity, conns Connections) *Context {
	if identity == nil {
		identity = Identity{}
	}
	return &Context{Context: ctx, ID: id, Identity: identity, Connections: conns}
}

// Close asks the host to terminate this context's connection.
func (c *Context) Close() error {
	if c.Connections == nil {
		return ErrNoConnections
	}
	return c.Connections.Close(c.ID)
}
