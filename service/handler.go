package service

// HandlerFunc is a lifecycle callback.
type HandlerFunc func(c *Context) error

// Handler is an untyped lifecycle callback. Hosts run handlers registered
// under the names "connect" and "close" once per namespace per batch.
type Handler struct {
	middleware []Middleware
	fn         HandlerFunc
}

// Lifecycle handler names.
const (
	Connect = "connect"
	Close   = "close"
)

// Middleware returns the middleware of the service that built h. Hosts do not
// run it: a lifecycle handler receives the Context, identity included, of the
// first call its namespace sees in the batch.
func (h *Handler) Middleware() []Middleware {
	return h.middleware
}

func (h *Handler) Execute(c *Context) error {
	if h.fn == nil {
		return nil
	}
	return h.fn(c)
}

func (*Handler) member() {}
