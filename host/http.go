package host

import (
	"context"
	"errors"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/mnehpets/servicebox/endpoint"
	"github.com/mnehpets/servicebox/jsonrpc"
)

// shutdownTimeout bounds the graceful shutdown in Listen.
const shutdownTimeout = 5 * time.Second

// Params is the decoded form of a host request.
type Params struct {
	ContentType string `header:"Content-Type"`
	// Body is bounded by the BodyLimit processor installed by Handler.
	Body []byte `body:"" maxLength:"0"`
}

// Endpoint is the endpoint function of the host. POST dispatches a batch and
// GET returns the metadata document. Other methods are rejected with 405.
func (h *Host) Endpoint(w http.ResponseWriter, r *http.Request, p Params) (endpoint.Renderer, error) {
	switch r.Method {
	case http.MethodGet:
		return &endpoint.JSONRenderer{Value: h.Metadata()}, nil
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "", nil)
	}

	if !isJSON(p.ContentType) {
		h.metrics.observeBatch(0, true)
		return &endpoint.JSONRenderer{Value: jsonrpc.Failed(jsonrpc.ParseError("Content-Type must be application/json"))}, nil
	}
	return &endpoint.JSONRenderer{Value: h.Dispatch(r, p.Body)}, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

// Handler returns the HTTP handler of the host. Panics escaping the endpoint
// become 500s and bodies are capped at the configured limit. The processors
// given to WithProcessors run next, then extra.
func (h *Host) Handler(extra ...endpoint.Processor) http.Handler {
	processors := []endpoint.Processor{
		endpoint.Recover(h.logger),
		endpoint.BodyLimit(h.maxBodyBytes),
	}
	processors = append(processors, h.processors...)
	processors = append(processors, extra...)
	return endpoint.Handler(h.Endpoint, processors...)
}

// Listen serves Handler on addr until ctx is done, then shuts the server
// down gracefully. It returns nil after a clean shutdown.
func (h *Host) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(ctx, ln)
}

// Serve is Listen on an existing listener.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	h.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-done; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	h.logger.Info().Msg("stopped")
	return err
}
