package host

import (
	"github.com/mnehpets/servicebox/endpoint"
	"github.com/mnehpets/servicebox/internal/ids"
	"github.com/mnehpets/servicebox/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxBodyBytes caps request bodies unless WithMaxBodyBytes says
// otherwise.
const DefaultMaxBodyBytes = 1 << 20

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithRegisterer sets where the host's metrics are registered. The default
// is prometheus.DefaultRegisterer. A nil registerer disables registration.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(h *Host) {
		h.registerer = r
		h.registererSet = true
	}
}

// WithTracer sets the tracer for batch and call spans. The default is the
// global tracer provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(h *Host) { h.tracer = t }
}

// WithSessionIDs sets the session id generator, ids.UUID by default.
func WithSessionIDs(g ids.Generator) Option {
	return func(h *Host) { h.newID = g }
}

// WithEventSink forwards every event sent by a registered service to sink.
func WithEventSink(sink EventSink) Option {
	return func(h *Host) { h.sink = sink }
}

// WithMaxBodyBytes caps request bodies at n bytes. n <= 0 removes the cap.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Host) { h.maxBodyBytes = n }
}

// WithResponseValidation toggles checking outgoing batches against the
// response envelope schema. It is on by default.
func WithResponseValidation(on bool) Option {
	return func(h *Host) { h.validateResponses = on }
}

// WithProcessors adds endpoint processors, such as a session processor, to
// the handler returned by Handler. They run after the host's own recovery
// and body limit processors.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Host) { h.processors = append(h.processors, p...) }
}

// WithCompiler sets the schema compiler used for the envelope schemas. The
// default is schema.Default().
func WithCompiler(c *schema.Compiler) Option {
	return func(h *Host) { h.compiler = c }
}
