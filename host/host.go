// Package host serves registered services over HTTP as a batched JSON-RPC
// endpoint.
//
// Each POST carries an array of calls. The host runs the batch through a
// fixed sequence of phases:
//
//  1. Parsing: the body must be JSON of content type application/json and
//     satisfy the batch request schema.
//  2. Authorizing: every call must resolve to a registered method; its
//     middleware computes the call's identity. All calls share one session id.
//  3. Connecting: the "connect" handler of each namespace touched by the
//     batch runs once, in order of first occurrence.
//  4. Executing: calls run one at a time in batch order. A failing call
//     produces an error item and never affects its siblings.
//  5. Closing: the "close" handler of each touched namespace runs once.
//  6. Responding: the items are written in request order with status 200.
//
// A failure in Parsing or Authorizing fails the whole batch. The response is
// then a single error item with a null id, still with status 200.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/mnehpets/servicebox/endpoint"
	"github.com/mnehpets/servicebox/internal/ids"
	"github.com/mnehpets/servicebox/internal/jsoncodec"
	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/mnehpets/servicebox/schema"
	"github.com/mnehpets/servicebox/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCloseUnsupported is returned by Close: every connection is a single
// HTTP request, so there is nothing to terminate.
var ErrCloseUnsupported = errors.New("host: close is not supported by the HTTP transport")

const tracerName = "github.com/mnehpets/servicebox/host"

// Host dispatches batches to a fixed set of namespaces. The namespaces are
// read-only once New returns, so a Host is safe for concurrent use.
type Host struct {
	namespaces map[string]*service.Registry
	// order lists the namespaces sorted by name.
	order []string

	compiler *schema.Compiler
	request  schema.Validator
	response schema.Validator

	logger            zerolog.Logger
	tracer            trace.Tracer
	registerer        prometheus.Registerer
	registererSet     bool
	metrics           *metrics
	newID             ids.Generator
	sink              EventSink
	maxBodyBytes      int64
	validateResponses bool
	processors        []endpoint.Processor
}

// New builds a host serving services, keyed by namespace. Namespaces must be
// non-empty and must not contain "/".
func New(services map[string]service.Provider, opts ...Option) (*Host, error) {
	h := &Host{
		namespaces:        make(map[string]*service.Registry, len(services)),
		logger:            zerolog.Nop(),
		newID:             ids.UUID,
		maxBodyBytes:      DefaultMaxBodyBytes,
		validateResponses: true,
		metrics:           newMetrics(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.compiler == nil {
		h.compiler = schema.Default()
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	if !h.registererSet {
		h.registerer = prometheus.DefaultRegisterer
	}

	for ns, p := range services {
		if ns == "" || strings.Contains(ns, "/") {
			return nil, fmt.Errorf("host: invalid namespace %q", ns)
		}
		if p == nil {
			return nil, fmt.Errorf("host: namespace %q: nil service", ns)
		}
		h.namespaces[ns] = service.NewRegistry(p)
	}
	h.order = slices.Sorted(maps.Keys(h.namespaces))

	var err error
	if h.request, err = h.compiler.Compile(jsonrpc.BatchRequestSchema); err != nil {
		return nil, fmt.Errorf("host: request schema: %w", err)
	}
	if h.response, err = h.compiler.Compile(jsonrpc.BatchResponseSchema); err != nil {
		return nil, fmt.Errorf("host: response schema: %w", err)
	}
	if err := h.metrics.register(h.registerer); err != nil {
		return nil, fmt.Errorf("host: metrics: %w", err)
	}
	h.attachEvents()
	return h, nil
}

// Close implements service.Connections. It always returns
// ErrCloseUnsupported.
func (h *Host) Close(string) error {
	return ErrCloseUnsupported
}

// call is one authorized call of a batch.
type call struct {
	req       *jsonrpc.Request
	namespace string
	name      string
	method    *service.Method
	ctx       *service.Context
}

// Dispatch runs the batch in body for the HTTP request r and returns the
// response items. r supplies the headers seen by middleware and the context
// of every call. Dispatch does not check the content type.
func (h *Host) Dispatch(r *http.Request, body []byte) jsonrpc.BatchResponse {
	ctx, span := h.tracer.Start(r.Context(), "servicebox.batch", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	r = r.WithContext(ctx)

	resp, err := h.dispatch(r, body, span)
	if err != nil {
		rpcErr := jsonrpc.AsError(err)
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", int(rpcErr.Code)))
		h.metrics.observeBatch(0, true)
		h.logger.Debug().Int("code", int(rpcErr.Code)).Str("reason", rpcErr.Code.String()).Msg("batch rejected")
		return jsonrpc.Failed(rpcErr)
	}
	h.metrics.observeBatch(len(resp), false)
	return h.checkResponse(resp)
}

func (h *Host) dispatch(r *http.Request, body []byte, span trace.Span) (jsonrpc.BatchResponse, error) {
	// Parsing
	batch, err := jsonrpc.DecodeBatch(body, h.request)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("servicebox.batch.size", len(batch)))

	// Authorizing
	id := h.newID()
	span.SetAttributes(attribute.String("servicebox.session.id", id))
	log := h.logger.With().Str("session", id).Logger()
	calls, err := h.authorize(r, id, batch)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("calls", len(calls)).Msg("batch authorized")

	// Connecting, in first-occurrence order.
	var touched []string
	first := make(map[string]*call)
	for i := range calls {
		c := &calls[i]
		if _, ok := first[c.namespace]; !ok {
			first[c.namespace] = c
			touched = append(touched, c.namespace)
		}
	}
	for _, ns := range touched {
		h.runHandler(log, ns, service.Connect, first[ns].ctx)
	}

	// Executing
	resp := make(jsonrpc.BatchResponse, len(calls))
	for i := range calls {
		resp[i] = h.execute(log, &calls[i])
	}

	// Closing
	for _, ns := range touched {
		h.runHandler(log, ns, service.Close, first[ns].ctx)
	}
	return resp, nil
}

func (h *Host) authorize(r *http.Request, id string, batch jsonrpc.BatchRequest) ([]call, error) {
	calls := make([]call, len(batch))
	for i := range batch {
		req := &batch[i]
		ns, name, ok := req.Target()
		if !ok {
			return nil, jsonrpc.MethodNotFound(req.Method)
		}
		reg, ok := h.namespaces[ns]
		if !ok {
			return nil, jsonrpc.MethodNotFound(req.Method)
		}
		m, ok := reg.Method(name)
		if !ok {
			return nil, jsonrpc.MethodNotFound(req.Method)
		}
		identity, err := service.Authorize(r, m.Middleware())
		if err != nil {
			h.logger.Debug().Err(err).Str("method", req.Method).Msg("authorization failed")
			return nil, err
		}
		calls[i] = call{
			req:       req,
			namespace: ns,
			name:      name,
			method:    m,
			ctx:       service.NewContext(r.Context(), id, identity, h),
		}
	}
	return calls, nil
}

// runHandler runs the lifecycle handler name of namespace ns, if any. Its
// errors and panics are logged and never reach the calls.
func (h *Host) runHandler(log zerolog.Logger, ns, name string, c *service.Context) {
	handler, ok := h.namespaces[ns].Handler(name)
	if !ok {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("namespace", ns).Str("handler", name).Bytes("stack", debug.Stack()).Msgf("handler panic: %v", p)
		}
	}()
	if err := handler.Execute(c); err != nil {
		log.Error().Err(err).Str("namespace", ns).Str("handler", name).Msg("handler failed")
	}
}

// execute runs one call and converts its outcome into a response item.
func (h *Host) execute(log zerolog.Logger, c *call) jsonrpc.Response {
	start := time.Now()
	ctx, span := h.tracer.Start(c.ctx, "servicebox.call", trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.service", c.namespace),
		attribute.String("rpc.method", c.name),
	))
	defer span.End()

	result, err := h.invoke(ctx, log, c)
	var raw []byte
	if err == nil {
		if raw, err = jsoncodec.Marshal(result); err != nil {
			log.Error().Err(err).Str("method", c.req.Method).Msg("result not encodable")
			err = jsonrpc.InternalError(nil)
		}
	}

	var rpcErr *jsonrpc.Error
	if err != nil {
		rpcErr = jsonrpc.AsError(err)
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", int(rpcErr.Code)))
		ev := log.Debug()
		if rpcErr.Code == jsonrpc.CodeInternalError {
			ev = log.Warn()
		}
		ev.Err(err).Str("method", c.req.Method).Int("code", int(rpcErr.Code)).Msg("call failed")
	}
	h.metrics.observeCall(c.req.Method, rpcErr, time.Since(start))

	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(c.req.ID, rpcErr)
	}
	return jsonrpc.NewResult(c.req.ID, raw)
}

// invoke runs the method with the call span's context. A panic becomes an
// internal error.
func (h *Host) invoke(ctx context.Context, log zerolog.Logger, c *call) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("method", c.req.Method).Bytes("stack", debug.Stack()).Msgf("method panic: %v", p)
			result, err = nil, jsonrpc.InternalError(nil)
		}
	}()
	sc := *c.ctx
	sc.Context = ctx
	return c.method.Execute(&sc, c.req.Params)
}

// checkResponse validates resp against the response envelope schema. An
// invalid batch is replaced item by item with internal errors, ids kept.
func (h *Host) checkResponse(resp jsonrpc.BatchResponse) jsonrpc.BatchResponse {
	if !h.validateResponses {
		return resp
	}
	data, err := jsoncodec.Marshal(resp)
	if err == nil {
		ok, errs := h.response.Validate(json.RawMessage(data))
		if ok {
			return resp
		}
		h.logger.Error().Interface("errors", errs).Msg("response failed envelope validation")
	} else {
		h.logger.Error().Err(err).Msg("response not encodable")
	}
	out := make(jsonrpc.BatchResponse, len(resp))
	for i, item := range resp {
		out[i] = jsonrpc.NewErrorResponse(item.ID, jsonrpc.InternalError(nil))
	}
	return out
}
