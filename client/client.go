// Package client calls a servicebox host over HTTP. Calls are sent in
// batches; each call gets the next ordinal as its id.
//
//	c := client.New("http://localhost:8080/rpc")
//	var sum float64
//	err := c.Call(ctx, "math/add", &sum, 2, 3)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/mnehpets/servicebox/internal/jsoncodec"
	"github.com/mnehpets/servicebox/jsonrpc"
	"golang.org/x/oauth2"
)

// ErrMismatch is returned when a response batch does not pair with the
// request batch.
var ErrMismatch = errors.New("client: response does not match request")

// maxResponseBytes bounds response bodies.
const maxResponseBytes = 32 << 20

// StatusError is returned for a response with a status other than 200. No
// call of the batch was processed.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: unexpected status %d: %s", e.Status, e.Body)
}

// Call is one call of a batch.
type Call struct {
	Method string
	Params []any
}

// Result is the outcome of one call: Err is set for an error item, Raw holds
// the encoded result otherwise.
type Result struct {
	Raw json.RawMessage
	Err *jsonrpc.Error
}

// Decode decodes the result into v, or returns Err.
func (r Result) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if v == nil {
		return nil
	}
	return jsoncodec.Unmarshal(r.Raw, v)
}

// Client is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	tokens   oauth2.TokenSource
	ordinal  atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client, http.DefaultClient by default.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource authenticates every request with a bearer token from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func New(endpoint string, opts ...Option) *Client {
	c := &Client{endpoint: endpoint, http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call runs a single call and decodes its result into result, which may be
// nil to discard it. A failed call returns its *jsonrpc.Error.
func (c *Client) Call(ctx context.Context, method string, result any, params ...any) error {
	results, err := c.Batch(ctx, Call{Method: method, Params: params})
	if err != nil {
		return err
	}
	return results[0].Decode(result)
}

// Batch sends calls as one batch and returns one Result per call, in order.
// A batch the host rejects as a whole returns its *jsonrpc.Error. An empty
// batch sends nothing.
func (c *Client) Batch(ctx context.Context, calls ...Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	batch := make(jsonrpc.BatchRequest, len(calls))
	ids := make([]string, len(calls))
	for i, call := range calls {
		params := call.Params
		if params == nil {
			params = []any{}
		}
		id := json.RawMessage(fmt.Sprint(c.ordinal.Add(1) - 1))
		ids[i] = string(id)
		batch[i] = jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: id, Method: call.Method, Params: params}
	}

	resp, err := c.post(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(resp) == 1 && resp[0].Error != nil && isNull(resp[0].ID) {
		return nil, resp[0].Error
	}
	if len(resp) != len(calls) {
		return nil, fmt.Errorf("%w: %d items for %d calls", ErrMismatch, len(resp), len(calls))
	}
	results := make([]Result, len(resp))
	for i, item := range resp {
		if string(item.ID) != ids[i] {
			return nil, fmt.Errorf("%w: item %d has id %s, want %s", ErrMismatch, i, item.ID, ids[i])
		}
		results[i] = Result{Raw: item.Result, Err: item.Error}
	}
	return results, nil
}

func isNull(id json.RawMessage) bool {
	return len(id) == 0 || string(id) == "null"
}

func (c *Client) post(ctx context.Context, batch jsonrpc.BatchRequest) (jsonrpc.BatchResponse, error) {
	body, err := jsoncodec.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("client: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("client: token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: res.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	var resp jsonrpc.BatchResponse
	if err := jsoncodec.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	return resp, nil
}
