package jsonrpc

import (
	"encoding/json"
	"strings"

	"github.com/mnehpets/servicebox/internal/jsoncodec"
)

// Version is the value of the "jsonrpc" member of every message.
const Version = "2.0"

var null = json.RawMessage("null")

// Request is one call in a batch.
//
// ID is kept in its encoded form (a JSON number or null) so that the response
// echoes it byte for byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  []any           `json:"params"`
}

// Target splits Method into its namespace and local name. ok is false when
// Method is not of the form "namespace/name".
func (r *Request) Target() (namespace, name string, ok bool) {
	namespace, name, ok = strings.Cut(r.Method, "/")
	if !ok || namespace == "" || name == "" {
		return "", "", false
	}
	return namespace, name, true
}

// BatchRequest is the body of a host request.
type BatchRequest []Request

// Response is one item of a batch response: a result when Error is nil, an
// error otherwise.
type Response struct {
	ID     json.RawMessage
	Result json.RawMessage
	Error  *Error
}

// NewResult creates a result item. result must be encoded JSON.
func NewResult(id, result json.RawMessage) Response {
	return Response{ID: id, Result: result}
}

// NewErrorResponse creates an error item.
func NewErrorResponse(id json.RawMessage, err *Error) Response {
	return Response{ID: id, Error: err}
}

type resultWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type errorWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *Error          `json:"error"`
}

type responseWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return null
	}
	return raw
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return jsoncodec.Marshal(errorWire{JSONRPC: Version, ID: orNull(r.ID), Error: r.Error})
	}
	return jsoncodec.Marshal(resultWire{JSONRPC: Version, ID: orNull(r.ID), Result: orNull(r.Result)})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var w responseWire
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Result = w.Result
	r.Error = w.Error
	return nil
}

// BatchResponse is the body of a host response.
type BatchResponse []Response

// Failed returns a batch response made of the single error item used to
// answer a batch that failed as a whole.
func Failed(err *Error) BatchResponse {
	return BatchResponse{NewErrorResponse(nil, err)}
}

// Notification is a server-pushed message: a call without an id. Hosts use
// it to deliver events, with Method naming the event as "namespace/name" and
// Params holding the event data as its single element.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

func NewNotification(method string, data any) Notification {
	return Notification{JSONRPC: Version, Method: method, Params: []any{data}}
}
