package jsonrpc

import (
	"encoding/json"

	"github.com/mnehpets/servicebox/internal/jsoncodec"
	"github.com/mnehpets/servicebox/schema"
)

func idSchema() schema.Schema {
	return schema.Union(schema.Null(), schema.Number())
}

// RequestSchema describes one call.
var RequestSchema = schema.Object(schema.Properties{
	"jsonrpc": schema.Literal(Version),
	"id":      idSchema(),
	"method":  schema.String(),
	"params":  schema.Array(schema.Unknown()),
})

// BatchRequestSchema describes a request body. An empty batch is valid and is
// answered with an empty batch.
var BatchRequestSchema = schema.Array(RequestSchema)

// ErrorSchema describes the "error" member of an error item.
var ErrorSchema = schema.Object(schema.Properties{
	"code":    schema.Integer(),
	"message": schema.String(),
	"data":    schema.Unknown(),
})

// ResponseSchema describes one response item.
var ResponseSchema = schema.Union(
	schema.Object(schema.Properties{
		"jsonrpc": schema.Literal(Version),
		"id":      idSchema(),
		"result":  schema.Unknown(),
	}),
	schema.Object(schema.Properties{
		"jsonrpc": schema.Literal(Version),
		"id":      idSchema(),
		"error":   ErrorSchema,
	}),
)

// BatchResponseSchema describes a response body.
var BatchResponseSchema = schema.Array(ResponseSchema)

// DecodeBatch parses body as a batch request after checking it against v,
// which should be compiled from BatchRequestSchema. It returns a ParseError
// for malformed JSON and an InvalidRequest, carrying the schema violations as
// data, for JSON that is not a valid batch.
func DecodeBatch(body []byte, v schema.Validator) (BatchRequest, error) {
	if !jsoncodec.Valid(body) {
		return nil, ParseError(nil)
	}
	if ok, errs := v.Validate(json.RawMessage(body)); !ok {
		return nil, InvalidRequest(errs)
	}
	var batch BatchRequest
	if err := jsoncodec.Unmarshal(body, &batch); err != nil {
		return nil, InvalidRequest(nil)
	}
	return batch, nil
}
