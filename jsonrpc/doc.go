// Package jsonrpc defines the wire protocol spoken by a servicebox host: a
// batched variant of JSON-RPC 2.0 (https://www.jsonrpc.org/specification)
// carried over HTTP POST.
//
// # Requests
//
// A request body is always a JSON array of calls. Each call names a method as
// "namespace/name" and passes positional params:
//
//	[
//	  {"jsonrpc":"2.0","id":1,"method":"math/add","params":[2,3]},
//	  {"jsonrpc":"2.0","id":2,"method":"math/add","params":["x",3]}
//	]
//
// # Responses
//
// The response body is an array with exactly one item per call, in the same
// order and carrying the same id. Each item is either a result or an error:
//
//	[
//	  {"jsonrpc":"2.0","id":1,"result":5},
//	  {"jsonrpc":"2.0","id":2,"error":{"code":-32602,"message":"Invalid params","data":{...}}}
//	]
//
// A batch that cannot be parsed or authorized as a whole is answered with a
// single error item whose id is null.
//
// # Errors
//
// Protocol errors are *Error values. Standard codes are defined as constants:
//   - CodeParseError (-32700)
//   - CodeInvalidRequest (-32600)
//   - CodeMethodNotFound (-32601)
//   - CodeInvalidParams (-32602)
//   - CodeInternalError (-32603)
//
// Applications may return their own codes with NewError:
//
//	return nil, jsonrpc.NewError(-32010, "insufficient funds", map[string]any{"balance": 3})
//
// Any other error returned by application code is reported as
// CodeInternalError without detail; see AsError.
package jsonrpc
