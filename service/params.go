package service

import (
	"fmt"

	"github.com/mnehpets/servicebox/internal/jsoncodec"
	"github.com/mnehpets/servicebox/jsonrpc"
)

// Params are the positional arguments of a call, as decoded JSON values.
type Params []any

// Param converts params[i] to T. Values already of type T are returned as
// is; others are re-encoded through JSON, so a decoded object converts to a
// struct. A failed conversion is an InvalidParams error.
func Param[T any](params Params, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(params) {
		return zero, jsonrpc.InvalidParams(fmt.Sprintf("missing param %d", i))
	}
	if v, ok := params[i].(T); ok {
		return v, nil
	}
	var v T
	if err := jsoncodec.Convert(params[i], &v); err != nil {
		return zero, jsonrpc.InvalidParams(fmt.Sprintf("param %d: %v", i, err))
	}
	return v, nil
}
