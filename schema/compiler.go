package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mnehpets/servicebox/internal/jsoncodec"
	"github.com/xeipuuv/gojsonschema"
)

// ErrCompile is wrapped by every error returned from Compiler.Compile.
var ErrCompile = errors.New("schema: compile failed")

// FieldError describes one schema violation.
type FieldError struct {
	// Field is the path of the offending value, "(root)" for the value itself.
	Field       string `json:"field"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Validator is a compiled schema.
type Validator interface {
	// Validate reports whether value satisfies the schema. When it does not,
	// the returned errors describe each violation. Values are either decoded
	// JSON (any, map[string]any, []any, float64, ...), arbitrary Go values
	// that encode to JSON, or json.RawMessage.
	Validate(value any) (bool, []FieldError)
}

// Compiler compiles schemas into Validators. Identical schemas compile once
// and share a Validator. A Compiler is safe for concurrent use.
type Compiler struct {
	mu    sync.Mutex
	cache map[string]Validator
}

func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[string]Validator)}
}

// newLoader returns a draft 7 loader. Every compile needs its own: a loader
// registers each root schema it compiles under the empty reference.
func newLoader() *gojsonschema.SchemaLoader {
	loader := gojsonschema.NewSchemaLoader()
	loader.Draft = gojsonschema.Draft7
	loader.AutoDetect = false
	return loader
}

var defaultCompiler = NewCompiler()

// Default returns the process-wide compiler.
func Default() *Compiler {
	return defaultCompiler
}

// Compile compiles s. A nil schema compiles to a Validator accepting any value.
func (c *Compiler) Compile(s Schema) (Validator, error) {
	if s == nil {
		return anyValidator{}, nil
	}
	// jsoncodec sorts map keys, so the encoding doubles as a cache key.
	data, err := jsoncodec.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	key := string(data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache[key]; ok {
		return v, nil
	}
	compiled, err := newLoader().Compile(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	v := &validator{schema: compiled}
	c.cache[key] = v
	return v, nil
}

// MustCompile is like Compile but panics on error. It is intended for
// package-level schemas.
func (c *Compiler) MustCompile(s Schema) Validator {
	v, err := c.Compile(s)
	if err != nil {
		panic(err)
	}
	return v
}

type validator struct {
	schema *gojsonschema.Schema
}

func (v *validator) Validate(value any) (bool, []FieldError) {
	var doc gojsonschema.JSONLoader
	if raw, ok := value.(json.RawMessage); ok {
		doc = gojsonschema.NewBytesLoader(raw)
	} else {
		doc = gojsonschema.NewGoLoader(value)
	}

	res, err := v.schema.Validate(doc)
	if err != nil {
		return false, []FieldError{{Field: "(root)", Type: "invalid_value", Description: err.Error()}}
	}
	if res.Valid() {
		return true, nil
	}
	errs := make([]FieldError, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		errs = append(errs, FieldError{
			Field:       e.Field(),
			Type:        e.Type(),
			Description: e.Description(),
		})
	}
	return false, errs
}

type anyValidator struct{}

func (anyValidator) Validate(any) (bool, []FieldError) {
	return true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
