package endpoint

import (
	"encoding"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/mnehpets/servicebox/internal/jsoncodec"
)

// defaultFieldLimit bounds every decoded value unless the field carries a
// maxLength tag.
var defaultFieldLimit = 16 * 1024

// sources lists the supported tags in precedence order.
var sources = []string{"query", "header", "cookie", "body"}

// Unmarshal populates dst, a non-nil pointer to a struct, from r.
//
// Fields are bound with tags of the form `source:"name[,flag]"`:
//   - `query:"name"`: URL query parameter
//   - `header:"Name"`: request header
//   - `cookie:"name"`: cookie value
//   - `body:""`: the whole request body (at most one field)
//
// An empty name defaults to the lowercased field name. Flags:
//   - json: decode the value as JSON (default for body fields that are not
//     string or []byte)
//   - base64, base64url: decode into a []byte
//
// `maxLength:"n"` bounds the byte length of each value; the default is 16KB
// and `maxLength:"0"` removes the bound. Over-long values and body read
// errors are 400s, except bodies cut short by http.MaxBytesReader, which are
// 413s. Missing values leave the field unchanged. Untagged fields are
// ignored.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	t := root.Type()
	bodyField := ""
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		for _, src := range sources {
			tag, ok, err := parseTag(sf, src)
			if err != nil {
				return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
			}
			if !ok {
				continue
			}
			if src == "body" {
				if bodyField != "" {
					return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: multiple body fields: %s and %s", bodyField, sf.Name))
				}
				bodyField = sf.Name
			}
			set, err := decodeField(r, root.Field(i), tag)
			if err != nil {
				return err
			}
			if set {
				break
			}
		}
	}
	return nil
}

type fieldTag struct {
	source   string
	name     string
	encoding string
	limit    int
}

func parseTag(sf reflect.StructField, source string) (fieldTag, bool, error) {
	val, ok := sf.Tag.Lookup(source)
	if !ok {
		return fieldTag{}, false, nil
	}
	name, flags, _ := strings.Cut(val, ",")
	tag := fieldTag{source: source, name: strings.TrimSpace(name), limit: defaultFieldLimit}
	if tag.name == "-" {
		return fieldTag{}, false, nil
	}
	if tag.name == "" {
		tag.name = strings.ToLower(sf.Name)
	}
	for _, f := range strings.Split(flags, ",") {
		switch f = strings.ToLower(strings.TrimSpace(f)); f {
		case "":
		case "json", "base64", "base64url":
			if tag.encoding != "" {
				return fieldTag{}, false, errors.New("multiple encoding flags")
			}
			tag.encoding = f
		default:
			return fieldTag{}, false, fmt.Errorf("unknown %s tag flag %q", source, f)
		}
	}
	if ml, ok := sf.Tag.Lookup("maxLength"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(ml))
		if err != nil || n < 0 {
			return fieldTag{}, false, fmt.Errorf("maxLength: invalid value %q", ml)
		}
		tag.limit = n
	}
	if source == "body" && tag.encoding == "" && !isText(sf.Type) {
		tag.encoding = "json"
	}
	return tag, true, nil
}

func isText(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.String || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8)
}

func fetch(r *http.Request, tag fieldTag) ([]string, error) {
	switch tag.source {
	case "query":
		if r.URL == nil {
			return nil, nil
		}
		return r.URL.Query()[tag.name], nil
	case "header":
		return r.Header.Values(tag.name), nil
	case "cookie":
		var out []string
		for _, c := range r.Cookies() {
			if c.Name == tag.name {
				out = append(out, c.Value)
			}
		}
		return out, nil
	case "body":
		if r.Body == nil || r.Body == http.NoBody {
			return nil, nil
		}
		body := io.Reader(r.Body)
		if tag.limit > 0 {
			body = io.LimitReader(r.Body, int64(tag.limit)+1)
		}
		b, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, newEndpointError(http.StatusRequestEntityTooLarge, "", err)
			}
			return nil, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
		}
		return []string{string(b)}, nil
	}
	return nil, nil
}

func decodeField(r *http.Request, field reflect.Value, tag fieldTag) (bool, error) {
	values, err := fetch(r, tag)
	if err != nil || len(values) == 0 {
		return false, err
	}
	for _, s := range values {
		if tag.limit > 0 && len(s) > tag.limit {
			status := http.StatusBadRequest
			if tag.source == "body" {
				status = http.StatusRequestEntityTooLarge
			}
			return false, newEndpointError(status, "", fmt.Errorf("endpoint: decode: %s %q: value exceeds max length %d", tag.source, tag.name, tag.limit))
		}
	}
	if err := setValues(field, values, tag.encoding); err != nil {
		return false, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q: %w", tag.source, tag.name, err))
	}
	return true, nil
}

func setValues(v reflect.Value, values []string, enc string) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if enc == "json" {
		return jsoncodec.Unmarshal([]byte(values[0]), v.Addr().Interface())
	}
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 {
		out := reflect.MakeSlice(v.Type(), len(values), len(values))
		for i, s := range values {
			if err := setValue(out.Index(i), s, enc); err != nil {
				return err
			}
		}
		v.Set(out)
		return nil
	}
	return setValue(v, values[0], enc)
}

func setValue(v reflect.Value, s string, enc string) error {
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		switch enc {
		case "":
			v.SetBytes([]byte(s))
		case "base64":
			b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
			if err != nil {
				return err
			}
			v.SetBytes(b)
		case "base64url":
			b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
			if err != nil {
				return err
			}
			v.SetBytes(b)
		}
		return nil
	}
	if enc != "" {
		return fmt.Errorf("encoding %q not supported for %s", enc, v.Type())
	}
	if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(s))
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
