package endpoint

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var ee *EndpointError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *EndpointError, got %T: %v", err, err)
	}
	return ee.Status
}

func TestUnmarshal_Sources(t *testing.T) {
	type params struct {
		Name    string    `query:"name"`
		Count   int       `query:"n"`
		Ratio   float64   `query:"ratio"`
		Debug   bool      `query:"debug"`
		Tags    []string  `query:"tag"`
		Agent   string    `header:"User-Agent"`
		Accepts []string  `header:"Accept"`
		Session string    `cookie:"sid"`
		Since   time.Time `query:"since"`
		Ignored string    `query:"-"`
		Plain   string
	}
	req := httptest.NewRequest(http.MethodGet, "/?name=alice&n=3&ratio=0.5&debug=true&tag=a&tag=b&since=2024-01-02T03:04:05Z&ignored=x&plain=y", nil)
	req.Header.Set("User-Agent", "test")
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Accept", "text/plain")
	req.AddCookie(&http.Cookie{Name: "sid", Value: "s1"})

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := params{
		Name:    "alice",
		Count:   3,
		Ratio:   0.5,
		Debug:   true,
		Tags:    []string{"a", "b"},
		Agent:   "test",
		Accepts: []string{"application/json", "text/plain"},
		Session: "s1",
		Since:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if !reflect.DeepEqual(p, want) {
		t.Fatalf("got %+v\nwant %+v", p, want)
	}
}

func TestUnmarshal_Precedence_QueryBeforeHeader(t *testing.T) {
	var p struct {
		Token string `query:"token" header:"X-Token"`
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Token", "header")
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if p.Token != "header" {
		t.Fatalf("expected header fallback, got %q", p.Token)
	}

	req = httptest.NewRequest(http.MethodGet, "/?token=query", nil)
	req.Header.Set("X-Token", "header")
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if p.Token != "query" {
		t.Fatalf("expected query to win, got %q", p.Token)
	}
}

func TestUnmarshal_Body(t *testing.T) {
	t.Run("raw bytes", func(t *testing.T) {
		var p struct {
			Body json.RawMessage `body:""`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[1,2]`))
		if err := Unmarshal(req, &p); err != nil {
			t.Fatal(err)
		}
		if string(p.Body) != `[1,2]` {
			t.Fatalf("body = %q", p.Body)
		}
	})
	t.Run("string", func(t *testing.T) {
		var p struct {
			Body string `body:""`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
		if err := Unmarshal(req, &p); err != nil {
			t.Fatal(err)
		}
		if p.Body != "hello" {
			t.Fatalf("body = %q", p.Body)
		}
	})
	t.Run("json default for structs", func(t *testing.T) {
		var p struct {
			Body struct {
				A int `json:"a"`
			} `body:""`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":7}`))
		if err := Unmarshal(req, &p); err != nil {
			t.Fatal(err)
		}
		if p.Body.A != 7 {
			t.Fatalf("body = %+v", p.Body)
		}
	})
	t.Run("invalid json is 400", func(t *testing.T) {
		var p struct {
			Body map[string]any `body:",json"`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":`))
		if got := statusOf(t, Unmarshal(req, &p)); got != http.StatusBadRequest {
			t.Fatalf("status = %d", got)
		}
	})
	t.Run("empty body leaves field unchanged", func(t *testing.T) {
		p := struct {
			Body string `body:""`
		}{Body: "keep"}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if err := Unmarshal(req, &p); err != nil {
			t.Fatal(err)
		}
		if p.Body != "keep" {
			t.Fatalf("body = %q", p.Body)
		}
	})
	t.Run("multiple body fields", func(t *testing.T) {
		var p struct {
			A string `body:""`
			B string `body:""`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
		if got := statusOf(t, Unmarshal(req, &p)); got != http.StatusInternalServerError {
			t.Fatalf("status = %d", got)
		}
	})
}

func TestUnmarshal_MaxLength(t *testing.T) {
	t.Run("query value too long", func(t *testing.T) {
		var p struct {
			Name string `query:"name" maxLength:"3"`
		}
		req := httptest.NewRequest(http.MethodGet, "/?name=abcd", nil)
		if got := statusOf(t, Unmarshal(req, &p)); got != http.StatusBadRequest {
			t.Fatalf("status = %d", got)
		}
	})
	t.Run("default limit applies to body", func(t *testing.T) {
		var p struct {
			Body []byte `body:""`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", defaultFieldLimit+1)))
		if got := statusOf(t, Unmarshal(req, &p)); got != http.StatusRequestEntityTooLarge {
			t.Fatalf("status = %d", got)
		}
	})
	t.Run("zero disables the limit", func(t *testing.T) {
		var p struct {
			Body []byte `body:"" maxLength:"0"`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", defaultFieldLimit+1)))
		if err := Unmarshal(req, &p); err != nil {
			t.Fatal(err)
		}
		if len(p.Body) != defaultFieldLimit+1 {
			t.Fatalf("len = %d", len(p.Body))
		}
	})
	t.Run("invalid tag", func(t *testing.T) {
		var p struct {
			Name string `query:"name" maxLength:"-1"`
		}
		req := httptest.NewRequest(http.MethodGet, "/?name=a", nil)
		if got := statusOf(t, Unmarshal(req, &p)); got != http.StatusInternalServerError {
			t.Fatalf("status = %d", got)
		}
	})
}

func TestUnmarshal_Base64(t *testing.T) {
	var p struct {
		Std []byte `query:"std,base64"`
		URL []byte `cookie:"url,base64url"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?std=aGk%3D", nil)
	req.AddCookie(&http.Cookie{Name: "url", Value: "aGk"})
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if string(p.Std) != "hi" || string(p.URL) != "hi" {
		t.Fatalf("got %q %q", p.Std, p.URL)
	}

	var bad struct {
		N int `query:"n,base64"`
	}
	req = httptest.NewRequest(http.MethodGet, "/?n=aGk", nil)
	if got := statusOf(t, Unmarshal(req, &bad)); got != http.StatusBadRequest {
		t.Fatalf("status = %d", got)
	}
}

func TestUnmarshal_BadValueIs400(t *testing.T) {
	var p struct {
		N int `query:"n"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?n=not-an-int", nil)
	if got := statusOf(t, Unmarshal(req, &p)); got != http.StatusBadRequest {
		t.Fatalf("status = %d", got)
	}
}

func TestUnmarshal_PointerFields(t *testing.T) {
	var p struct {
		N    *int    `query:"n"`
		Miss *string `query:"miss"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?n=4", nil)
	if err := Unmarshal(req, &p); err != nil {
		t.Fatal(err)
	}
	if p.N == nil || *p.N != 4 {
		t.Fatalf("N = %v", p.N)
	}
	if p.Miss != nil {
		t.Fatalf("missing value allocated")
	}
}

func TestUnmarshal_InvalidDestination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	var n int
	for _, dst := range []any{nil, struct{}{}, &n} {
		if got := statusOf(t, Unmarshal(req, dst)); got != http.StatusInternalServerError {
			t.Fatalf("dst %T: status = %d", dst, got)
		}
	}
	var pp *struct {
		A string `query:"a"`
	}
	if err := Unmarshal(httptest.NewRequest(http.MethodGet, "/?a=1", nil), &pp); err != nil {
		t.Fatal(err)
	}
	if pp == nil || pp.A != "1" {
		t.Fatalf("pointer-to-struct params not allocated: %+v", pp)
	}
}
