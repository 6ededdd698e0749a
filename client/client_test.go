package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnehpets/servicebox/host"
	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/mnehpets/servicebox/schema"
	"github.com/mnehpets/servicebox/service"
	"golang.org/x/oauth2"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	auth := service.MiddlewareFunc(func(r *http.Request) (service.Identity, error) {
		if tok := r.Header.Get("Authorization"); tok != "" {
			return service.Identity{"authorization": tok}, nil
		}
		return nil, nil
	})
	svc := service.New(auth)
	members := service.Members{
		"add": svc.MustMethod(service.Signature{
			Params:  []schema.Schema{schema.Number(), schema.Number()},
			Returns: schema.Number(),
		}, func(c *service.Context, p service.Params) (any, error) {
			return p[0].(float64) + p[1].(float64), nil
		}),
		"whoami": svc.MustMethod(service.Signature{}, func(c *service.Context, _ service.Params) (any, error) {
			return c.Identity["authorization"], nil
		}),
	}
	h, err := host.New(map[string]service.Provider{"math": members}, host.WithRegisterer(nil))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Call(t *testing.T) {
	c := New(newServer(t).URL)
	var sum float64
	if err := c.Call(context.Background(), "math/add", &sum, 2, 3); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sum != 5 {
		t.Fatalf("sum = %v", sum)
	}
}

func TestClient_CallError(t *testing.T) {
	c := New(newServer(t).URL)
	err := c.Call(context.Background(), "math/add", nil, "x", 3)
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("err = %v", err)
	}
}

func TestClient_Batch(t *testing.T) {
	c := New(newServer(t).URL)
	results, err := c.Batch(context.Background(),
		Call{Method: "math/add", Params: []any{1, 1}},
		Call{Method: "math/add", Params: []any{"bad", 1}},
		Call{Method: "math/add", Params: []any{2, 2}},
	)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	var n float64
	if err := results[0].Decode(&n); err != nil || n != 2 {
		t.Errorf("result 0 = %v, %v", n, err)
	}
	if results[1].Err == nil || results[1].Err.Code != jsonrpc.CodeInvalidParams {
		t.Errorf("result 1 = %+v", results[1].Err)
	}
	if err := results[2].Decode(&n); err != nil || n != 4 {
		t.Errorf("result 2 = %v, %v", n, err)
	}
}

func TestClient_OrdinalIDs(t *testing.T) {
	c := New(newServer(t).URL)
	for i := 0; i < 3; i++ {
		if err := c.Call(context.Background(), "math/add", nil, 1, 1); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.ordinal.Load(); got != 3 {
		t.Fatalf("ordinal = %d", got)
	}
}

func TestClient_BatchRejected(t *testing.T) {
	c := New(newServer(t).URL)
	_, err := c.Batch(context.Background(),
		Call{Method: "math/add", Params: []any{1, 1}},
		Call{Method: "math/missing"},
	)
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestClient_EmptyBatch(t *testing.T) {
	c := New("http://127.0.0.1:0/unused")
	results, err := c.Batch(context.Background())
	if err != nil || results != nil {
		t.Fatalf("Batch() = %v, %v", results, err)
	}
}

func TestClient_TokenSource(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc", TokenType: "Bearer"})
	c := New(newServer(t).URL, WithTokenSource(ts))
	var got string
	if err := c.Call(context.Background(), "math/whoami", &got); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer abc" {
		t.Fatalf("authorization = %q", got)
	}
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := New(srv.URL).Call(context.Background(), "math/add", nil, 1, 2)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway || se.Body != "gateway down" {
		t.Fatalf("err = %v", err)
	}
}

func TestClient_Mismatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"too few", `[{"jsonrpc":"2.0","id":0,"result":1}]`},
		{"wrong id", `[{"jsonrpc":"2.0","id":7,"result":1},{"jsonrpc":"2.0","id":1,"result":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := New(srv.URL).Batch(context.Background(), Call{Method: "a/b"}, Call{Method: "a/c"})
			if !errors.Is(err, ErrMismatch) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}
