package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mnehpets/servicebox/host"
	"github.com/mnehpets/servicebox/jsonrpc"
	"github.com/mnehpets/servicebox/schema"
	"github.com/mnehpets/servicebox/service"
)

func receive(t *testing.T, ch <-chan jsonrpc.Notification) jsonrpc.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return jsonrpc.Notification{}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish("math/added", "s1", 42); err != nil {
		t.Fatal(err)
	}
	n := receive(t, ch)
	if n.JSONRPC != jsonrpc.Version || n.Method != "math/added" {
		t.Fatalf("notification = %+v", n)
	}
	if len(n.Params) != 1 || n.Params[0] != float64(42) {
		t.Fatalf("params = %#v", n.Params)
	}
}

func TestBus_AddressedBySession(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine, _ := bus.Subscribe(ctx, "mine")
	other, _ := bus.Subscribe(ctx, "other")
	if err := bus.Publish("chat/message", "other", "hi"); err != nil {
		t.Fatal(err)
	}
	if n := receive(t, other); n.Params[0] != "hi" {
		t.Fatalf("other got %+v", n)
	}
	select {
	case n := <-mine:
		t.Fatalf("wrong session received %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_NoSubscriberDrops(t *testing.T) {
	bus := New()
	defer bus.Close()
	if err := bus.Publish("math/added", "nobody", 1); err != nil {
		t.Fatalf("Publish = %v", err)
	}
}

func TestBus_SubscriptionEndsWithContext(t *testing.T) {
	bus := New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected notification")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestBus_UnencodableData(t *testing.T) {
	bus := New()
	defer bus.Close()
	if err := bus.Publish("x/y", "s1", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestBus_ClosedBusRejectsPublish(t *testing.T) {
	bus := New()
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish("x/y", "s1", 1); err == nil {
		t.Fatal("publish after close succeeded")
	}
}

func TestBus_AsHostSink(t *testing.T) {
	bus := New(WithTopicPrefix("test."))
	defer bus.Close()

	svc := service.New()
	added := svc.Event(schema.Number())
	members := service.Members{
		"$added": added,
		"add": svc.MustMethod(service.Signature{
			Params: []schema.Schema{schema.Number(), schema.Number()},
		}, func(c *service.Context, p service.Params) (any, error) {
			sum := p[0].(float64) + p[1].(float64)
			added.Send(c.ID, sum)
			return sum, nil
		}),
	}
	h, err := host.New(map[string]service.Provider{"math": members},
		host.WithRegisterer(nil),
		host.WithEventSink(bus),
		host.WithSessionIDs(func() string { return "fixed" }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if bus.Topic("fixed") != "test.fixed" {
		t.Fatalf("topic = %q", bus.Topic("fixed"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, "fixed")
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[{"jsonrpc":"2.0","id":1,"method":"math/add","params":[2,3]}]`))
	r.Header.Set("Content-Type", "application/json")
	h.Handler().ServeHTTP(httptest.NewRecorder(), r)

	n := receive(t, ch)
	if n.Method != "math/added" || n.Params[0] != float64(5) {
		t.Fatalf("notification = %+v", n)
	}
}
