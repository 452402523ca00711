package kit

import (
	"context"
	"errors"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order: got %v", order)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) { return nil, errFail }
	_, err := Chain()(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("got %v, want errFail", err)
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if got := GetTransport(ctx); got != "http" {
		t.Fatalf("default transport: got %q", got)
	}
	ctx = WithOwnerID(ctx, "user-1")
	ctx = WithTraceID(ctx, "abcd")
	ctx = WithTransport(ctx, "mcp")
	if GetOwnerID(ctx) != "user-1" || GetTraceID(ctx) != "abcd" || GetTransport(ctx) != "mcp" {
		t.Fatalf("context values lost: %q %q %q", GetOwnerID(ctx), GetTraceID(ctx), GetTransport(ctx))
	}
}
