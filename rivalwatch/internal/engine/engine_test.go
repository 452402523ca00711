package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
)

// WHAT: The Gemini client posts the prompt and joins the answer parts.
func TestGemini_Compare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/test-model:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		if r.URL.RawQuery != "" {
			t.Errorf("query = %q, want no key in the URL", r.URL.RawQuery)
		}
		var req geminiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "compare this" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"summary\":"},{"text":"\"x\"}"}]}}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{Provider: ProviderGemini, BaseURL: srv.URL, APIKey: "k", Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Compare(context.Background(), "compare this")
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"summary":"x"}` {
		t.Errorf("got %q", got)
	}
}

// WHAT: The OpenAI-compatible client sends a bearer token and reads the first choice.
func TestOpenAI_Compare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "local" || req.Messages[0].Content != "p" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"answer"}}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{Provider: ProviderOpenAI, BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "local"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Compare(context.Background(), "p")
	if err != nil || got != "answer" {
		t.Fatalf("got %q err %v", got, err)
	}
}

func TestCompare_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "empty") {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	c, _ := New(Config{Provider: ProviderOpenAI, BaseURL: srv.URL})
	_, err := c.Compare(context.Background(), "p")
	if err == nil || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v", err)
	}

	c, _ = New(Config{Provider: ProviderOpenAI, BaseURL: srv.URL + "/empty"})
	if _, err := c.Compare(context.Background(), "p"); !errors.Is(err, ErrEmptyAnswer) {
		t.Errorf("err = %v", err)
	}
}

// WHAT: Answers are decoded as JSON even when the server sends no
// Content-Type or a non-JSON one.
// WHY: Local OpenAI-compatible servers and some proxies omit the header;
// the body used to be left undecoded and read as an empty answer.
func TestCompare_MissingContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		if strings.Contains(r.URL.Path, "generateContent") {
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"gem"}]}}]}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"chat"}}]}`))
	}))
	defer srv.Close()

	for provider, want := range map[string]string{ProviderOpenAI: "chat", ProviderGemini: "gem"} {
		c, err := New(Config{Provider: provider, BaseURL: srv.URL, APIKey: "k"})
		if err != nil {
			t.Fatal(err)
		}
		got, err := c.Compare(context.Background(), "p")
		if err != nil || got != want {
			t.Errorf("%s: got %q err %v, want %q", provider, got, err, want)
		}
	}
}

// WHAT: Transport errors from the Gemini client do not carry the API key.
// WHY: The key used to travel in the query string, so url.Error text put it
// into scan errors, logs and the events table.
func TestGemini_KeyNotInErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c, err := New(Config{Provider: ProviderGemini, BaseURL: addr, APIKey: "SUPERSECRETKEY"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Compare(context.Background(), "p")
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if strings.Contains(err.Error(), "SUPERSECRETKEY") {
		t.Errorf("error leaks the key: %v", err)
	}
}

// WHAT: An explicit temperature of zero is sent as zero; unset means 0.2.
// WHY: Zero used to be treated as unset, so deterministic runs were impossible.
func TestCompare_Temperature(t *testing.T) {
	var got []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		got = append(got, req.Temperature)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	zero := 0.0
	for _, temp := range []*float64{&zero, nil} {
		c, err := New(Config{Provider: ProviderOpenAI, BaseURL: srv.URL, Temperature: temp})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Compare(context.Background(), "p"); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 0.2 {
		t.Errorf("temperatures = %v, want [0 0.2]", got)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Provider: "watson"}); err == nil {
		t.Error("unknown provider accepted")
	}
	if _, err := New(Config{Provider: ProviderGemini}); err == nil {
		t.Error("gemini without key accepted")
	}
	if _, err := New(Config{Provider: ProviderOpenAI, BaseURL: "http://localhost:8080/v1"}); err != nil {
		t.Errorf("keyless local openai rejected: %v", err)
	}
}

// WHAT: Handler speaks the compare service protocol used by RouterEngine.
func TestHandler_RoundTripsThroughRouterEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"summary\":\"Prices changed\",\"severity\":\"critical\"}"}}]}`))
	}))
	defer srv.Close()

	c, _ := New(Config{Provider: ProviderOpenAI, BaseURL: srv.URL})
	h := c.Handler()
	router := callerFunc(func(ctx context.Context, service string, payload []byte) ([]byte, error) {
		return h(ctx, payload)
	})
	res := classify.New(&classify.RouterEngine{Router: router}).
		Classify(context.Background(), "Price: $10", "Price: $15", "https://example.com")
	if res.Severity != classify.SeverityCritical || res.Summary != "Prices changed" {
		t.Errorf("result = %+v", res)
	}
}

type callerFunc func(ctx context.Context, service string, payload []byte) ([]byte, error)

func (f callerFunc) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	return f(ctx, service, payload)
}
