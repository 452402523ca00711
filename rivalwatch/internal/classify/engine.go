package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Engine is the comparison service: a prompt in, free-form text out.
type Engine interface {
	Compare(ctx context.Context, prompt string) (string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, prompt string) (string, error)

// Compare calls f.
func (f EngineFunc) Compare(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ServiceName is the connectivity service the RouterEngine calls.
const ServiceName = "compare_snapshots"

// CompareRequest is the JSON payload sent to the compare service.
type CompareRequest struct {
	Prompt string `json:"prompt"`
}

// CompareResponse is the JSON answer expected from the compare service.
// Services that answer with plain text are accepted as well.
type CompareResponse struct {
	Text string `json:"text"`
}

// ErrNoResponse is returned when the compare service answers nothing, as a
// noop route does.
var ErrNoResponse = errors.New("classify: empty engine response")

// Caller is the subset of connectivity.Router used by RouterEngine.
type Caller interface {
	Call(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// RouterEngine sends prompts through a service router.
type RouterEngine struct {
	Router  Caller
	Service string // default ServiceName
}

// Compare calls the compare service and unwraps its answer.
func (e *RouterEngine) Compare(ctx context.Context, prompt string) (string, error) {
	service := e.Service
	if service == "" {
		service = ServiceName
	}
	payload, err := json.Marshal(CompareRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("classify: encode request: %w", err)
	}
	resp, err := e.Router.Call(ctx, service, payload)
	if err != nil {
		return "", fmt.Errorf("classify: call %s: %w", service, err)
	}
	if len(resp) == 0 {
		return "", ErrNoResponse
	}
	var cr CompareResponse
	if err := json.Unmarshal(resp, &cr); err == nil && cr.Text != "" {
		return cr.Text, nil
	}
	return string(resp), nil
}

// StaticEngine answers every prompt with Response, or fails with Err.
type StaticEngine struct {
	Response string
	Err      error

	mu      sync.Mutex
	prompts []string
}

// Compare records the prompt and returns the canned answer.
func (e *StaticEngine) Compare(ctx context.Context, prompt string) (string, error) {
	e.mu.Lock()
	e.prompts = append(e.prompts, prompt)
	e.mu.Unlock()
	return e.Response, e.Err
}

// Prompts returns the prompts received so far.
func (e *StaticEngine) Prompts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.prompts...)
}
