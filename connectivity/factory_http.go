package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/rivalwatch/horosafe"
)

// maxHTTPResponseBody caps remote responses at 10 MiB.
const maxHTTPResponseBody int64 = 10 << 20

type httpConfig struct {
	TimeoutMs   int64  `json:"timeout_ms"`
	ContentType string `json:"content_type"`
}

// HTTPOption configures HTTPFactory.
type HTTPOption func(*httpFactoryConfig)

type httpFactoryConfig struct {
	validate func(string) error
	client   *http.Client
}

// WithEndpointValidator replaces the SSRF check run on each endpoint.
// Pass nil to allow private addresses, e.g. a model server on localhost.
func WithEndpointValidator(fn func(string) error) HTTPOption {
	return func(c *httpFactoryConfig) { c.validate = fn }
}

// WithHTTPClient sets the client used for every route built by the factory.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(cfg *httpFactoryConfig) { cfg.client = c }
}

// HTTPFactory creates Handlers that POST the payload to a remote endpoint.
// By default the endpoint is rejected when it resolves to a private or
// loopback address.
func HTTPFactory(opts ...HTTPOption) TransportFactory {
	fc := httpFactoryConfig{validate: horosafe.ValidateURL}
	for _, o := range opts {
		o(&fc)
	}
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if fc.validate != nil {
			if err := fc.validate(endpoint); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: %w", err)
			}
		}

		var cfg httpConfig
		if len(config) > 0 {
			_ = json.Unmarshal(config, &cfg)
		}
		contentType := "application/json"
		if cfg.ContentType != "" {
			contentType = cfg.ContentType
		}

		client := fc.client
		if client == nil {
			timeout := 60 * time.Second
			if cfg.TimeoutMs > 0 {
				timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
			}
			client = &http.Client{Timeout: timeout}
		}

		handler := func(ctx context.Context, payload []byte) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: create request: %w", err)
			}
			req.Header.Set("Content-Type", contentType)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: do request: %w", err)
			}
			defer resp.Body.Close()

			body, err := horosafe.LimitedReadAll(resp.Body, maxHTTPResponseBody)
			if err != nil {
				return nil, fmt.Errorf("connectivity/http: read response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, fmt.Errorf("connectivity/http: status %d: %s", resp.StatusCode, body)
			}
			return body, nil
		}

		return handler, client.CloseIdleConnections, nil
	}
}
