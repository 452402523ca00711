// Package fetch retrieves competitor pages over HTTP with a browser-like
// client, optionally escalating to a headless browser for pages that ship an
// empty SPA shell.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"

	"github.com/hazyhaar/rivalwatch/horosafe"
)

// DefaultUserAgent is a desktop Chrome string.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Render modes.
const (
	ModeHTTP    = "http"    // plain HTTP only
	ModeAuto    = "auto"    // HTTP, then browser when the body looks like an SPA shell
	ModeBrowser = "browser" // browser only
)

// FetchError reports a network failure, timeout or non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Result is a fetched page.
type Result struct {
	Body        []byte
	StatusCode  int
	FinalURL    string
	ContentType string
	Duration    time.Duration
	Rendered    bool // body came from the headless browser
}

// Renderer loads a page in a browser and returns the serialized DOM.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Config configures the fetcher.
type Config struct {
	Timeout   time.Duration // per request. Default: 30s.
	MaxBytes  int64         // response cap. Default: 10 MiB.
	UserAgent string        // Default: DefaultUserAgent.
	// URLValidator runs before the request and on every redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
	// Transport overrides the HTTP transport. Default: a clone of
	// http.DefaultTransport wrapped with the Cloudflare bypass round tripper.
	Transport http.RoundTripper
	Mode      string   // Default: ModeHTTP.
	Renderer  Renderer // required for ModeAuto and ModeBrowser
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.Transport == nil {
		c.Transport = cloudflarebp.AddCloudFlareByPass(http.DefaultTransport.(*http.Transport).Clone())
	}
	if c.Mode == "" {
		c.Mode = ModeHTTP
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher performs page fetches. Safe for concurrent use.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher with SSRF checks on redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch retrieves url. Failures are *FetchError. There are no retries.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	if err := f.config.URLValidator(url); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	switch f.config.Mode {
	case ModeBrowser:
		return f.render(ctx, url, time.Now())
	case ModeAuto:
		res, err := f.get(ctx, url)
		if err != nil {
			return nil, err
		}
		if IsSufficient(res.Body) || f.config.Renderer == nil {
			return res, nil
		}
		f.config.Logger.InfoContext(ctx, "fetch: body looks like an SPA shell, rendering", "url", url)
		rendered, err := f.render(ctx, res.FinalURL, time.Now().Add(-res.Duration))
		if err != nil {
			f.config.Logger.WarnContext(ctx, "fetch: render failed, keeping HTTP body", "url", url, "error", err)
			return res, nil
		}
		rendered.StatusCode = res.StatusCode
		rendered.ContentType = res.ContentType
		return rendered, nil
	default:
		return f.get(ctx, url)
	}
}

func (f *Fetcher) get(ctx context.Context, url string) (*Result, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("http %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	res := &Result{
		Body:        body,
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    time.Since(start),
	}
	f.config.Logger.DebugContext(ctx, "fetch: fetched",
		"url", url, "status", res.StatusCode, "size", len(body),
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (f *Fetcher) render(ctx context.Context, url string, start time.Time) (*Result, error) {
	if f.config.Renderer == nil {
		return nil, &FetchError{URL: url, Err: errors.New("no browser renderer configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()
	body, err := f.config.Renderer.Render(ctx, url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, &FetchError{URL: url, Err: horosafe.ErrTooLarge}
	}
	return &Result{
		Body:       body,
		StatusCode: http.StatusOK,
		FinalURL:   url,
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}
