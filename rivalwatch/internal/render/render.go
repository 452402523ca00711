// Package render loads pages in headless Chrome through Rod with the stealth
// evasions applied, for competitor sites that only produce content after
// JavaScript runs.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/rivalwatch/horosafe"
)

// Config configures the renderer.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome on first use.
	RemoteURL string
	// Settle is how long to wait for network idle after load. Default: 2s.
	Settle time.Duration
	// URLValidator vets the page URL and every request the browser makes,
	// redirects included. Default: horosafe.ValidateURL.
	URLValidator func(string) error
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.Settle <= 0 {
		c.Settle = 2 * time.Second
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Renderer owns one browser shared by all renders. Safe for concurrent use.
type Renderer struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// New creates a Renderer. The browser starts lazily.
func New(cfg Config) *Renderer {
	cfg.defaults()
	return &Renderer{cfg: cfg}
}

// Available reports whether a browser can be used: either RemoteURL is set
// or a local Chrome binary is found.
func (r *Renderer) Available() bool {
	if r.cfg.RemoteURL != "" {
		return true
	}
	_, has := launcher.LookPath()
	return has
}

func (r *Renderer) ensure() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("render: renderer is closed")
	}
	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("render: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		r.cfg.Logger.Info("render: launched local chrome", "url", wsURL)
	} else {
		r.cfg.Logger.Info("render: connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if r.lnch != nil {
			r.lnch.Kill()
			r.lnch = nil
		}
		return nil, fmt.Errorf("render: connect: %w", err)
	}
	r.browser = b
	return b, nil
}

// Render navigates a fresh stealth tab to url and returns the serialized
// DOM once the page has loaded and settled. ctx bounds the whole render.
// Requests rejected by the URL validator fail inside the browser; a
// rejected navigation in any frame fails the render.
func (r *Renderer) Render(ctx context.Context, url string) ([]byte, error) {
	if err := r.cfg.URLValidator(url); err != nil {
		return nil, fmt.Errorf("render: %s: %w", url, err)
	}
	b, err := r.ensure()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("render: open tab: %w", err)
	}
	defer page.Close()

	g := &guard{validate: r.cfg.URLValidator, log: r.cfg.Logger}
	router := page.HijackRequests()
	if err := router.Add("*", "", g.handle); err != nil {
		return nil, fmt.Errorf("render: intercept requests: %w", err)
	}
	go router.Run()
	defer func() { _ = router.Stop() }()

	p := page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		if blocked := g.blocked(); blocked != nil {
			return nil, blocked
		}
		return nil, fmt.Errorf("render: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		r.cfg.Logger.WarnContext(ctx, "render: wait load", "url", url, "error", err)
	}
	settle, cancel := context.WithTimeout(ctx, r.cfg.Settle)
	defer cancel()
	_ = page.Context(settle).WaitIdle(r.cfg.Settle)
	if blocked := g.blocked(); blocked != nil {
		return nil, blocked
	}

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("render: read DOM: %w", err)
	}
	return []byte("<!DOCTYPE html>\n" + res.Value.Str()), nil
}

// Close shuts down the browser. Further renders fail.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Kill()
		r.lnch = nil
	}
	return err
}

// guard screens intercepted browser requests and remembers the first
// rejected navigation.
type guard struct {
	validate func(string) error
	log      *slog.Logger

	mu  sync.Mutex
	nav error
}

func (g *guard) handle(h *rod.Hijack) {
	u := h.Request.URL().String()
	if err := g.validate(u); err != nil {
		g.log.Warn("render: request blocked", "url", u, "type", h.Request.Type(), "error", err)
		if h.Request.IsNavigation() {
			g.mu.Lock()
			if g.nav == nil {
				g.nav = fmt.Errorf("render: navigation to %s blocked: %w", u, err)
			}
			g.mu.Unlock()
		}
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}
	h.ContinueRequest(&proto.FetchContinueRequest{})
}

func (g *guard) blocked() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nav
}
