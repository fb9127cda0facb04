package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/vietddude/valuator/internal/core/config"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser runtime closed")

// Runtime owns one playwright driver and one browser process. Sessions get a
// fresh browser context each; Restart replaces the browser process.
type Runtime struct {
	cfg config.BrowserConfig
	log *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	closed  bool
}

// NewRuntime creates a runtime. Nothing is launched until Start or the first context.
func NewRuntime(cfg config.BrowserConfig) *Runtime {
	return &Runtime{
		cfg: cfg,
		log: slog.Default().With("component", "browser"),
	}
}

// Install downloads the playwright driver and chromium.
func Install() error {
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return fmt.Errorf("install playwright: %w", err)
	}
	return nil
}

// Start launches the driver and the browser.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(ctx)
}

func (r *Runtime) startLocked(ctx context.Context) error {
	if r.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return fmt.Errorf("start playwright driver: %w", err)
		}
		r.pw = pw
	}
	if r.browser != nil && r.browser.IsConnected() {
		return nil
	}

	b, err := r.pw.Chromium.Launch(LaunchOptions(r.cfg))
	if err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}
	r.browser = b
	r.log.Info("Browser launched", "headless", r.cfg.Headless, "version", b.Version())
	return nil
}

// Restart closes the browser process and launches a new one.
func (r *Runtime) Restart(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			r.log.Warn("Failed to close browser during restart", "error", err)
		}
		r.browser = nil
	}
	if err := r.startLocked(ctx); err != nil {
		return err
	}
	r.log.Info("Browser restarted")
	return nil
}

// NewContext returns a fresh, isolated browser context. A browser that has
// disconnected is relaunched first.
func (r *Runtime) NewContext(ctx context.Context) (playwright.BrowserContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.startLocked(ctx); err != nil {
		return nil, err
	}
	bctx, err := r.browser.NewContext(ContextOptions(r.cfg))
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	if r.cfg.DefaultTimeout > 0 {
		bctx.SetDefaultTimeout(float64(r.cfg.DefaultTimeout.Milliseconds()))
	}
	if r.cfg.NavigationTimeout > 0 {
		bctx.SetDefaultNavigationTimeout(float64(r.cfg.NavigationTimeout.Milliseconds()))
	}
	return bctx, nil
}

// Close stops the browser and the driver.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		r.browser = nil
	}
	if r.pw != nil {
		if err := r.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright driver: %w", err))
		}
		r.pw = nil
	}
	return errors.Join(errs...)
}
