package browser

import (
	"github.com/playwright-community/playwright-go"

	"github.com/vietddude/valuator/internal/core/config"
)

// LaunchOptions maps browser config to chromium launch options.
func LaunchOptions(cfg config.BrowserConfig) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if cfg.ExecutablePath != "" {
		opts.ExecutablePath = playwright.String(cfg.ExecutablePath)
	}
	if cfg.Proxy.Server != "" {
		proxy := &playwright.Proxy{Server: cfg.Proxy.Server}
		if cfg.Proxy.Username != "" {
			proxy.Username = playwright.String(cfg.Proxy.Username)
			proxy.Password = playwright.String(cfg.Proxy.Password)
		}
		opts.Proxy = proxy
	}
	return opts
}

// ContextOptions maps browser config to per-session context options.
func ContextOptions(cfg config.BrowserConfig) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{}
	if cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(cfg.UserAgent)
	}
	if cfg.Locale != "" {
		opts.Locale = playwright.String(cfg.Locale)
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}
	}
	if cfg.AcceptLanguage != "" {
		opts.ExtraHttpHeaders = map[string]string{"Accept-Language": cfg.AcceptLanguage}
	}
	return opts
}
