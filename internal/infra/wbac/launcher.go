// Package wbac drives the vehicle valuation web form through a playwright
// browser context. One Session is one attempt.
package wbac

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/vietddude/valuator/internal/core/config"
	"github.com/vietddude/valuator/internal/valuation/recovery"
)

// ContextFactory hands out fresh browser contexts.
type ContextFactory interface {
	NewContext(ctx context.Context) (playwright.BrowserContext, error)
}

// Launcher implements recovery.Launcher on top of a browser runtime.
type Launcher struct {
	browsers ContextFactory
	site     config.SiteConfig
	log      *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

var _ recovery.Launcher = (*Launcher)(nil)

// NewLauncher creates a launcher for the configured site.
func NewLauncher(browsers ContextFactory, site config.SiteConfig) *Launcher {
	return &Launcher{
		browsers: browsers,
		site:     site,
		log:      slog.Default().With("component", "wbac"),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// NewSession opens a fresh browser context and page.
func (l *Launcher) NewSession(ctx context.Context) (recovery.Session, error) {
	bctx, err := l.browsers.NewContext(ctx)
	if err != nil {
		return nil, err
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, err
	}

	l.mu.Lock()
	contact := RandomContact(l.rng)
	l.mu.Unlock()

	return &Session{
		bctx:    bctx,
		page:    page,
		site:    l.site,
		contact: contact,
		log:     l.log,
	}, nil
}
