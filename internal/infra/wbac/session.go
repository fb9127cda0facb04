package wbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/vietddude/valuator/internal/core/config"
	"github.com/vietddude/valuator/internal/core/domain"
	"github.com/vietddude/valuator/internal/valuation/recovery"
)

const pollInterval = 500 * time.Millisecond

var errPollTimeout = errors.New("poll timed out")

// resultKind is what the page showed after the vehicle form was submitted.
type resultKind int

const (
	resultNotFound resultKind = iota
	resultContactForm
	resultAmount
)

// Session is one browser context with a single page.
type Session struct {
	bctx    playwright.BrowserContext
	page    playwright.Page
	site    config.SiteConfig
	contact Contact
	log     *slog.Logger
}

// Valuate runs the whole form flow for rec and returns the site's amount.
func (s *Session) Valuate(ctx context.Context, rec domain.Record) (float64, error) {
	// Closing the context aborts any in-flight playwright call.
	stop := context.AfterFunc(ctx, func() { _ = s.bctx.Close() })
	defer stop()

	amount, err := s.valuate(ctx, rec)
	if err != nil && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return amount, err
}

func (s *Session) valuate(ctx context.Context, rec domain.Record) (float64, error) {
	log := s.log.With("plate", rec.Plate)

	if _, err := s.page.Goto(s.site.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return 0, attemptError(err, domain.ReasonNavigationError, "open valuation page")
	}

	s.acceptCookies()

	if err := s.page.Locator(s.site.PlateInput).Fill(rec.NormalizedPlate()); err != nil {
		return 0, attemptError(err, domain.ReasonNavigationError, "fill plate")
	}
	mileage := rec.FormMileage()
	if err := s.page.Locator(s.site.MileageInput).Fill(fmt.Sprint(mileage)); err != nil {
		return 0, attemptError(err, domain.ReasonNavigationError, "fill mileage")
	}
	if err := s.page.Locator(s.site.SubmitButton).Click(); err != nil {
		return 0, attemptError(err, domain.ReasonNavigationError, "submit vehicle form")
	}
	log.Debug("Vehicle form submitted", "mileage", mileage)

	kind, err := s.waitForResult(ctx)
	if err != nil {
		return 0, err
	}
	switch kind {
	case resultNotFound:
		return 0, domain.ErrCarNotFound
	case resultContactForm:
		if err := s.fillContact(); err != nil {
			return 0, err
		}
		log.Debug("Contact form submitted")
	}

	return s.extractAmount(ctx)
}

// acceptCookies dismisses the consent banner if it shows up.
func (s *Session) acceptCookies() {
	if s.site.CookieButton == "" {
		return
	}
	btn := s.page.Locator(s.site.CookieButton).First()
	err := btn.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(s.site.CookieWaitTimeout.Milliseconds())),
	})
	if err != nil {
		return
	}
	if err := btn.Click(); err != nil {
		s.log.Debug("Cookie banner click failed", "error", err)
	}
}

// waitForResult polls until the page shows not-found, the contact form or an amount.
func (s *Session) waitForResult(ctx context.Context) (resultKind, error) {
	var kind resultKind
	err := pollUntil(ctx, s.site.ResultTimeout, pollInterval, func() bool {
		if html, err := s.page.Content(); err == nil && IsNotFound(html, s.site.NotFoundText) {
			kind = resultNotFound
			return true
		}
		if s.visible(s.site.EmailInput) {
			kind = resultContactForm
			return true
		}
		for _, sel := range s.site.AmountSelectors {
			if s.visible(sel) {
				kind = resultAmount
				return true
			}
		}
		return false
	})
	if errors.Is(err, errPollTimeout) {
		return 0, domain.NewAttemptError(domain.ReasonTimeout,
			fmt.Errorf("no result after %s", s.site.ResultTimeout))
	}
	return kind, err
}

func (s *Session) fillContact() error {
	fields := []struct {
		selector, value, name string
	}{
		{s.site.EmailInput, s.contact.Email, "email"},
		{s.site.PostcodeInput, s.contact.Postcode, "postcode"},
		{s.site.PhoneInput, s.contact.Phone, "phone"},
	}
	for _, f := range fields {
		if f.selector == "" || !s.visible(f.selector) {
			continue
		}
		if err := s.page.Locator(f.selector).First().Fill(f.value); err != nil {
			return attemptError(err, domain.ReasonNavigationError, "fill "+f.name)
		}
	}
	if s.site.AdvanceButton != "" {
		if err := s.page.Locator(s.site.AdvanceButton).First().Click(); err != nil {
			return attemptError(err, domain.ReasonNavigationError, "submit contact form")
		}
	}
	return nil
}

// extractAmount waits for the first non-empty amount element and parses it.
func (s *Session) extractAmount(ctx context.Context) (float64, error) {
	var (
		amount   float64
		parseErr error
	)
	err := pollUntil(ctx, s.site.ResultTimeout, pollInterval, func() bool {
		for _, sel := range s.site.AmountSelectors {
			if !s.visible(sel) {
				continue
			}
			text, err := s.page.Locator(sel).First().InnerText()
			if err != nil || strings.TrimSpace(text) == "" {
				continue
			}
			amount, parseErr = domain.ParseAmount(text)
			return true
		}
		return false
	})
	switch {
	case errors.Is(err, errPollTimeout):
		return 0, domain.NewAttemptError(domain.ReasonTimeout,
			fmt.Errorf("valuation amount did not appear within %s", s.site.ResultTimeout))
	case err != nil:
		return 0, err
	case parseErr != nil:
		return 0, domain.NewAttemptError(domain.ReasonExtractionError, parseErr)
	}
	return amount, nil
}

func (s *Session) visible(selector string) bool {
	if selector == "" {
		return false
	}
	ok, err := s.page.Locator(selector).First().IsVisible()
	return err == nil && ok
}

// Close tears down the browser context.
func (s *Session) Close() error {
	if err := s.bctx.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
		return err
	}
	return nil
}

// pollUntil calls check every interval until it returns true. It returns
// errPollTimeout once timeout has passed and ctx.Err() as soon as ctx ends.
func pollUntil(ctx context.Context, timeout, interval time.Duration, check func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if check() {
			return nil
		}
		if time.Now().After(deadline) {
			return errPollTimeout
		}
		if err := recovery.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// IsNotFound reports whether the page html carries the not-found message.
func IsNotFound(html, text string) bool {
	if text == "" {
		return false
	}
	return strings.Contains(strings.ToLower(html), strings.ToLower(text))
}

// attemptError classifies a playwright error: timeouts are timeouts,
// everything else gets the fallback reason.
func attemptError(err error, fallback domain.FailureReason, step string) error {
	reason := fallback
	if errors.Is(err, playwright.ErrTimeout) {
		reason = domain.ReasonTimeout
	}
	return domain.NewAttemptError(reason, fmt.Errorf("%s: %w", step, err))
}
