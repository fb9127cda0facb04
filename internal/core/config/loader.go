package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	cfg := presetConfig()
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	cfg := presetConfig()
	cfg.ApplyDefaults()
	return &cfg
}

// presetConfig holds the defaults whose zero value is a valid setting. They
// are set before decoding so that only keys present in the file override them.
func presetConfig() AppConfig {
	return AppConfig{
		Browser: BrowserConfig{Headless: true},
		Retry: RetryConfig{
			Browser: BackoffConfig{Jitter: 0.25},
			Batch:   BackoffConfig{MaxRetries: 10, Jitter: 0.25},
		},
	}
}

// ApplyDefaults fills zero values with defaults.
func (c *AppConfig) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	b := &c.Retry.Browser
	setInt(&b.MaxRetries, 3)
	setDuration(&b.BaseDelay, 2*time.Second)
	setDuration(&b.MaxDelay, 30*time.Second)

	bt := &c.Retry.Batch
	setDuration(&bt.BaseDelay, 5*time.Second)
	setDuration(&bt.MaxDelay, 120*time.Second)
	setInt(&c.Retry.ConsecutiveFailures, 5)

	setInt(&c.Recycling.Threshold, 75)
	if c.Recycling.MaxMemoryMB == 0 {
		c.Recycling.MaxMemoryMB = 2048
	}
	setInt(&c.Recycling.MemoryCheckInterval, 50)

	setInt(&c.Batch.PageSize, 50)
	// Defaults apply only when neither pacing bound is set.
	if c.Batch.MinDelay == 0 && c.Batch.MaxDelay == 0 {
		c.Batch.MinDelay = 2 * time.Second
		c.Batch.MaxDelay = 5 * time.Second
	}

	br := &c.Browser
	if br.UserAgent == "" {
		br.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if br.Locale == "" {
		br.Locale = "en-GB"
	}
	if br.AcceptLanguage == "" {
		br.AcceptLanguage = "en-GB,en;q=0.9"
	}
	setInt(&br.ViewportWidth, 1366)
	setInt(&br.ViewportHeight, 768)
	setDuration(&br.DefaultTimeout, 15*time.Second)
	setDuration(&br.NavigationTimeout, 20*time.Second)

	s := &c.Site
	setString(&s.URL, "https://www.webuyanycar.com/")
	setString(&s.CookieButton, "#onetrust-accept-btn-handler")
	setString(&s.PlateInput, "#vehicleReg")
	setString(&s.MileageInput, "#Mileage")
	setString(&s.SubmitButton, "#btn-go")
	setString(&s.EmailInput, "#EmailAddress")
	setString(&s.PostcodeInput, "#Postcode")
	setString(&s.PhoneInput, "#TelephoneNumber")
	setString(&s.AdvanceButton, "#advance-btn")
	if len(s.AmountSelectors) == 0 {
		s.AmountSelectors = []string{"div.amount", "div.price", ".valuation-amount", ".car-value"}
	}
	setString(&s.NotFoundText, "sorry, we couldn't find your car")
	setDuration(&s.ResultTimeout, 30*time.Second)
	setDuration(&s.CookieWaitTimeout, 5*time.Second)
}

// Validate rejects inconsistent settings.
func (c *AppConfig) Validate() error {
	counts := []struct {
		name  string
		value int
	}{
		{"retry.browser.max_retries", c.Retry.Browser.MaxRetries},
		{"retry.batch.max_retries", c.Retry.Batch.MaxRetries},
		{"retry.consecutive_failures", c.Retry.ConsecutiveFailures},
		{"recycling.threshold", c.Recycling.Threshold},
		{"recycling.memory_check_interval", c.Recycling.MemoryCheckInterval},
		{"batch.page_size", c.Batch.PageSize},
	}
	for _, n := range counts {
		if n.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", n.name, n.value)
		}
	}
	if c.Batch.MinDelay < 0 {
		return fmt.Errorf("batch.min_delay must not be negative, got %s", c.Batch.MinDelay)
	}
	if c.Batch.MinDelay > c.Batch.MaxDelay {
		return fmt.Errorf("batch.min_delay (%s) exceeds batch.max_delay (%s)", c.Batch.MinDelay, c.Batch.MaxDelay)
	}
	for name, b := range map[string]BackoffConfig{"browser": c.Retry.Browser, "batch": c.Retry.Batch} {
		if b.BaseDelay > b.MaxDelay {
			return fmt.Errorf("retry.%s.base_delay (%s) exceeds max_delay (%s)", name, b.BaseDelay, b.MaxDelay)
		}
		if b.Jitter < 0 || b.Jitter > 1 {
			return fmt.Errorf("retry.%s.jitter must be within [0,1], got %v", name, b.Jitter)
		}
	}
	return nil
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
