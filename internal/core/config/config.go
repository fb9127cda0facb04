package config

import (
	"time"

	redisclient "github.com/vietddude/valuator/internal/infra/redis"
	"github.com/vietddude/valuator/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Browser   BrowserConfig      `yaml:"browser"`
	Site      SiteConfig         `yaml:"site"`
	Retry     RetryConfig        `yaml:"retry"`
	Recycling RecyclingConfig    `yaml:"recycling"`
	Batch     BatchConfig        `yaml:"batch"`
}

// ServerConfig holds HTTP server settings. Port 0 disables the server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// BrowserConfig holds headless browser launch settings.
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	ExecutablePath    string        `yaml:"executable_path"`
	UserAgent         string        `yaml:"user_agent"`
	Locale            string        `yaml:"locale"`
	AcceptLanguage    string        `yaml:"accept_language"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	Proxy             ProxyConfig   `yaml:"proxy"`
}

// ProxyConfig holds an optional upstream proxy.
type ProxyConfig struct {
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SiteConfig describes the target valuation form.
type SiteConfig struct {
	URL               string        `yaml:"url"`
	CookieButton      string        `yaml:"cookie_button"`
	PlateInput        string        `yaml:"plate_input"`
	MileageInput      string        `yaml:"mileage_input"`
	SubmitButton      string        `yaml:"submit_button"`
	EmailInput        string        `yaml:"email_input"`
	PostcodeInput     string        `yaml:"postcode_input"`
	PhoneInput        string        `yaml:"phone_input"`
	AdvanceButton     string        `yaml:"advance_button"`
	AmountSelectors   []string      `yaml:"amount_selectors"`
	NotFoundText      string        `yaml:"not_found_text"`
	ResultTimeout     time.Duration `yaml:"result_timeout"`
	CookieWaitTimeout time.Duration `yaml:"cookie_wait_timeout"`
}

// BackoffConfig bounds one retry layer.
type BackoffConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"` // fraction of the exponential delay, 0..1
}

// RetryConfig holds both retry layers.
type RetryConfig struct {
	Browser BackoffConfig `yaml:"browser"`
	Batch   BackoffConfig `yaml:"batch"`
	// ConsecutiveFailures is the number of failed records in a row treated as systemic.
	ConsecutiveFailures int `yaml:"consecutive_failures"`
}

// RecyclingConfig controls browser process replacement.
type RecyclingConfig struct {
	Threshold           int    `yaml:"threshold"`
	MaxMemoryMB         uint64 `yaml:"max_memory_mb"`
	MemoryCheckInterval int    `yaml:"memory_check_interval"`
}

// BatchConfig controls queue paging and pacing.
type BatchConfig struct {
	PageSize int           `yaml:"page_size"`
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}
