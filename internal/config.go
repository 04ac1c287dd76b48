package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/relister/internal/control"
	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/marketplace"
	"github.com/starford/relister/internal/store"
	"github.com/starford/relister/internal/worker"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	Auth        AuthConfig        `yaml:"auth"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Jobs        JobsConfig        `yaml:"jobs"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Auth, &c.Telegram, &c.Marketplace, &c.Storage, &c.Database, &c.Redis, &c.Jobs,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration. Port 0 disables the server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Enabled reports whether the HTTP control surface should be served.
func (c *HTTPConfig) Enabled() bool {
	return c.Port > 0
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// AuthConfig holds HTTP API authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// TelegramConfig configures the operator bot. An empty token runs the
// service without the panel and without notifications.
type TelegramConfig struct {
	Token    string  `yaml:"token"`
	AdminIDs []int64 `yaml:"admin_ids"`
	Debug    bool    `yaml:"debug"`
}

// Enabled reports whether a bot token is configured.
func (c *TelegramConfig) Enabled() bool {
	return c.Token != ""
}

// Validate validates the Telegram configuration.
func (c *TelegramConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.AdminIDs, validation.Required.Error("at least one admin id is required with a bot token")),
	)
}

// MarketplaceConfig selects and tunes the marketplace driver.
type MarketplaceConfig struct {
	Driver            string        `yaml:"driver"`
	BaseURL           string        `yaml:"base_url"`
	GraphQLURL        string        `yaml:"graphql_url"`
	ProfilePath       string        `yaml:"profile_path"`
	LoginPath         string        `yaml:"login_path"`
	Headless          bool          `yaml:"headless"`
	UserAgents        []string      `yaml:"user_agents"`
	RotateEvery       int           `yaml:"rotate_every"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	PageSize          int           `yaml:"page_size"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Validate validates the marketplace configuration.
func (c *MarketplaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(marketplace.DriverAPI, marketplace.DriverBrowser)),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.GraphQLURL, is.URL),
		validation.Field(&c.ProfilePath, validation.When(c.Driver == marketplace.DriverBrowser, validation.Required)),
		validation.Field(&c.RotateEvery, validation.Min(0)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.PageSize, validation.Min(0)),
	)
}

// APIOptions maps the section onto the API driver options.
func (c *MarketplaceConfig) APIOptions() marketplace.APIOptions {
	return marketplace.APIOptions{
		BaseURL:           c.BaseURL,
		GraphQLURL:        c.GraphQLURL,
		PageSize:          c.PageSize,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           c.Timeout,
		UserAgents:        c.UserAgents,
		RotateEvery:       c.RotateEvery,
	}
}

// BrowserOptions maps the section onto the browser driver options.
func (c *MarketplaceConfig) BrowserOptions() marketplace.BrowserOptions {
	return marketplace.BrowserOptions{
		BaseURL:     c.BaseURL,
		LoginPath:   c.LoginPath,
		ProfilePath: c.ProfilePath,
		Headless:    c.Headless,
		UserAgents:  c.UserAgents,
		RotateEvery: c.RotateEvery,
		StepTimeout: c.Timeout,
	}
}

// StorageConfig holds the directory for session and state files.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// DatabaseConfig selects the keyword and user store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = store.DriverSQLite
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(store.DriverSQLite, store.DriverPostgres)),
		validation.Field(&c.Path, validation.When(c.Driver == store.DriverSQLite, validation.Required)),
		validation.Field(&c.URL, validation.When(c.Driver == store.DriverPostgres, validation.Required)),
	)
}

// RedisConfig enables event fan-out to a Redis channel when URL is set.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// Enabled reports whether Redis publishing is configured.
func (c *RedisConfig) Enabled() bool {
	return c.URL != ""
}

// Validate validates the Redis configuration.
func (c *RedisConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Channel, validation.When(c.Enabled(), validation.Required)),
	)
}

// JobsConfig holds pacing for both jobs.
type JobsConfig struct {
	Reupload JobConfig `yaml:"reupload"`
	Autolift JobConfig `yaml:"autolift"`
}

// Validate validates both job sections.
func (c *JobsConfig) Validate() error {
	if err := c.Reupload.Validate(); err != nil {
		return fmt.Errorf("jobs.reupload: %w", err)
	}
	if err := c.Autolift.Validate(); err != nil {
		return fmt.Errorf("jobs.autolift: %w", err)
	}
	return nil
}

// Settings converts the section into control service settings.
func (c *JobsConfig) Settings() control.Settings {
	return control.Settings{
		Reupload: c.Reupload.Settings(),
		Autolift: c.Autolift.Settings(),
	}
}

// JobConfig tunes one job: how often it runs, which listings are fresh
// enough and how long it pauses between actions.
type JobConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Window           time.Duration `yaml:"window"`
	StartJitterMin   time.Duration `yaml:"start_jitter_min"`
	StartJitterMax   time.Duration `yaml:"start_jitter_max"`
	StepJitterMin    time.Duration `yaml:"step_jitter_min"`
	StepJitterMax    time.Duration `yaml:"step_jitter_max"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// Validate validates the job configuration.
func (c *JobConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.StartJitterMin, validation.Min(time.Duration(0))),
		validation.Field(&c.StepJitterMin, validation.Min(time.Duration(0))),
		validation.Field(&c.FailureThreshold, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.StartJitterMax < c.StartJitterMin {
		return fmt.Errorf("start_jitter_max %s is below start_jitter_min %s", c.StartJitterMax, c.StartJitterMin)
	}
	if c.StepJitterMax < c.StepJitterMin {
		return fmt.Errorf("step_jitter_max %s is below step_jitter_min %s", c.StepJitterMax, c.StepJitterMin)
	}
	return nil
}

// Settings converts the section into scheduler and worker settings.
func (c *JobConfig) Settings() control.JobSettings {
	return control.JobSettings{
		Interval: c.Interval,
		Options: worker.Options{
			Window:           c.Window,
			StartJitter:      worker.Jitter{Min: c.StartJitterMin, Max: c.StartJitterMax},
			StepJitter:       worker.Jitter{Min: c.StepJitterMin, Max: c.StepJitterMax},
			FailureThreshold: c.FailureThreshold,
		},
	}
}

func jobConfig(s control.JobSettings) JobConfig {
	return JobConfig{
		Interval:         s.Interval,
		Window:           s.Options.Window,
		StartJitterMin:   s.Options.StartJitter.Min,
		StartJitterMax:   s.Options.StartJitter.Max,
		StepJitterMin:    s.Options.StepJitter.Min,
		StepJitterMax:    s.Options.StepJitter.Max,
		FailureThreshold: s.Options.FailureThreshold,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	defaults := control.DefaultSettings()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Marketplace: MarketplaceConfig{
			Driver:            marketplace.DriverAPI,
			BaseURL:           "https://playerok.com",
			LoginPath:         "/login",
			Headless:          true,
			RotateEvery:       marketplace.DefaultRotateEvery,
			RequestsPerSecond: 1,
			Timeout:           30 * time.Second,
		},
		Storage: StorageConfig{
			Dir: "./data",
		},
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
			Path:   "./data/relister.db",
		},
		Redis: RedisConfig{
			Channel: events.DefaultChannel,
		},
		Jobs: JobsConfig{
			Reupload: jobConfig(defaults.Reupload),
			Autolift: jobConfig(defaults.Autolift),
		},
	}
}
