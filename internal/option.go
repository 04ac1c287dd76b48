package internal

import (
	"github.com/starford/relister/internal/marketplace"
	"github.com/starford/relister/internal/notify"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	version  string
	client   marketplace.Client
	notifier notify.Notifier
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithClient replaces the configured marketplace driver.
func WithClient(c marketplace.Client) Option {
	return func(a *application) {
		a.client = c
	}
}

// WithNotifier replaces the Telegram notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(a *application) {
		a.notifier = n
	}
}
