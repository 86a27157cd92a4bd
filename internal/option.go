package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	version   string
	fullSync  bool
	reload    func() (*Config, error)
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput replaces stdout as the log destination. The MCP server needs
// this because stdout carries its protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithFullSync clears the persisted cursor before a one-shot sync so every
// note is fetched and rewritten again.
func WithFullSync(full bool) Option {
	return func(a *application) {
		a.fullSync = full
	}
}

// WithReload sets how serve mode re-reads the configuration on SIGHUP.
func WithReload(load func() (*Config, error)) Option {
	return func(a *application) {
		a.reload = load
	}
}
