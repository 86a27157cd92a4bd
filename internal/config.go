package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/double-tu/blinko-to-obsidian/internal/apperr"
	"github.com/double-tu/blinko-to-obsidian/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Blinko  BlinkoConfig      `yaml:"blinko"`
	Vault   VaultConfig       `yaml:"vault"`
	Sync    SyncConfig        `yaml:"sync"`
	Titles  TitlesConfig      `yaml:"titles"`
	Journal JournalConfig     `yaml:"journal"`
	State   StateConfig       `yaml:"state"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Blinko.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Titles.Validate(); err != nil {
		return err
	}
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	if err := c.State.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, when set, receives a rotated copy of the log stream.
	LogFile      string        `yaml:"log_file"`
	HTTP         HTTPConfig    `yaml:"http"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.SyncInterval, validation.Min(time.Second)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// BlinkoConfig locates the remote Blinko instance.
type BlinkoConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate reports a missing base URL or token as a ConfigurationError.
func (c *BlinkoConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.By(absoluteURL)),
		validation.Field(&c.Token, validation.Required),
	)
	return asConfigurationError("blinko", err)
}

func absoluteURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

// blinkoFields maps struct field names to their YAML keys.
var blinkoFields = []struct{ field, key string }{
	{"BaseURL", "base_url"},
	{"Token", "token"},
}

// asConfigurationError converts the first ozzo field error into an
// apperr.ConfigurationError named section.key.
func asConfigurationError(section string, err error) error {
	var fields validation.Errors
	if !errors.As(err, &fields) {
		return err
	}
	for _, f := range blinkoFields {
		if ferr, ok := fields[f.field]; ok {
			return &apperr.ConfigurationError{Field: section + "." + f.key, Reason: ferr.Error()}
		}
	}
	return err
}

// VaultConfig describes where notes are materialized.
type VaultConfig struct {
	Path             string            `yaml:"path"`
	NoteFolder       string            `yaml:"note_folder"`
	AttachmentFolder string            `yaml:"attachment_folder"`
	PathTemplate     string            `yaml:"path_template"`
	TypeFolders      TypeFoldersConfig `yaml:"type_folders"`
	// Timezone is an IANA name; "Local" or empty means the host zone.
	Timezone string `yaml:"timezone"`
}

// TypeFoldersConfig names the per-type subfolders.
type TypeFoldersConfig struct {
	Flash string `yaml:"flash"`
	Note  string `yaml:"note"`
	Todo  string `yaml:"todo"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.NoteFolder, validation.Required),
		validation.Field(&c.AttachmentFolder, validation.Required),
		validation.Field(&c.Timezone, validation.By(func(interface{}) error {
			_, err := c.location()
			return err
		})),
	)
}

func (c *VaultConfig) location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Layout converts the vault section into the engines' layout value.
func (c *VaultConfig) Layout() (models.Layout, error) {
	loc, err := c.location()
	if err != nil {
		return models.Layout{}, &apperr.ConfigurationError{Field: "vault.timezone", Reason: err.Error()}
	}
	return models.Layout{
		NoteFolder:       c.NoteFolder,
		AttachmentFolder: c.AttachmentFolder,
		PathTemplate:     c.PathTemplate,
		TypeFolders: map[models.NoteType]string{
			models.TypeFlash: c.TypeFolders.Flash,
			models.TypeNote:  c.TypeFolders.Note,
			models.TypeTodo:  c.TypeFolders.Todo,
		},
		Location: loc,
	}, nil
}

// SyncConfig holds pass behaviour switches.
type SyncConfig struct {
	// DeleteRecycled also prunes notes moved to the remote recycle bin.
	DeleteRecycled bool `yaml:"delete_recycled"`
	// ReconcileAfterSync runs a reconciliation pass after each periodic sync.
	ReconcileAfterSync bool `yaml:"reconcile_after_sync"`
}

// TitlesConfig configures the optional title resolver.
type TitlesConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Concurrency int    `yaml:"concurrency"`
}

// Validate validates the titles configuration.
func (c *TitlesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.When(c.Enabled, validation.Required, validation.By(absoluteURL))),
		validation.Field(&c.Concurrency, validation.When(c.Enabled, validation.Required, validation.Min(1))),
	)
}

// JournalConfig configures the daily-note journal.
type JournalConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Folder     string `yaml:"folder"`
	DateFormat string `yaml:"date_format"`
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Folder, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.DateFormat, validation.When(c.Enabled, validation.Required)),
	)
}

// StateConfig holds the SQLite file with the cursor and manifests.
type StateConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the state configuration.
func (c *StateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds control API authentication.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
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

// NewDefaultConfig returns a new Config with sensible default values.
// Blinko credentials have no default.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			SyncInterval: 15 * time.Minute,
		},
		Blinko: BlinkoConfig{
			Timeout: 30 * time.Second,
		},
		Vault: VaultConfig{
			Path:             "./vault",
			NoteFolder:       "Blinko",
			AttachmentFolder: "Blinko/attachments",
			TypeFolders: TypeFoldersConfig{
				Flash: "Flash",
				Note:  "Notes",
				Todo:  "Todo",
			},
			Timezone: "Local",
		},
		Titles: TitlesConfig{
			Concurrency: 2,
		},
		Journal: JournalConfig{
			Folder:     "Journal",
			DateFormat: "YYYY-MM-DD",
		},
		State: StateConfig{
			Path: "./blinko-sync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
