package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/clipshelf/internal/capture"
	"github.com/starford/clipshelf/internal/store"
	"github.com/starford/clipshelf/internal/thumbnail"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Archive ArchiveConfig     `yaml:"archive"`
	Capture CaptureConfig     `yaml:"capture"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Archive.Validate(); err != nil {
		return err
	}
	if err := c.Capture.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
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

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ArchiveConfig controls where payloads live and how clips are processed.
type ArchiveConfig struct {
	// PayloadDir holds clip payloads, one file per clip.
	PayloadDir string `yaml:"payload_dir"`
	// ThumbnailSize is the longest side of generated previews, in pixels.
	ThumbnailSize int `yaml:"thumbnail_size"`
	// DefaultThreshold is the Hamming distance used when a search omits one.
	DefaultThreshold int `yaml:"default_threshold"`
	// CreateMissingTags makes ingest add unknown tag names to the directory.
	// When false, unknown names are ignored.
	CreateMissingTags bool `yaml:"create_missing_tags"`
	// MaxPayloadBytes caps a single HTTP upload.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`
	// QueryCacheSize is the number of query image hashes kept in memory.
	QueryCacheSize int `yaml:"query_cache_size"`
}

// Validate validates the archive configuration.
func (c *ArchiveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PayloadDir, validation.Required),
		validation.Field(&c.ThumbnailSize, validation.Required, validation.Min(16), validation.Max(4096)),
		validation.Field(&c.DefaultThreshold, validation.Min(0), validation.Max(64)),
		validation.Field(&c.MaxPayloadBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.QueryCacheSize, validation.Min(0)),
	)
}

// CaptureConfig configures the watched inbox. An empty Inbox disables it.
type CaptureConfig struct {
	Inbox             string        `yaml:"inbox"`
	Tags              []string      `yaml:"tags"`
	Description       string        `yaml:"description"`
	RemoveAfterIngest bool          `yaml:"remove_after_ingest"`
	Settle            time.Duration `yaml:"settle"`
}

// Enabled reports whether an inbox should be watched.
func (c *CaptureConfig) Enabled() bool {
	return c.Inbox != ""
}

// Validate validates the capture configuration.
func (c *CaptureConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Settle, validation.Min(time.Duration(0))),
		validation.Field(&c.Tags, validation.Each(validation.Required, validation.Length(1, 128))),
	)
}

// AuthConfig holds authentication configuration.
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
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./clipshelf.db",
		},
		Archive: ArchiveConfig{
			PayloadDir:        "./payloads",
			ThumbnailSize:     thumbnail.DefaultMaxSide,
			DefaultThreshold:  store.DefaultDistanceThreshold,
			CreateMissingTags: true,
			MaxPayloadBytes:   50 << 20,
			QueryCacheSize:    128,
		},
		Capture: CaptureConfig{
			Settle: capture.DefaultSettle,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
