package internal

import (
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/index"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Vault VaultConfig       `yaml:"vault"`
	Index IndexConfig       `yaml:"index"`
	Auth  AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Index.Validate(); err != nil {
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

// VaultConfig holds the Markdown vault location and note handling policy.
type VaultConfig struct {
	Path        string `yaml:"path"`
	TitlePolicy string `yaml:"title_policy"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	// Normalise empty policy to the default.
	if c.TitlePolicy == "" {
		c.TitlePolicy = index.TitlePolicyDerive
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.TitlePolicy, validation.In(index.TitlePolicyDerive, index.TitlePolicyPreserve)),
	)
}

// IndexConfig holds index tuning configuration. DirName is the hidden
// directory under the vault root that keeps the SQLite file.
type IndexConfig struct {
	DirName   string `yaml:"dir_name"`
	BatchSize int    `yaml:"batch_size"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	if c.DirName == "" {
		c.DirName = index.DefaultIndexDirName
	}
	if c.BatchSize == 0 {
		c.BatchSize = index.DefaultBatchSize
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.DirName, validation.Required, validation.NewStringRule(func(s string) bool {
			return strings.HasPrefix(s, ".") && !strings.ContainsAny(s, `/\`)
		}, "must be a dot-prefixed directory name so the scanner skips it")),
		validation.Field(&c.BatchSize, validation.Min(1), validation.Max(1000)),
	)
}

// AuthConfig holds authentication configuration.
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
	// Normalise empty mode to "disabled" for backward compatibility.
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
		Vault: VaultConfig{
			Path:        "./vault",
			TitlePolicy: index.TitlePolicyDerive,
		},
		Index: IndexConfig{
			DirName:   index.DefaultIndexDirName,
			BatchSize: index.DefaultBatchSize,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
