package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultIMAPSPort is the standard port for IMAP over implicit TLS.
const DefaultIMAPSPort = 993

// Security selects how the connection to the IMAP server is protected.
type Security string

const (
	// SecurityTLS dials with implicit TLS (IMAPS).
	SecurityTLS Security = "tls"

	// SecurityStartTLS dials in plaintext and upgrades with STARTTLS.
	SecurityStartTLS Security = "starttls"

	// SecurityInsecure dials in plaintext. Intended for local test servers.
	SecurityInsecure Security = "insecure"
)

// Valid reports whether s is one of the known security modes.
func (s Security) Valid() bool {
	switch s {
	case SecurityTLS, SecurityStartTLS, SecurityInsecure:
		return true
	}
	return false
}

// ProviderConfig holds the options of the IMAP password provider.
type ProviderConfig struct {
	// Enabled turns the provider on. A disabled provider never matches.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// CreateUsers registers a host account on first successful login.
	CreateUsers bool `mapstructure:"create_users" yaml:"create_users"`

	// Server is the IMAP server hostname.
	Server string `mapstructure:"server" yaml:"server"`

	// Port is the IMAP server port.
	Port int `mapstructure:"port" yaml:"port"`

	// PlainUserID logs in with the bare local part instead of
	// localpart@domain.
	PlainUserID bool `mapstructure:"plain_userid" yaml:"plain_userid"`

	// AppendDomain overrides the domain guessed from the login address
	// when building the user id of a 3PID login.
	AppendDomain string `mapstructure:"append_domain" yaml:"append_domain"`

	// Security selects implicit TLS, STARTTLS or plaintext.
	Security Security `mapstructure:"security" yaml:"security"`
}

// Validate checks the provider options for consistency.
func (c ProviderConfig) Validate() error {
	if !c.Security.Valid() {
		return fmt.Errorf("imap_auth.security: unknown mode %q", c.Security)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("imap_auth.port: %d out of range", c.Port)
	}
	if c.Enabled && strings.TrimSpace(c.Server) == "" {
		return errors.New("imap_auth.server is required when the provider is enabled")
	}
	return nil
}

// HomeserverConfig describes the host identity system.
type HomeserverConfig struct {
	// ServerName is the domain part of user ids minted on registration.
	ServerName string `mapstructure:"server_name" yaml:"server_name"`
}

// DatabaseConfig points at the account directory database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Output is "stderr", "stdout" or "file".
	Output string `mapstructure:"output" yaml:"output"`

	// File is the log file path when Output is "file".
	File string `mapstructure:"file" yaml:"file"`

	// Level is "debug", "info", "warn" or "error".
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "console" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// KeyringConfig selects the token vault backend.
type KeyringConfig struct {
	// Backend is "auto" (system keyring with file fallback) or "file".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Dir holds the encrypted files of the file backend.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Provider   ProviderConfig   `mapstructure:"imap_auth" yaml:"imap_auth"`
	Homeserver HomeserverConfig `mapstructure:"homeserver" yaml:"homeserver"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Keyring    KeyringConfig    `mapstructure:"keyring" yaml:"keyring"`
}

// configDir returns ~/.config/imapauth, or the working directory if the
// home directory cannot be determined.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "imapauth")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/imapauth/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// setProviderDefaults registers the provider defaults under prefix.
func setProviderDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+"enabled", false)
	v.SetDefault(prefix+"create_users", true)
	v.SetDefault(prefix+"server", "")
	v.SetDefault(prefix+"port", DefaultIMAPSPort)
	v.SetDefault(prefix+"plain_userid", false)
	v.SetDefault(prefix+"append_domain", "")
	v.SetDefault(prefix+"security", string(SecurityTLS))
}

func setAppDefaults(v *viper.Viper) {
	setProviderDefaults(v, "imap_auth.")
	v.SetDefault("homeserver.server_name", "localhost")
	v.SetDefault("database.path", filepath.Join(configDir(), "accounts.db"))
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("keyring.backend", "auto")
	v.SetDefault("keyring.dir", filepath.Join(configDir(), "credentials"))
}

// ParseProviderConfig builds a ProviderConfig from a raw option map, as
// handed over by a host that embeds the provider. Missing keys take their
// defaults.
func ParseProviderConfig(raw map[string]any) (ProviderConfig, error) {
	v := viper.New()
	setProviderDefaults(v, "")
	if err := v.MergeConfigMap(raw); err != nil {
		return ProviderConfig{}, fmt.Errorf("merging provider options: %w", err)
	}

	var cfg ProviderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ProviderConfig{}, fmt.Errorf("parsing provider options: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ProviderConfig{}, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults. Any key can be overridden from the
// environment with the IMAPAUTH_ prefix, e.g. IMAPAUTH_IMAP_AUTH_SERVER.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("imapauth")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setAppDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Provider.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}
