package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every environment override, e.g. FHIRCHAT_FHIR_BASE_URL.
	EnvPrefix = "FHIRCHAT"

	DefaultFHIRBaseURL = "http://10.131.58.59:481/baseR4"
	DefaultLogDir      = "logs"
	DefaultListenAddr  = ":8080"
)

// Config keys as they appear in the TOML file and, upper-cased, in the environment.
const (
	KeyFHIRBaseURL    = "fhir_base_url"
	KeyRequestTimeout = "request_timeout"
	KeyLogDir         = "log_dir"
	KeyDebug          = "debug"
	KeyTelemetry      = "telemetry"
	KeyTranscriptDB   = "transcript_db"
	KeyListenAddr     = "listen_addr"
)

// Config holds application configuration
type Config struct {
	FHIRBaseURL    string        `mapstructure:"fhir_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // 0 disables the timeout
	LogDir         string        `mapstructure:"log_dir"`
	Debug          bool          `mapstructure:"debug"`
	Telemetry      bool          `mapstructure:"telemetry"`     // Export traces and metrics to files under LogDir
	TranscriptDB   string        `mapstructure:"transcript_db"` // SQLite path; empty disables the archive
	ListenAddr     string        `mapstructure:"listen_addr"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyFHIRBaseURL, DefaultFHIRBaseURL)
	v.SetDefault(KeyRequestTimeout, time.Duration(0))
	v.SetDefault(KeyLogDir, DefaultLogDir)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyTelemetry, false)
	v.SetDefault(KeyTranscriptDB, "")
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
}

// Load resolves the configuration from defaults, the optional config file,
// and FHIRCHAT_* environment variables, in increasing priority. Flags bound
// to v with BindPFlag take precedence over all of them.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.FHIRBaseURL = strings.TrimRight(strings.TrimSpace(cfg.FHIRBaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.FHIRBaseURL == "" {
		return errors.New("config: fhir_base_url must not be empty")
	}
	u, err := url.Parse(c.FHIRBaseURL)
	if err != nil {
		return fmt.Errorf("config: invalid fhir_base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("config: fhir_base_url must be an absolute http(s) URL, got %q", c.FHIRBaseURL)
	}
	if c.RequestTimeout < 0 {
		return errors.New("config: request_timeout must not be negative")
	}
	return nil
}
