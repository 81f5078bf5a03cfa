// Package config loads the demo CLI configuration from flags, environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the demo configuration.
// Priority: flags > environment variables > .env file > defaults.
type Config struct {
	SDKKey      string        // LaunchDarkly server-side SDK key
	Offline     bool          // Run the LaunchDarkly client without connecting
	InitTimeout time.Duration // Bound on provider initialization, zero waits forever
	LogLevel    string        // debug, info, warn or error
	LogFormat   string        // json or text
	MetricsAddr string        // Serve /metrics on this address when non-empty

	Flag        string // Flag key to evaluate
	FlagType    string // boolean, string, int, float or object
	Default     string // Default value, parsed according to FlagType
	ContextKey  string // Targeting key of the evaluation context
	ContextKind string // Context kind, empty for the backend default
}

// bindings pairs each configuration key with the flag that overrides it.
// Keys double as environment variable and .env names.
var bindings = []struct {
	key  string
	flag string
}{
	{"LAUNCHDARKLY_SDK_KEY", "sdk-key"},
	{"LAUNCHDARKLY_OFFLINE", "offline"},
	{"LAUNCHDARKLY_INIT_TIMEOUT", "init-timeout"},
	{"LOG_LEVEL", "log-level"},
	{"LOG_FORMAT", "log-format"},
	{"METRICS_ADDR", "metrics-addr"},
	{"FLAG_KEY", "flag"},
	{"FLAG_TYPE", "type"},
	{"FLAG_DEFAULT", "default"},
	{"CONTEXT_KEY", "context-key"},
	{"CONTEXT_KIND", "context-kind"},
}

var flagTypes = []string{"boolean", "string", "int", "float", "object"}

// RegisterFlags declares the demo flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("sdk-key", "", "LaunchDarkly server-side SDK key")
	fs.Bool("offline", false, "run the LaunchDarkly client in offline mode")
	fs.Duration("init-timeout", 0, "bound on provider initialization (0 waits forever)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: json or text")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.String("flag", "", "flag key to evaluate")
	fs.String("type", "boolean", "flag type: "+strings.Join(flagTypes, ", "))
	fs.String("default", "", "default value for the evaluation")
	fs.String("context-key", "", "targeting key of the evaluation context")
	fs.String("context-kind", "", "context kind")
}

// Load reads configuration from fs, environment variables and .env (if present).
// Flags only override when set on the command line.
// fs may be nil, in which case only the environment and defaults apply.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // optional
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	setDefaults(v)

	if fs != nil {
		for _, b := range bindings {
			f := fs.Lookup(b.flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(b.key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", b.flag, err)
			}
		}
	}

	return &Config{
		SDKKey:      v.GetString("LAUNCHDARKLY_SDK_KEY"),
		Offline:     v.GetBool("LAUNCHDARKLY_OFFLINE"),
		InitTimeout: v.GetDuration("LAUNCHDARKLY_INIT_TIMEOUT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogFormat:   v.GetString("LOG_FORMAT"),
		MetricsAddr: v.GetString("METRICS_ADDR"),
		Flag:        v.GetString("FLAG_KEY"),
		FlagType:    strings.ToLower(v.GetString("FLAG_TYPE")),
		Default:     v.GetString("FLAG_DEFAULT"),
		ContextKey:  v.GetString("CONTEXT_KEY"),
		ContextKind: v.GetString("CONTEXT_KIND"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LAUNCHDARKLY_OFFLINE", false)
	v.SetDefault("LAUNCHDARKLY_INIT_TIMEOUT", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("FLAG_TYPE", "boolean")
}

// ValidationError describes a configuration field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate checks that the configuration can drive an evaluation.
func (c *Config) Validate() error {
	if c.SDKKey == "" && !c.Offline {
		return ValidationError{Field: "LAUNCHDARKLY_SDK_KEY", Message: "an SDK key is required unless running offline"}
	}
	if c.Flag == "" {
		return ValidationError{Field: "FLAG_KEY", Message: "flag key cannot be empty"}
	}
	if !isFlagType(c.FlagType) {
		return ValidationError{
			Field:   "FLAG_TYPE",
			Message: fmt.Sprintf("must be one of %s, got '%s'", strings.Join(flagTypes, ", "), c.FlagType),
		}
	}
	if c.InitTimeout < 0 {
		return ValidationError{Field: "LAUNCHDARKLY_INIT_TIMEOUT", Message: "must not be negative"}
	}
	return nil
}

func isFlagType(s string) bool {
	for _, t := range flagTypes {
		if s == t {
			return true
		}
	}
	return false
}
