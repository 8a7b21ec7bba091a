package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// Config holds all configuration parameters for the cache client.
// The zero value is not usable directly, use DefaultConfig or FromEnv.
type Config struct {
	// Engine process parameters
	Command       string   `env:"KVPIPE_COMMAND" envDefault:"kvpipe"`
	Args          []string `env:"KVPIPE_ARGS" envSeparator:" " envDefault:"engine"`
	InheritStderr bool     `env:"KVPIPE_INHERIT_STDERR" envDefault:"false"`

	// Payload size policy. When true, oversized keys and values are cut
	// down to the frame field size instead of being rejected.
	TruncateOversize bool `env:"KVPIPE_TRUNCATE_OVERSIZE" envDefault:"false"`

	// Reconnect parameters. The delay before attempt n is
	// ReconnectBaseDelay * n (linear backoff).
	MaxReconnectAttempts int           `env:"KVPIPE_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectBaseDelay   time.Duration `env:"KVPIPE_RECONNECT_BASE_DELAY" envDefault:"250ms"`

	// Timeouts
	RequestTimeout time.Duration `env:"KVPIPE_REQUEST_TIMEOUT" envDefault:"10s"`
	ReadyTimeout   time.Duration `env:"KVPIPE_READY_TIMEOUT" envDefault:"5s"`
	HaltTimeout    time.Duration `env:"KVPIPE_HALT_TIMEOUT" envDefault:"500ms"`

	// Logging configuration
	LogLevel string `env:"KVPIPE_LOG_LEVEL" envDefault:"info"`
}

// DefaultConfig returns the default client configuration. The engine
// command defaults to this binary's own engine subcommand.
func DefaultConfig() Config {
	return Config{
		Command:              "kvpipe",
		Args:                 []string{"engine"},
		InheritStderr:        false,
		TruncateOversize:     false,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   250 * time.Millisecond,
		RequestTimeout:       10 * time.Second,
		ReadyTimeout:         5 * time.Second,
		HaltTimeout:          500 * time.Millisecond,
		LogLevel:             "info",
	}
}

// FromEnv loads the configuration from KVPIPE_* environment variables.
// A .env or .env.local file is loaded first if present.
func FromEnv() (Config, error) {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %v", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the client cannot work with.
func (c *Config) Validate() error {
	if c.Command == "" {
		return NewError(CodeInvalidArgument, "engine command must not be empty")
	}
	if c.MaxReconnectAttempts < 0 {
		return NewError(CodeInvalidArgument, "max reconnect attempts must not be negative")
	}
	if c.ReconnectBaseDelay < 0 || c.RequestTimeout < 0 || c.ReadyTimeout < 0 || c.HaltTimeout < 0 {
		return NewError(CodeInvalidArgument, "timeouts must not be negative")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Engine process
	addSection("Engine Process")
	addField("Command", c.Command)
	addField("Args", strings.Join(c.Args, " "))
	addField("Inherit Stderr", strconv.FormatBool(c.InheritStderr))

	// Payload policy
	addSection("Payload Policy")
	addField("Truncate Oversize", strconv.FormatBool(c.TruncateOversize))

	// Reconnect
	addSection("Reconnect")
	addField("Max Attempts", strconv.Itoa(c.MaxReconnectAttempts))
	addField("Base Delay", c.ReconnectBaseDelay.String())

	// Timeouts
	addSection("Timeouts")
	addField("Request Timeout", c.RequestTimeout.String())
	addField("Ready Timeout", c.ReadyTimeout.String())
	addField("Halt Timeout", c.HaltTimeout.String())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
