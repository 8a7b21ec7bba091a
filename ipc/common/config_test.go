package common

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	want := DefaultConfig()
	if cfg.Command != want.Command {
		t.Errorf("Command = %q, want %q", cfg.Command, want.Command)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "engine" {
		t.Errorf("Args = %v, want [engine]", cfg.Args)
	}
	if cfg.MaxReconnectAttempts != want.MaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want %d", cfg.MaxReconnectAttempts, want.MaxReconnectAttempts)
	}
	if cfg.ReconnectBaseDelay != want.ReconnectBaseDelay {
		t.Errorf("ReconnectBaseDelay = %v, want %v", cfg.ReconnectBaseDelay, want.ReconnectBaseDelay)
	}
	if cfg.RequestTimeout != want.RequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, want.RequestTimeout)
	}
	if cfg.TruncateOversize || cfg.InheritStderr {
		t.Error("boolean options default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("KVPIPE_COMMAND", "/opt/cache/engined")
	t.Setenv("KVPIPE_ARGS", "serve --quiet")
	t.Setenv("KVPIPE_TRUNCATE_OVERSIZE", "true")
	t.Setenv("KVPIPE_MAX_RECONNECT_ATTEMPTS", "9")
	t.Setenv("KVPIPE_RECONNECT_BASE_DELAY", "1s")
	t.Setenv("KVPIPE_REQUEST_TIMEOUT", "2s")
	t.Setenv("KVPIPE_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Command != "/opt/cache/engined" {
		t.Errorf("Command = %q, want %q", cfg.Command, "/opt/cache/engined")
	}
	if len(cfg.Args) != 2 || cfg.Args[0] != "serve" || cfg.Args[1] != "--quiet" {
		t.Errorf("Args = %v, want [serve --quiet]", cfg.Args)
	}
	if !cfg.TruncateOversize {
		t.Error("TruncateOversize override not applied")
	}
	if cfg.MaxReconnectAttempts != 9 {
		t.Errorf("MaxReconnectAttempts = %d, want 9", cfg.MaxReconnectAttempts)
	}
	if cfg.ReconnectBaseDelay != time.Second {
		t.Errorf("ReconnectBaseDelay = %v, want 1s", cfg.ReconnectBaseDelay)
	}
	if cfg.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %v, want 2s", cfg.RequestTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty command", func(c *Config) { c.Command = "" }},
		{"negative attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }},
		{"negative delay", func(c *Config) { c.ReconnectBaseDelay = -time.Second }},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !HasCode(err, CodeInvalidArgument) {
				t.Errorf("Validate = %v, want invalid argument", err)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.String()

	for _, section := range []string{"ENGINE PROCESS", "RECONNECT", "TIMEOUTS", "LOGGING"} {
		if !strings.Contains(out, section) {
			t.Errorf("String() misses the %s section", section)
		}
	}
	if !strings.Contains(out, "kvpipe") {
		t.Error("String() does not show the engine command")
	}
}

func TestErrorCodes(t *testing.T) {
	err := NewError(CodeConnectionLost, "pipe broke")

	if !HasCode(err, CodeConnectionLost) {
		t.Error("HasCode misses the carried code")
	}
	if HasCode(err, CodeSpawnFailed) {
		t.Error("HasCode matches a different code")
	}
	if HasCode(nil, CodeConnectionLost) {
		t.Error("HasCode matches nil")
	}
	if HasCode(errors.New("plain"), CodeConnectionLost) {
		t.Error("HasCode matches an untyped error")
	}

	// Codes stay matchable through wrapping
	wrapped := fmt.Errorf("dispatch: %w", err)
	if !HasCode(wrapped, CodeConnectionLost) {
		t.Error("HasCode does not see through wrapping")
	}

	if got := err.Error(); !strings.Contains(got, "connection lost") || !strings.Contains(got, "pipe broke") {
		t.Errorf("Error() = %q, want code and message", got)
	}
}
