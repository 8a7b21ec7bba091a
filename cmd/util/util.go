package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvpipe/kvpipe/ipc/common"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the engine connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "engine-command"
	cmd.PersistentFlags().String(key, common.DefaultConfig().Command, WrapString("The binary to launch as the cache engine. By default the kvpipe binary launches itself with the engine subcommand"))

	key = "engine-args"
	cmd.PersistentFlags().String(key, strings.Join(common.DefaultConfig().Args, " "), WrapString("Space-separated arguments for the engine command"))

	key = "engine-stderr"
	cmd.PersistentFlags().Bool(key, false, WrapString("Pass the engine's stderr through to the terminal"))

	key = "truncate-oversize"
	cmd.PersistentFlags().Bool(key, false, WrapString("Cut oversized keys and values down to the wire format's field sizes instead of rejecting them"))

	key = "reconnect-attempts"
	cmd.PersistentFlags().Int(key, common.DefaultConfig().MaxReconnectAttempts, WrapString("How often to relaunch a crashed engine before giving up"))

	key = "reconnect-base-delay"
	cmd.PersistentFlags().Duration(key, common.DefaultConfig().ReconnectBaseDelay, WrapString("Base delay between relaunch attempts, attempt n waits n times this long"))

	key = "request-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultConfig().RequestTimeout, WrapString("How long to wait for the reply to a single command"))

	key = "ready-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultConfig().ReadyTimeout, WrapString("How long to wait for a freshly launched engine to answer the readiness probe"))

	key = "halt-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultConfig().HaltTimeout, WrapString("Grace period for the engine to persist its state on shutdown before it is killed"))
}

// InitClientConfig initializes configuration from environment variables
// and sets up the loggers. Registered with cobra.OnInitialize, so it runs
// after flag parsing for every command.
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("kvpipe")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	level := viper.GetString("log-level")
	if level == "" {
		level = "info"
	}
	if err := common.InitLoggers(level); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q, falling back to info\n", level)
		_ = common.InitLoggers("info")
	}
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.Config {
	cfg := common.DefaultConfig()

	if v := viper.GetString("engine-command"); v != "" {
		cfg.Command = v
	}
	if v := viper.GetString("engine-args"); v != "" {
		cfg.Args = strings.Fields(v)
	} else {
		cfg.Args = nil
	}
	cfg.InheritStderr = viper.GetBool("engine-stderr")
	cfg.TruncateOversize = viper.GetBool("truncate-oversize")
	cfg.MaxReconnectAttempts = viper.GetInt("reconnect-attempts")
	cfg.ReconnectBaseDelay = viper.GetDuration("reconnect-base-delay")
	cfg.RequestTimeout = viper.GetDuration("request-timeout")
	cfg.ReadyTimeout = viper.GetDuration("ready-timeout")
	cfg.HaltTimeout = viper.GetDuration("halt-timeout")
	cfg.LogLevel = viper.GetString("log-level")

	return cfg
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
