package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvpipe/kvpipe/cmd/engine"
	"github.com/kvpipe/kvpipe/cmd/kv"
	"github.com/kvpipe/kvpipe/cmd/util"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kvpipe",
		Short: "persistent key-value cache over a process pipe",
		Long: fmt.Sprintf(`kvpipe (v%s)

A persistent key-value cache that runs as a separate engine process,
driven over its stdin/stdout pipes with a fixed-size binary protocol.
The same binary provides the command line client and the engine.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvpipe",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvpipe v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(engine.EngineCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("Log level (debug, info, warning, error)"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
