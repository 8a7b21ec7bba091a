package engine

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/kvpipe/kvpipe/cmd/util"
	"github.com/kvpipe/kvpipe/lib/engine"
)

var (
	engineCmdConfig = &engine.Options{}
	EngineCmd       = &cobra.Command{
		Use:     "engine",
		Short:   "Run the cache engine on stdin/stdout",
		Long:    `Run the cache engine. The engine reads command frames from stdin and writes reply frames to stdout, so it is meant to be spawned by a client (or the kv subcommand), not used interactively. All diagnostics go to stderr. The configuration can be set via command line flags or environment variables. The format of the environment variables is KVPIPE_<flag> (e.g. KVPIPE_SWEEP_INTERVAL=10s)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "snapshot"
	EngineCmd.PersistentFlags().String(key, "kvpipe.snapshot", cmdUtil.WrapString("Path of the snapshot file. The store is written there on halt and loaded from there at startup. An empty path disables persistence"))

	key = "sweep-interval"
	EngineCmd.PersistentFlags().Duration(key, 30*time.Second, cmdUtil.WrapString("How often the background sweeper removes expired entries. Zero disables the sweeper, expired entries are then only dropped on access"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	engineCmdConfig.SnapshotPath = viper.GetString("snapshot")
	engineCmdConfig.SweepInterval = viper.GetDuration("sweep-interval")

	return nil
}

// run serves the engine until its stdin closes or a halt command arrives
func run(_ *cobra.Command, _ []string) error {
	return engine.New(*engineCmdConfig).Serve(os.Stdin, os.Stdout)
}

// initConfig reads in ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("kvpipe")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
