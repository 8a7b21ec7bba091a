package kv

import (
	"github.com/spf13/cobra"

	"github.com/kvpipe/kvpipe/cmd/util"
	"github.com/kvpipe/kvpipe/ipc/client"
)

var (
	cacheClient *client.Client

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value cache operations",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add the engine connection flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupClient creates the cache client used by all kv subcommands
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	cacheClient, err = client.New(util.GetClientConfig())
	return err
}

// closeClient halts the engine after the subcommand ran, giving it the
// chance to persist its store
func closeClient(_ *cobra.Command, _ []string) error {
	if cacheClient == nil {
		return nil
	}
	return cacheClient.Close()
}
