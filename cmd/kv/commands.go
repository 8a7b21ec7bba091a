package kv

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value] [ttl]",
		Short: "Stores the value for a key, with an optional time to live in seconds",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			var ttl uint64
			if len(args) == 3 {
				var err error
				ttl, err = strconv.ParseUint(args[2], 10, 16)
				if err != nil {
					return fmt.Errorf("ttl must be a number of seconds below 65536: %w", err)
				}
			}

			if stored, err := cacheClient.Insert(key, []byte(value), uint16(ttl)); err != nil {
				return err
			} else if string(stored) != value {
				// only differs when oversize truncation is enabled
				fmt.Printf("set successfully (value truncated to %d bytes)\n", len(stored))
			} else {
				fmt.Println("set successfully")
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if value, found, err := cacheClient.Get(key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%v, value=%s\n", key, found, value)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := cacheClient.Remove(key); err != nil {
				return err
			} else {
				fmt.Println("delete successfully")
			}
			return nil
		},
	}
)
