package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read an entry, printing its value as hex",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		dst := make([]byte, 4096)
		n, ok, err := store.Get(key, dst)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("<absent>")
			return nil
		}
		fmt.Println(hex.EncodeToString(dst[:n]))
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <hex-value>",
	Short: "Write an entry, value given as hex",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		value, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("invalid hex value: %w", err)
		}
		return store.Set(key, value)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		return store.Delete(key)
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Erase the store and re-bootstrap an empty-PIN image",
	RunE: func(cmd *cobra.Command, args []string) error {
		return store.Wipe()
	},
}

func init() {
	rootCmd.AddCommand(getCmd, setCmd, deleteCmd, wipeCmd)
}
