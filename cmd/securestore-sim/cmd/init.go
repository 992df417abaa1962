package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Open (creating if absent) the store image and report its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		// PersistentPreRunE already opened and Init'd the store; by the
		// time RunE runs here, bootstrap or upgrade has already happened.
		fmt.Printf("store %q ready, has-pin=%v\n", storePath, store.HasPin())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
