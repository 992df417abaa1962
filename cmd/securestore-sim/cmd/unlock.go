package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <pin>",
	Short: "Attempt to unlock the store with the given PIN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pin, err := parsePin(args[0])
		if err != nil {
			return err
		}
		outcome, err := store.Unlock(pin)
		if err != nil {
			return err
		}
		fmt.Println(outcome)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Discard the cached keys and re-lock the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		store.Lock()
		return nil
	},
}

var pinRemCmd = &cobra.Command{
	Use:   "pin-rem",
	Short: "Print the number of PIN attempts remaining",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(store.GetPinRemaining())
		return nil
	},
}

var changePinCmd = &cobra.Command{
	Use:   "change-pin <old> <new>",
	Short: "Change the PIN, re-verifying the old one first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldPin, err := parsePin(args[0])
		if err != nil {
			return err
		}
		newPin, err := parsePin(args[1])
		if err != nil {
			return err
		}
		outcome, err := store.ChangePin(oldPin, newPin)
		if err != nil {
			return err
		}
		fmt.Println(outcome)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd, lockCmd, pinRemCmd, changePinCmd)
}
