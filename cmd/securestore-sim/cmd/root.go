package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	securestore "github.com/coldvault/securestore"
	"github.com/coldvault/securestore/internal/norcow"
	"github.com/coldvault/securestore/log"
)

var (
	storePath   string
	auditLogPath string
	hwSaltHex   string

	store *securestore.Store
)

var rootCmd = &cobra.Command{
	Use:   "securestore-sim",
	Short: "Drive a securestore.Store from the command line for manual testing",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if auditLogPath != "" {
			log.SetFactory(newAuditFactory(auditLogPath))
		}

		n, err := norcow.OpenFile(storePath)
		if err != nil {
			return fmt.Errorf("open store file %q: %w", storePath, err)
		}

		store = securestore.New(securestore.WithNorcow(n))
		return store.Init([]byte(hwSaltHex))
	},
}

// Execute runs the root command. It is called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "securestore.img", "path to the file-backed store image")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "", "path to a rotated JSON-lines audit log (disabled if empty)")
	rootCmd.PersistentFlags().StringVar(&hwSaltHex, "hw-salt", "securestore-sim-dev-salt", "simulated hardware salt, hashed into the KEK derivation")
}
