package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "fieldlock",
	Short: "Fieldlock encrypts sensitive CRM fields and files",
	Long: `Field-level encryption for CRM records and files: selective field
encryption, 2FA-gated decryption, bulk migration and an auditable access log.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
