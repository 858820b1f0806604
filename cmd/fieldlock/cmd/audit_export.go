package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldlock/fieldlock/audit"
	"github.com/fieldlock/fieldlock/crypto"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the signed access log chain",
	Long: `Walks the full access log oldest-first and writes the signed export
JSON. Pass the file to "audit verify" to check chain integrity offline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docs, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		log := audit.NewLog(docs, crypto.NewKeyProvider())
		export, err := log.Export(ctx)
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(export); err != nil {
			return err
		}
		if exportOutput != "" {
			fmt.Fprintf(os.Stderr, "Exported %d entries to %s\n", len(export.Entries), exportOutput)
		}
		return nil
	},
}

func init() {
	auditCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write the export to a file instead of stdout")
	addStoreFlags(exportCmd.Flags())
}
