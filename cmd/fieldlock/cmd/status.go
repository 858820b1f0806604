package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldlock/fieldlock/codec"
	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/migrate"
)

var statusCollections []string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report encryption coverage per collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docs, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		engine := migrate.NewEngine(docs,
			codec.NewFieldCodec(crypto.NewEngine(crypto.NewKeyProvider()), logger), logger)

		schemas, err := schemasByName(statusCollections)
		if err != nil {
			return err
		}

		report := make(map[string]migrate.Status, len(schemas))
		for _, schema := range schemas {
			status, err := engine.CheckStatus(ctx, schema)
			if err != nil {
				return err
			}
			report[schema.Collection] = status
		}
		return printStats(report)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringSliceVar(&statusCollections, "collections", nil, "Collections to check (default: all)")
	addStoreFlags(statusCmd.Flags())
}
