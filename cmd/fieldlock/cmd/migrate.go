package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldlock/fieldlock/codec"
	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/migrate"
	"github.com/fieldlock/fieldlock/record"
)

var (
	migrateCollections []string
	migratePageSize    int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Encrypt plaintext sensitive fields across collections",
	Long: `Walks the selected collections and encrypts every sensitive field still
in plaintext. Safe to re-run: already-encrypted fields are left untouched.`,
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

		schemas, err := schemasByName(migrateCollections)
		if err != nil {
			return err
		}

		stats := make(map[string]migrate.Stats, len(schemas))
		for _, schema := range schemas {
			s, err := engine.Run(ctx, schema, migratePageSize)
			stats[schema.Collection] = s
			if err != nil {
				printStats(stats)
				return err
			}
		}
		return printStats(stats)
	},
}

func printStats(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// schemasByName resolves collection or kind names; empty means all.
func schemasByName(names []string) ([]record.Schema, error) {
	if len(names) == 0 {
		return record.AllSchemas(), nil
	}
	out := make([]record.Schema, 0, len(names))
	for _, name := range names {
		found := false
		for _, schema := range record.AllSchemas() {
			if schema.Collection == name || string(schema.Kind) == name {
				out = append(out, schema)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown collection %q", name)
		}
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringSliceVar(&migrateCollections, "collections", nil, "Collections to migrate (default: all)")
	migrateCmd.Flags().IntVar(&migratePageSize, "page-size", migrate.DefaultPageSize, "Documents fetched per page")
	addStoreFlags(migrateCmd.Flags())
}
