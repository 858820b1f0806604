package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldlock/fieldlock/crypto"
	"github.com/fieldlock/fieldlock/internal/util"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a fresh master key",
	Long: fmt.Sprintf(`Prints a new random 256-bit key as 64 hex characters, the format the
%s environment variable expects. Store it in a secret manager; losing
it makes every encrypted field and file unrecoverable.`, crypto.EnvKey),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := util.NewAESKey()
		if err != nil {
			return err
		}
		defer util.WipeBytes(key)
		fmt.Println(util.HexEncode(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
