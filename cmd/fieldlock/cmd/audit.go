package cmd

import "github.com/spf13/cobra"

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Access log inspection tools",
	Long:  `Commands for verifying and inspecting exported access log chains.`,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
