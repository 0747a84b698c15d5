package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/webexport/internal/convert"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), convert.ConvertedBy)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
