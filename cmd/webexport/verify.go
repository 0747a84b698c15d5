package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/webexport/internal/convert"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Check that a layers model directory loads",
	Long: `Load model.json and every weight shard of a layers model, checking byte
counts and dtypes. With --source, also compare every weight against the model
file it was exported from.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		arch, _ := cmd.Flags().GetString("arch")
		if !cmd.Flags().Changed("arch") {
			arch = cfg.Arch
		}
		rep, err := convert.Verify(cmd.Context(), args[0], convert.VerifyOptions{
			Source:  source,
			Arch:    arch,
			Workers: cfg.Workers,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s, %d layers, %d weights in %d shards (%s)\n",
			rep.Dir, rep.Name, rep.Layers, rep.Weights, rep.Shards, formatSize(rep.Bytes))
		if rep.Compared {
			fmt.Fprintf(out, "Weights match %s\n", source)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().String("source", "", "model file to compare the weights against")
	verifyCmd.Flags().String("arch", "", "architecture file for the source model")
	rootCmd.AddCommand(verifyCmd)
}
