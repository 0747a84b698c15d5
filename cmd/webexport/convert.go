package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/born-ml/webexport/internal/convert"
)

var convertCmd = &cobra.Command{
	Use:   "convert [input] [output]",
	Short: "Convert a model file to a TensorFlow.js layers model",
	Long: `Convert a .born, .safetensors, .onnx or Keras .h5 model into a layers model
directory.

The input defaults to autoencoder_model.born and the output to web_model.
The topology comes from --arch, the model's embedded "architecture" metadata,
the ONNX graph, the Keras model_config, or is inferred from Sequential tensor
names, in that order.

Examples:
  webexport convert
  webexport convert model.safetensors site/model --arch arch.yaml
  webexport convert model.onnx --quantize uint8 --verify
  webexport convert classifier.h5 site/model`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.String("arch", "", "architecture file (YAML or JSON) describing the layers")
	f.Int64("shard-size", 0, "maximum bytes per weight shard")
	f.String("quantize", "", "weight quantization: uint8, uint16 or float16")
	f.Bool("overwrite", false, "replace an existing non-empty output directory")
	f.Bool("verify", false, "read the artifact back and compare every weight")
	f.Bool("mmap", false, "memory-map .born input")
	f.Int("workers", 0, "concurrent tensor reads and shard writes (0 = GOMAXPROCS)")
	f.Bool("watch", false, "reconvert whenever the input file changes")
	f.String("validation", "", "header validation for .born input: strict, normal or none")
	f.StringToString("meta", nil, "user metadata stored in model.json (key=value)")
	rootCmd.AddCommand(convertCmd)
}

// convertOptions merges the resolved configuration with explicitly set flags.
//
//nolint:gocyclo,cyclop // One branch per flag
func convertOptions(cmd *cobra.Command, args []string) (convert.Options, error) {
	opts := convert.Options{
		Input:      cfg.Input,
		Output:     cfg.Output,
		Arch:       cfg.Arch,
		ShardSize:  cfg.ShardSize,
		Quantize:   cfg.Quantize,
		Overwrite:  cfg.Overwrite,
		Verify:     cfg.Verify,
		Mmap:       cfg.Mmap,
		Workers:    cfg.Workers,
		Validation: cfg.Validation,
		Metadata:   map[string]string{},
		Logger:     slog.Default(),
	}
	for k, v := range cfg.Metadata {
		opts.Metadata[k] = v
	}
	if len(args) > 0 {
		opts.Input = args[0]
	}
	if len(args) > 1 {
		opts.Output = args[1]
	}

	f := cmd.Flags()
	var err error
	if f.Changed("arch") {
		opts.Arch, err = f.GetString("arch")
	}
	if err == nil && f.Changed("shard-size") {
		opts.ShardSize, err = f.GetInt64("shard-size")
	}
	if err == nil && f.Changed("quantize") {
		opts.Quantize, err = f.GetString("quantize")
	}
	if err == nil && f.Changed("overwrite") {
		opts.Overwrite, err = f.GetBool("overwrite")
	}
	if err == nil && f.Changed("verify") {
		opts.Verify, err = f.GetBool("verify")
	}
	if err == nil && f.Changed("mmap") {
		opts.Mmap, err = f.GetBool("mmap")
	}
	if err == nil && f.Changed("workers") {
		opts.Workers, err = f.GetInt("workers")
	}
	if err == nil && f.Changed("validation") {
		opts.Validation, err = f.GetString("validation")
	}
	if err == nil && f.Changed("meta") {
		var meta map[string]string
		if meta, err = f.GetStringToString("meta"); err == nil {
			for k, v := range meta {
				opts.Metadata[k] = v
			}
		}
	}
	return opts, err
}

func runConvert(cmd *cobra.Command, args []string) error {
	opts, err := convertOptions(cmd, args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		res, err := convert.Convert(cmd.Context(), opts)
		if err != nil {
			return err
		}
		printResult(out, res)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", opts.Input)
	return convert.Watch(ctx, opts, func(res *convert.Result, err error) {
		if err != nil {
			slog.Error("conversion failed", "input", opts.Input, "error", err)
			return
		}
		printResult(out, res)
	})
}

func printResult(w io.Writer, res *convert.Result) {
	fmt.Fprintf(w, "Converted %s (%s, topology from %s)\n", res.Input, res.Format, res.TopologySource)
	fmt.Fprintf(w, "  layers:  %d\n", res.Layers)
	fmt.Fprintf(w, "  weights: %d (%d parameters)\n", res.Weights, res.Params)
	fmt.Fprintf(w, "  shards:  %d (%s)\n", len(res.Shards), formatSize(res.Bytes))
	if res.Verified {
		fmt.Fprintln(w, "  verified: yes")
	}
	fmt.Fprintf(w, "Saved to %s in %s\n", res.Output, res.Duration.Round(1e6))
}
