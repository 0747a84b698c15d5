package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/born-ml/webexport/internal/convert"
	"github.com/born-ml/webexport/internal/loader"
	"github.com/born-ml/webexport/internal/topology"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the tensors and resolved topology of a model file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arch, _ := cmd.Flags().GetString("arch")
		if !cmd.Flags().Changed("arch") {
			arch = cfg.Arch
		}
		s, err := convert.Inspect(args[0], arch)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), s)
		return nil
	},
}

func init() {
	inspectCmd.Flags().String("arch", "", "architecture file used to resolve the topology")
	rootCmd.AddCommand(inspectCmd)
}

func printSummary(w io.Writer, s *convert.Summary) {
	fmt.Fprintf(w, "File:   %s\n", s.Path)
	fmt.Fprintf(w, "Format: %s\n", s.Format)

	if s.ONNX != nil {
		fmt.Fprintf(w, "ONNX:   ir=%d opset=%d producer=%s %s graph=%q nodes=%d\n",
			s.ONNX.IRVersion, s.ONNX.OpsetVersion, s.ONNX.ProducerName, s.ONNX.ProducerVersion,
			s.ONNX.GraphName, s.ONNX.NodeCount)
	}

	if len(s.Metadata) > 0 {
		fmt.Fprintln(w, "\nMetadata:")
		keys := make([]string, 0, len(s.Metadata))
		for k := range s.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := s.Metadata[k]
			if k == topology.MetaArchitecture {
				v = fmt.Sprintf("<%d bytes>", len(v))
			}
			fmt.Fprintf(w, "  %s: %s\n", k, v)
		}
	}

	fmt.Fprintf(w, "\nTensors (%d):\n", len(s.Tensors))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, t := range s.Tensors {
		fmt.Fprintf(tw, "  %s\t%s\t%v\t%s\n", t.Name, t.DType, t.Shape, storedNote(t))
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	if s.TopologyErr != nil {
		fmt.Fprintf(w, "Topology (%s): %v\n", s.TopologySource, s.TopologyErr)
		return
	}
	fmt.Fprintf(w, "Topology (%s): %s, input %v, %d parameters\n",
		s.TopologySource, s.Model.Name, s.Model.InputShape, s.Params)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i := range s.Model.Layers {
		fmt.Fprintf(tw, "  %d\t%s\n", i, describeLayer(&s.Model.Layers[i]))
	}
	_ = tw.Flush()
}

func storedNote(t loader.TensorInfo) string {
	if t.StoredDType != "" && !strings.EqualFold(t.StoredDType, t.DType.String()) {
		return "stored as " + t.StoredDType
	}
	return ""
}

func describeLayer(l *topology.Layer) string {
	switch l.Kind {
	case topology.KindDense:
		return fmt.Sprintf("dense\tunits=%d activation=%s", l.Units, l.Activation)
	case topology.KindActivation:
		return "activation\t" + l.Activation
	case topology.KindLeakyReLU:
		return fmt.Sprintf("leaky_relu\talpha=%g", l.LeakyAlpha())
	case topology.KindDropout:
		return fmt.Sprintf("dropout\trate=%g", l.Rate)
	case topology.KindLayerNormalize:
		return fmt.Sprintf("layer_normalization\tepsilon=%g", l.Epsilon)
	default:
		return string(l.Kind) + "\t"
	}
}
