package onnx

import (
	"fmt"

	"github.com/born-ml/webexport/internal/topology"
)

// activationOps maps element-wise ONNX activations to Keras activation names.
var activationOps = map[string]string{
	"Relu":        "relu",
	"Sigmoid":     "sigmoid",
	"HardSigmoid": "hard_sigmoid",
	"Tanh":        "tanh",
	"Softmax":     "softmax",
	"Elu":         "elu",
	"Selu":        "selu",
	"Softplus":    "softplus",
	"Softsign":    "softsign",
	"Gelu":        "gelu",
}

// layerOps are the structural operators Import understands.
var layerOps = map[string]bool{
	"Gemm":               true,
	"MatMul":             true,
	"Add":                true,
	"LeakyRelu":          true,
	"Flatten":            true,
	"LayerNormalization": true,
	"Dropout":            true,
	"Identity":           true,
}

// Initializers returns every constant tensor of the graph: the declared
// initializers followed by the values of Constant nodes, named after the
// node output.
func Initializers(g *GraphProto) []TensorProto {
	out := make([]TensorProto, 0, len(g.Initializers))
	out = append(out, g.Initializers...)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.OpType != "Constant" || len(n.Outputs) == 0 {
			continue
		}
		if a, ok := n.Attribute("value"); ok && a.T != nil {
			t := *a.T
			t.Name = n.Outputs[0]
			out = append(out, t)
		}
	}
	return out
}

// Import translates a feed-forward ONNX graph into a Sequential model.
// The graph must be a single chain from one input to one output; weights are
// bound by initializer name.
func Import(model *ModelProto) (*topology.Model, error) {
	if model == nil || model.Graph == nil {
		return nil, ErrNoGraph
	}
	g := model.Graph

	nodes, err := SortNodes(g)
	if err != nil {
		return nil, err
	}

	im := &importer{
		consts: make(map[string]bool),
		model:  &topology.Model{Name: g.Name},
	}
	for _, t := range Initializers(g) {
		im.consts[t.Name] = true
	}

	input, err := im.graphInput(g)
	if err != nil {
		return nil, err
	}
	im.current = input.Name
	im.model.InputShape = staticShape(input)

	for i := range nodes {
		if err := im.node(&nodes[i]); err != nil {
			return nil, err
		}
	}
	if len(im.model.Layers) == 0 {
		return nil, topology.ErrNoLayers
	}
	return im.model, nil
}

type importer struct {
	consts  map[string]bool
	current string // name of the activation flowing through the chain
	model   *topology.Model
	// matmulOut is the output of the MatMul that produced the current
	// activation, empty once any other node has run.
	matmulOut string
}

func (im *importer) graphInput(g *GraphProto) (*ValueInfoProto, error) {
	var found *ValueInfoProto
	for i := range g.Inputs {
		if im.consts[g.Inputs[i].Name] {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: multiple graph inputs (%s, %s)", ErrNotSequential, found.Name, g.Inputs[i].Name)
		}
		found = &g.Inputs[i]
	}
	if found == nil {
		return nil, fmt.Errorf("%w: graph has no input", ErrNotSequential)
	}
	return found, nil
}

// staticShape returns the per-sample input shape when every non-batch
// dimension is fixed, nil otherwise.
func staticShape(vi *ValueInfoProto) []int {
	if !vi.HasShape || len(vi.Shape) < 2 {
		return nil
	}
	shape := make([]int, 0, len(vi.Shape)-1)
	for _, d := range vi.Shape[1:] {
		if d.DimValue <= 0 {
			return nil
		}
		shape = append(shape, int(d.DimValue))
	}
	return shape
}

// advance checks that n consumes the current activation through its first
// input and moves the chain to n's first output.
func (im *importer) advance(n *NodeProto) error {
	if len(n.Inputs) == 0 || n.Inputs[0] != im.current {
		return fmt.Errorf("%w: node %q (%s) does not consume %q", ErrNotSequential, n.Name, n.OpType, im.current)
	}
	for _, in := range n.Inputs[1:] {
		if in != "" && !im.consts[in] {
			return fmt.Errorf("%w: node %q (%s) has non-constant input %q", ErrNotSequential, n.Name, n.OpType, in)
		}
	}
	if len(n.Outputs) == 0 {
		return fmt.Errorf("%w: node %q (%s) has no output", ErrNotSequential, n.Name, n.OpType)
	}
	im.current = n.Outputs[0]
	return nil
}

func (im *importer) unsupported(n *NodeProto, reason string) error {
	return &UnsupportedOpError{OpType: n.OpType, Node: n.Name, Reason: reason}
}

// input returns the i-th input name or "" when absent.
func input(n *NodeProto, i int) string {
	if i < len(n.Inputs) {
		return n.Inputs[i]
	}
	return ""
}

//nolint:gocognit,gocyclo,cyclop,funlen // One case per supported operator
func (im *importer) node(n *NodeProto) error {
	if n.Domain != "" && n.Domain != "ai.onnx" {
		return im.unsupported(n, "custom domain "+n.Domain)
	}
	if n.OpType == "Constant" {
		return nil
	}
	if _, ok := activationOps[n.OpType]; !ok && !layerOps[n.OpType] {
		return im.unsupported(n, "")
	}
	if n.OpType == "Add" && input(n, 1) == im.current {
		swapped := *n
		swapped.Inputs = []string{n.Inputs[1], n.Inputs[0]}
		n = &swapped
	}
	in := im.current
	if err := im.advance(n); err != nil {
		return err
	}
	matmulOut := im.matmulOut
	im.matmulOut = ""

	if act, ok := activationOps[n.OpType]; ok {
		if n.OpType == "Elu" && n.FloatAttr("alpha", 1) != 1 {
			return im.unsupported(n, "alpha other than 1")
		}
		if n.OpType == "HardSigmoid" && (n.FloatAttr("alpha", 0.2) != 0.2 || n.FloatAttr("beta", 0.5) != 0.5) {
			return im.unsupported(n, "non-default alpha or beta")
		}
		if n.OpType == "Gelu" {
			if a, ok := n.Attribute("approximate"); ok && string(a.S) != "none" {
				return im.unsupported(n, "tanh approximation")
			}
		}
		im.model.AppendActivation(act)
		return nil
	}

	switch n.OpType {
	case "Gemm":
		if n.IntAttr("transA", 0) != 0 {
			return im.unsupported(n, "transA=1")
		}
		if n.FloatAttr("alpha", 1) != 1 || n.FloatAttr("beta", 1) != 1 {
			return im.unsupported(n, "alpha or beta other than 1")
		}
		layout := topology.LayoutInOut
		if n.IntAttr("transB", 0) != 0 {
			layout = topology.LayoutOutIn
		}
		im.model.Layers = append(im.model.Layers, topology.Layer{
			Kind:         topology.KindDense,
			Kernel:       input(n, 1),
			KernelLayout: layout,
			Bias:         input(n, 2),
		})

	case "MatMul":
		if input(n, 1) == "" {
			return im.unsupported(n, "missing weight input")
		}
		im.model.Layers = append(im.model.Layers, topology.Layer{
			Kind:         topology.KindDense,
			Kernel:       input(n, 1),
			KernelLayout: topology.LayoutInOut,
		})
		im.matmulOut = im.current

	case "Add":
		last := im.lastLayer()
		if matmulOut == "" || in != matmulOut || last == nil || last.Kind != topology.KindDense ||
			last.Bias != "" || input(n, 1) == "" {
			return im.unsupported(n, "Add is only supported as the bias of the MatMul before it")
		}
		last.Bias = input(n, 1)

	case "LeakyRelu":
		alpha := float64(n.FloatAttr("alpha", topology.DefaultLeakyAlpha))
		im.model.Layers = append(im.model.Layers, topology.Layer{
			Kind:  topology.KindLeakyReLU,
			Alpha: &alpha,
		})

	case "Flatten":
		if n.IntAttr("axis", 1) != 1 {
			return im.unsupported(n, "axis other than 1")
		}
		im.model.Layers = append(im.model.Layers, topology.Layer{Kind: topology.KindFlatten})

	case "LayerNormalization":
		if n.IntAttr("axis", -1) != -1 {
			return im.unsupported(n, "axis other than -1")
		}
		im.model.Layers = append(im.model.Layers, topology.Layer{
			Kind:    topology.KindLayerNormalize,
			Gamma:   input(n, 1),
			Beta:    input(n, 2),
			Epsilon: float64(n.FloatAttr("epsilon", topology.DefaultEpsilon)),
		})

	case "Dropout", "Identity":
		// Inference graphs carry these as no-ops.

	default:
		return im.unsupported(n, "")
	}
	return nil
}

func (im *importer) lastLayer() *topology.Layer {
	if len(im.model.Layers) == 0 {
		return nil
	}
	return &im.model.Layers[len(im.model.Layers)-1]
}
