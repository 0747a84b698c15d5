package onnx

import "sort"

// ModelInfo summarises an ONNX model without importing it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	GraphName       string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
	OpTypes         map[string]int
	Metadata        map[string]string
}

// Info extracts summary information from a parsed model.
func Info(model *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       model.IRVersion,
		ProducerName:    model.ProducerName,
		ProducerVersion: model.ProducerVersion,
		OpTypes:         make(map[string]int),
		Metadata:        make(map[string]string, len(model.MetadataProps)),
	}

	for _, opset := range model.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			info.OpsetVersion = opset.Version
			break
		}
	}
	for _, p := range model.MetadataProps {
		info.Metadata[p.Key] = p.Value
	}

	g := model.Graph
	if g == nil {
		return info
	}
	info.GraphName = g.Name
	info.NodeCount = len(g.Nodes)

	consts := make(map[string]bool)
	for _, t := range Initializers(g) {
		consts[t.Name] = true
	}
	info.WeightCount = len(consts)

	for i := range g.Inputs {
		if !consts[g.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, g.Inputs[i].Name)
		}
	}
	for i := range g.Outputs {
		info.OutputNames = append(info.OutputNames, g.Outputs[i].Name)
	}
	for i := range g.Nodes {
		info.OpTypes[g.Nodes[i].OpType]++
	}
	return info
}

// SortedOpTypes returns the operator names in alphabetical order.
func (i *ModelInfo) SortedOpTypes() []string {
	ops := make([]string, 0, len(i.OpTypes))
	for op := range i.OpTypes {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
