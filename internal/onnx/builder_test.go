package onnx

import (
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// msg builds protobuf messages field by field for test fixtures.
type msg []byte

func (m msg) str(num protowire.Number, s string) msg {
	b := protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func (m msg) raw(num protowire.Number, data []byte) msg {
	b := protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

func (m msg) sub(num protowire.Number, sub msg) msg {
	return m.raw(num, sub)
}

func (m msg) varint(num protowire.Number, v int64) msg {
	b := protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v)) //nolint:gosec // two's complement encoding
}

func (m msg) fixed32(num protowire.Number, v float32) msg {
	b := protowire.AppendTag(m, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func (m msg) packedVarints(num protowire.Number, vs ...int64) msg {
	var payload []byte
	for _, v := range vs {
		payload = protowire.AppendVarint(payload, uint64(v)) //nolint:gosec // two's complement encoding
	}
	return m.raw(num, payload)
}

func (m msg) packedFloats(num protowire.Number, vs ...float32) msg {
	var payload []byte
	for _, v := range vs {
		payload = protowire.AppendFixed32(payload, math.Float32bits(v))
	}
	return m.raw(num, payload)
}

func float32Bytes(vs ...float32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// rawTensor is a float32 initializer stored in raw_data.
func rawTensor(name string, dims []int64, values ...float32) msg {
	return msg(nil).
		packedVarints(1, dims...).
		varint(2, TensorProtoFloat).
		str(8, name).
		raw(9, float32Bytes(values...))
}

// zeros returns a float32 initializer filled with zeros.
func zeros(name string, dims ...int64) msg {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return rawTensor(name, dims, make([]float32, n)...)
}

func intAttr(name string, v int64) msg {
	return msg(nil).str(1, name).varint(3, v).varint(20, AttributeProtoInt)
}

func floatAttr(name string, v float32) msg {
	return msg(nil).str(1, name).fixed32(2, v).varint(20, AttributeProtoFloat)
}

func tensorAttr(name string, t msg) msg {
	return msg(nil).str(1, name).sub(5, t).varint(20, AttributeProtoTensor)
}

func node(op, name string, inputs, outputs []string, attrs ...msg) msg {
	m := msg(nil)
	for _, in := range inputs {
		m = m.str(1, in)
	}
	for _, out := range outputs {
		m = m.str(2, out)
	}
	m = m.str(3, name).str(4, op)
	for _, a := range attrs {
		m = m.sub(5, a)
	}
	return m
}

// valueInfo describes a float tensor; a zero dim is written as the symbolic "batch".
func valueInfo(name string, dims ...int64) msg {
	shape := msg(nil)
	for _, d := range dims {
		if d == 0 {
			shape = shape.sub(1, msg(nil).str(2, "batch"))
		} else {
			shape = shape.sub(1, msg(nil).varint(1, d))
		}
	}
	tensorType := msg(nil).varint(1, TensorProtoFloat).sub(2, shape)
	return msg(nil).str(1, name).sub(2, msg(nil).sub(1, tensorType))
}

type graphDef struct {
	name    string
	nodes   []msg
	inits   []msg
	inputs  []msg
	outputs []msg
}

func buildModel(g graphDef) []byte {
	gm := msg(nil)
	for _, n := range g.nodes {
		gm = gm.sub(1, n)
	}
	gm = gm.str(2, g.name)
	for _, t := range g.inits {
		gm = gm.sub(5, t)
	}
	for _, in := range g.inputs {
		gm = gm.sub(11, in)
	}
	for _, out := range g.outputs {
		gm = gm.sub(12, out)
	}

	return msg(nil).
		varint(1, 8).
		str(2, "pytorch").
		str(3, "2.1.0").
		sub(7, gm).
		sub(8, msg(nil).str(1, "").varint(2, 13)).
		sub(14, msg(nil).str(1, "author").str(2, "test"))
}

// autoencoderGraph is the graph torch.onnx.export produces for
// Sequential(Linear(8,4), ReLU, Linear(4,8), Sigmoid).
func autoencoderGraph() graphDef {
	return graphDef{
		name: "main_graph",
		nodes: []msg{
			node("Gemm", "/0/Gemm", []string{"input", "0.weight", "0.bias"}, []string{"/0/Gemm_output_0"},
				floatAttr("alpha", 1), floatAttr("beta", 1), intAttr("transB", 1)),
			node("Relu", "/1/Relu", []string{"/0/Gemm_output_0"}, []string{"/1/Relu_output_0"}),
			node("Gemm", "/2/Gemm", []string{"/1/Relu_output_0", "2.weight", "2.bias"}, []string{"/2/Gemm_output_0"},
				intAttr("transB", 1)),
			node("Sigmoid", "/3/Sigmoid", []string{"/2/Gemm_output_0"}, []string{"output"}),
		},
		inits: []msg{
			zeros("0.weight", 4, 8), zeros("0.bias", 4),
			zeros("2.weight", 8, 4), zeros("2.bias", 8),
		},
		inputs:  []msg{valueInfo("input", 0, 8)},
		outputs: []msg{valueInfo("output", 0, 8)},
	}
}
