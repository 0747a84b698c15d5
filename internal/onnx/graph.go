package onnx

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dominikbraun/graph"
)

// SortNodes returns the graph nodes in dependency order. Ties between ready
// nodes are broken by file order. Cycles and duplicate producers are errors.
func SortNodes(g *GraphProto) ([]NodeProto, error) {
	if g == nil {
		return nil, ErrNoGraph
	}

	deps := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	producer := make(map[string]string, len(g.Nodes))
	index := make(map[string]int, len(g.Nodes))

	for i := range g.Nodes {
		key := strconv.Itoa(i)
		index[key] = i
		if err := deps.AddVertex(key); err != nil {
			return nil, fmt.Errorf("failed to add node %d: %w", i, err)
		}
		for _, out := range g.Nodes[i].Outputs {
			if out == "" {
				continue
			}
			if prev, ok := producer[out]; ok {
				return nil, fmt.Errorf("%w: value %q produced by nodes %s and %d", ErrNotSequential, out, prev, i)
			}
			producer[out] = key
		}
	}

	for i := range g.Nodes {
		key := strconv.Itoa(i)
		for _, in := range g.Nodes[i].Inputs {
			src, ok := producer[in]
			if !ok {
				continue
			}
			err := deps.AddEdge(src, key)
			switch {
			case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, fmt.Errorf("%w: node %d (%s) depends on its own output", ErrCycle, i, g.Nodes[i].OpType)
			default:
				return nil, fmt.Errorf("failed to link node %s to %d: %w", src, i, err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(deps, func(a, b string) bool {
		return index[a] < index[b]
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCycle, err)
	}

	sorted := make([]NodeProto, 0, len(order))
	for _, key := range order {
		sorted = append(sorted, g.Nodes[index[key]])
	}
	return sorted, nil
}
