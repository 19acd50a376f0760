package topoengine

import (
	"sort"
)

// Alignment controls how the shorter columns sit against the tallest one.
type Alignment string

const (
	AlignCenter Alignment = "center"
	AlignTop    Alignment = "top"
)

const (
	nodeWidth  = 160.0
	nodeHeight = 36.0
	columnGap  = 120.0
	rowGap     = 18.0
	layoutPad  = 40.0

	minCanvasWidth  = 640.0
	minCanvasHeight = 360.0
)

// Layout assigns every node a layer and pixel position and returns the
// canvas extent. Layers are settled by iterative relaxation (the builder's
// initial layers are a hint, not trusted), proxies are forced into one
// shared final column, and nodes inside each layer are ordered by a
// barycenter heuristic to keep edge crossings down. Edges that still
// connect non-increasing layers afterwards are dropped, along with any path
// that used them.
func Layout(g *Graph, alignment Alignment) (width, height float64) {
	if len(g.Nodes) == 0 {
		return minCanvasWidth, minCanvasHeight
	}

	relaxLayers(g)
	dropInvalidEdges(g)
	layers := orderLayers(g)

	maxRows := 0
	for _, layer := range layers {
		if len(layer) > maxRows {
			maxRows = len(layer)
		}
	}
	tallest := float64(maxRows)*nodeHeight + float64(maxRows-1)*rowGap

	for li, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		x := layoutPad + float64(li)*(nodeWidth+columnGap)
		colH := float64(len(layer))*nodeHeight + float64(len(layer)-1)*rowGap
		offset := layoutPad
		if alignment == AlignCenter {
			offset += (tallest - colH) / 2
		}
		for row, n := range layer {
			n.X = x
			n.Y = offset + float64(row)*(nodeHeight+rowGap)
		}
	}

	width = layoutPad*2 + float64(len(layers))*nodeWidth + float64(len(layers)-1)*columnGap
	height = layoutPad*2 + tallest
	if width < minCanvasWidth {
		width = minCanvasWidth
	}
	if height < minCanvasHeight {
		height = minCanvasHeight
	}
	return width, height
}

// relaxLayers settles layer assignments: clients stay at 0, rules are pinned
// to 1, and every non-client edge pushes its target at least one layer past
// its source. Iterations are capped at the node count so a bad edge set
// cannot loop forever. Proxies are then forced past every other layer so
// they share one rightmost column.
func relaxLayers(g *Graph) {
	for _, n := range g.Nodes {
		switch n.ID.Kind {
		case KindClient:
			n.Layer = 0
		case KindRule:
			n.Layer = 1
		case KindGroup:
			if n.Layer < 2 {
				n.Layer = 2
			}
		}
	}

	for i := 0; i < len(g.Nodes); i++ {
		changed := false
		for key := range g.Edges {
			src, okS := g.Nodes[key.From]
			dst, okD := g.Nodes[key.To]
			if !okS || !okD || src.ID.Kind == KindClient {
				continue
			}
			if dst.Layer < src.Layer+1 {
				dst.Layer = src.Layer + 1
				changed = true
			}
		}
		// Rules must never drift off their column.
		for _, n := range g.Nodes {
			if n.ID.Kind == KindRule {
				n.Layer = 1
			}
		}
		if !changed {
			break
		}
	}

	maxNonProxy := 0
	for _, n := range g.Nodes {
		if n.ID.Kind != KindProxy && n.Layer > maxNonProxy {
			maxNonProxy = n.Layer
		}
	}
	for _, n := range g.Nodes {
		if n.ID.Kind == KindProxy {
			n.Layer = maxNonProxy + 1
		}
	}
}

// dropInvalidEdges removes edges that survived relaxation with
// non-increasing layers, and prunes any path whose segment chain lost an
// edge. Dropping is the designed response to the invariant violation;
// nothing here is an error.
func dropInvalidEdges(g *Graph) {
	dropped := false
	for key := range g.Edges {
		src, okS := g.Nodes[key.From]
		dst, okD := g.Nodes[key.To]
		if !okS || !okD || dst.Layer <= src.Layer {
			delete(g.Edges, key)
			dropped = true
		}
	}
	if !dropped {
		return
	}
	for key, p := range g.Paths {
		for _, seg := range p.Segments {
			if _, ok := g.Edges[seg]; !ok {
				delete(g.Paths, key)
				break
			}
		}
	}
}

// orderLayers groups nodes by layer and sorts each layer. Layer 0 sorts by
// aggregate client traffic descending; deeper layers sort by the mean
// position of their in-neighbors one layer back (barycenter). Nodes with no
// resolvable predecessor sort after resolved ones, ties break by label.
func orderLayers(g *Graph) [][]*Node {
	maxLayer := 0
	for _, n := range g.Nodes {
		if n.Layer > maxLayer {
			maxLayer = n.Layer
		}
	}
	layers := make([][]*Node, maxLayer+1)
	for _, n := range g.Nodes {
		layers[n.Layer] = append(layers[n.Layer], n)
	}

	// in-neighbors by target node
	preds := make(map[NodeID][]NodeID)
	for key := range g.Edges {
		preds[key.To] = append(preds[key.To], key.From)
	}

	position := make(map[NodeID]float64)
	for li, layer := range layers {
		if li == 0 {
			sort.Slice(layer, func(i, j int) bool {
				ti, tj := layer[i].Up+layer[i].Down, layer[j].Up+layer[j].Down
				if ti != tj {
					return ti > tj
				}
				return layer[i].Label < layer[j].Label
			})
		} else {
			type keyed struct {
				n        *Node
				bary     float64
				resolved bool
			}
			keys := make([]keyed, len(layer))
			for i, n := range layer {
				sum, count := 0.0, 0
				for _, pred := range preds[n.ID] {
					if p, ok := position[pred]; ok {
						sum += p
						count++
					}
				}
				if count > 0 {
					keys[i] = keyed{n: n, bary: sum / float64(count), resolved: true}
				} else {
					keys[i] = keyed{n: n}
				}
			}
			sort.Slice(keys, func(i, j int) bool {
				if keys[i].resolved != keys[j].resolved {
					return keys[i].resolved
				}
				if keys[i].resolved && keys[i].bary != keys[j].bary {
					return keys[i].bary < keys[j].bary
				}
				return keys[i].n.Label < keys[j].n.Label
			})
			for i := range keys {
				layer[i] = keys[i].n
			}
		}
		for i, n := range layer {
			position[n.ID] = float64(i)
		}
	}
	return layers
}
