package topoengine

import (
	"math"
	"testing"
	"time"
)

func testEngine(g *Graph) *Engine {
	e := &Engine{
		Width:      1280,
		Height:     800,
		anim:       newAnimator(),
		particles:  newParticleSystem(1),
		hoverNodes: make(map[NodeID]bool),
		hoverEdges: make(map[EdgeKey]edgeTier),
		panel:      newPanelState(),
	}
	if g != nil {
		e.graph = g
		e.anim.SetTargets(g, nil, time.Now())
		e.rebuildCaches(g)
	}
	return e
}

func TestZoomAnchorsCursor(t *testing.T) {
	e := testEngine(nil)
	e.anim.SetView(ViewTransform{Scale: 1, X: 100, Y: 50})
	now := time.Now()

	// The graph point under the cursor must stay under it after the zoom.
	px, py := 400.0, 300.0
	before := e.anim.View
	gx := (px - before.X) / before.Scale
	gy := (py - before.Y) / before.Scale

	e.zoomAt(px, py, 2, now)
	after := e.anim.viewTo
	sx := gx*after.Scale + after.X
	sy := gy*after.Scale + after.Y
	if math.Abs(sx-px) > 1e-9 || math.Abs(sy-py) > 1e-9 {
		t.Errorf("Expected cursor anchor (%f,%f) to stay fixed, got (%f,%f)", px, py, sx, sy)
	}
	if !e.userAdjusted {
		t.Error("Expected zoom to mark the view as user adjusted")
	}
}

func TestZoomClamped(t *testing.T) {
	e := testEngine(nil)
	now := time.Now()

	e.anim.SetView(ViewTransform{Scale: maxZoom})
	e.zoomAt(0, 0, 5, now)
	if e.anim.viewTo.Scale > maxZoom {
		t.Errorf("Expected zoom clamped to %f, got %f", maxZoom, e.anim.viewTo.Scale)
	}

	e.anim.SetView(ViewTransform{Scale: minZoom})
	e.zoomAt(0, 0, -5, now)
	if e.anim.viewTo.Scale < minZoom {
		t.Errorf("Expected zoom clamped to %f, got %f", minZoom, e.anim.viewTo.Scale)
	}
}

func TestZoomStepMultiplicative(t *testing.T) {
	e := testEngine(nil)
	now := time.Now()
	e.anim.SetView(ViewTransform{Scale: 1})

	e.zoomAt(0, 0, 1, now)
	if got := e.anim.viewTo.Scale; math.Abs(got-zoomStep) > 1e-9 {
		t.Errorf("Expected one wheel notch to scale by %f, got %f", zoomStep, got)
	}
}

func TestFitTransformCentersGraph(t *testing.T) {
	e := testEngine(nil)
	e.graphW, e.graphH = 2000, 1000

	v := e.fitTransform()

	if v.Scale <= 0 || v.Scale > maxZoom {
		t.Fatalf("Expected a clamped positive scale, got %f", v.Scale)
	}
	if e.graphW*v.Scale > float64(e.Width) || e.graphH*v.Scale > float64(e.Height) {
		t.Errorf("Expected fitted graph inside the %dx%d viewport, got %fx%f",
			e.Width, e.Height, e.graphW*v.Scale, e.graphH*v.Scale)
	}
	cx := v.X + e.graphW*v.Scale/2
	if math.Abs(cx-float64(e.Width)/2) > 1e-6 {
		t.Errorf("Expected graph centered horizontally, center at %f", cx)
	}
}

func TestFitTransformEmptyGraph(t *testing.T) {
	e := testEngine(nil)
	v := e.fitTransform()
	if v.Scale != 1 {
		t.Errorf("Expected identity fit with no graph, got scale %f", v.Scale)
	}
}

// hoverGraph builds two disjoint routes sharing the proxy column:
// c1→r1→p1 and c2→r2→p2.
func hoverGraph() *Graph {
	g := &Graph{
		Nodes: make(map[NodeID]*Node),
		Edges: make(map[EdgeKey]*Edge),
		Paths: make(map[string]*Path),
	}
	add := func(kind NodeKind, name string, layer int) NodeID {
		id := NodeID{Kind: kind, Name: name}
		g.Nodes[id] = &Node{ID: id, Label: name, Layer: layer, X: float64(layer) * 280, Y: 0}
		return id
	}
	link := func(from, to NodeID) EdgeKey {
		key := EdgeKey{From: from, To: to}
		g.Edges[key] = &Edge{Key: key, Up: 10, Down: 10}
		return key
	}

	c1 := add(KindClient, "c1", 0)
	r1 := add(KindRule, "r1", 1)
	p1 := add(KindProxy, "p1", 2)
	c2 := add(KindClient, "c2", 0)
	r2 := add(KindRule, "r2", 1)
	p2 := add(KindProxy, "p2", 2)
	g.Nodes[c2].Y, g.Nodes[r2].Y, g.Nodes[p2].Y = 100, 100, 100

	s1a, s1b := link(c1, r1), link(r1, p1)
	s2a, s2b := link(c2, r2), link(r2, p2)
	g.Paths["a"] = &Path{Key: "a", Nodes: []NodeID{c1, r1, p1}, Segments: []EdgeKey{s1a, s1b}}
	g.Paths["b"] = &Path{Key: "b", Nodes: []NodeID{c2, r2, p2}, Segments: []EdgeKey{s2a, s2b}}
	return g
}

func TestRefreshHoverRelatedSet(t *testing.T) {
	g := hoverGraph()
	e := testEngine(g)

	e.hoverActive = true
	e.hoverNode = NodeID{Kind: KindRule, Name: "r1"}
	e.refreshHover()

	for _, name := range []string{"c1", "r1", "p1"} {
		found := false
		for id := range e.hoverNodes {
			if id.Name == name {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected %s in the hover-related set", name)
		}
	}
	for id := range e.hoverNodes {
		if id.Name == "c2" || id.Name == "r2" || id.Name == "p2" {
			t.Errorf("Expected unrelated node %s excluded from the hover set", id.Name)
		}
	}

	// Edges touching the hovered node take the highlight tier; the rest of
	// its path is merely related.
	touched := EdgeKey{From: NodeID{Kind: KindClient, Name: "c1"}, To: NodeID{Kind: KindRule, Name: "r1"}}
	if e.hoverEdges[touched] != tierTouched {
		t.Errorf("Expected edge into hovered node at touched tier, got %d", e.hoverEdges[touched])
	}
	unrelated := EdgeKey{From: NodeID{Kind: KindClient, Name: "c2"}, To: NodeID{Kind: KindRule, Name: "r2"}}
	if e.hoverEdges[unrelated] != tierFaded {
		t.Errorf("Expected unrelated edge at faded tier, got %d", e.hoverEdges[unrelated])
	}
}

func TestRefreshHoverSetsVisibilityTargets(t *testing.T) {
	g := hoverGraph()
	e := testEngine(g)

	e.hoverActive = true
	e.hoverNode = NodeID{Kind: KindRule, Name: "r1"}
	e.refreshHover()

	faded := alphaFaded / alphaNormal
	related := NodeID{Kind: KindProxy, Name: "p1"}
	if v := e.anim.nodeVis[related]; v == nil || v.Target != 1 {
		t.Errorf("Expected related node target 1, got %+v", v)
	}
	other := NodeID{Kind: KindClient, Name: "c2"}
	if v := e.anim.nodeVis[other]; v == nil || v.Target != faded {
		t.Errorf("Expected unrelated node target %f, got %+v", faded, v)
	}

	// Clearing the hover restores everything.
	e.hoverActive = false
	e.refreshHover()
	if v := e.anim.nodeVis[other]; v == nil || v.Target != 1 {
		t.Errorf("Expected cleared hover to restore target 1, got %+v", v)
	}
	if len(e.hoverNodes) != 0 || len(e.hoverEdges) != 0 {
		t.Errorf("Expected cleared hover sets, got %d nodes / %d edges", len(e.hoverNodes), len(e.hoverEdges))
	}
}

func TestUpdateHoverHitTest(t *testing.T) {
	g := hoverGraph()
	e := testEngine(g)
	e.anim.SetView(ViewTransform{Scale: 1})

	// c1 occupies [0,nodeWidth)x[0,nodeHeight) in graph space.
	e.updateHover(nodeWidth/2, nodeHeight/2)
	if !e.hoverActive {
		t.Fatal("Expected a hover hit inside the node box")
	}
	if e.hoverNode.Name != "c1" {
		t.Errorf("Expected hover on c1, got %s", e.hoverNode.Name)
	}

	e.updateHover(nodeWidth/2, nodeHeight+50)
	if e.hoverActive {
		t.Error("Expected no hover hit in empty space")
	}
}

func TestUpdateHoverRespectsViewTransform(t *testing.T) {
	g := hoverGraph()
	e := testEngine(g)
	e.anim.SetView(ViewTransform{Scale: 2, X: 100, Y: 100})

	// Graph point (10,10) inside c1 maps to (120,120) on screen.
	e.updateHover(120, 120)
	if !e.hoverActive || e.hoverNode.Name != "c1" {
		t.Errorf("Expected transformed hit on c1, got active=%v node=%s", e.hoverActive, e.hoverNode.Name)
	}
}
