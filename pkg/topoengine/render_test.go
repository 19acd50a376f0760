package topoengine

import (
	"image/color"
	"math"
	"testing"
	"time"
)

func TestBezierPointEndpoints(t *testing.T) {
	p0 := Vec2{X: 0, Y: 0}
	c1 := Vec2{X: 50, Y: 0}
	c2 := Vec2{X: 50, Y: 100}
	p3 := Vec2{X: 100, Y: 100}

	if got := bezierPoint(p0, c1, c2, p3, 0); got != p0 {
		t.Errorf("Expected curve to start at %+v, got %+v", p0, got)
	}
	if got := bezierPoint(p0, c1, c2, p3, 1); got != p3 {
		t.Errorf("Expected curve to end at %+v, got %+v", p3, got)
	}
	mid := bezierPoint(p0, c1, c2, p3, 0.5)
	if mid.X <= 0 || mid.X >= 100 || mid.Y <= 0 || mid.Y >= 100 {
		t.Errorf("Expected midpoint inside the hull, got %+v", mid)
	}
}

func TestBezierNormalUnitLength(t *testing.T) {
	p0 := Vec2{X: 0, Y: 0}
	c1 := Vec2{X: 50, Y: 0}
	c2 := Vec2{X: 50, Y: 100}
	p3 := Vec2{X: 100, Y: 100}

	for _, tt := range []float64{0, 0.25, 0.5, 0.75, 1} {
		n := bezierNormal(p0, c1, c2, p3, tt)
		if l := math.Hypot(n.X, n.Y); math.Abs(l-1) > 1e-9 {
			t.Errorf("Expected unit normal at t=%f, got length %f", tt, l)
		}
	}

	// Horizontal tangent at t=0 gives a vertical normal.
	n := bezierNormal(p0, c1, c2, p3, 0)
	if math.Abs(n.X) > 1e-9 || math.Abs(math.Abs(n.Y)-1) > 1e-9 {
		t.Errorf("Expected vertical normal for horizontal tangent, got %+v", n)
	}

	// Degenerate curve still returns something usable.
	z := Vec2{}
	n = bezierNormal(z, z, z, z, 0.5)
	if n.X != 0 || n.Y != 1 {
		t.Errorf("Expected fallback normal (0,1), got %+v", n)
	}
}

func TestEdgeThickness(t *testing.T) {
	g := hoverGraph()
	e := testEngine(g)
	e.anim.SetView(ViewTransform{Scale: 1})
	g.MaxWeight = 100

	key := EdgeKey{From: NodeID{Kind: KindClient, Name: "c1"}, To: NodeID{Kind: KindRule, Name: "r1"}}

	e.anim.Traffic[key] = EdgeTraffic{Up: 0, Down: 0}
	if got := e.edgeThickness(key); got != minEdgeWidth {
		t.Errorf("Expected idle edge at minimum width %f, got %f", minEdgeWidth, got)
	}

	e.anim.Traffic[key] = EdgeTraffic{Up: 60, Down: 40}
	if got := e.edgeThickness(key); got != maxEdgeWidth {
		t.Errorf("Expected saturated edge at maximum width %f, got %f", maxEdgeWidth, got)
	}

	e.anim.Traffic[key] = EdgeTraffic{Up: 25, Down: 25}
	got := e.edgeThickness(key)
	if got <= minEdgeWidth || got >= maxEdgeWidth {
		t.Errorf("Expected intermediate width between %f and %f, got %f", minEdgeWidth, maxEdgeWidth, got)
	}

	// Thickness is a screen-space quantity: it scales with the view.
	e.anim.SetView(ViewTransform{Scale: 2})
	if scaled := e.edgeThickness(key); math.Abs(float64(scaled)-float64(got)*2) > 1e-6 {
		t.Errorf("Expected doubled width at 2x zoom, got %f from %f", scaled, got)
	}
}

func TestEdgeGeometrySides(t *testing.T) {
	g := hoverGraph()
	e := testEngine(g)
	e.anim.SetView(ViewTransform{Scale: 1})
	e.anim.Step(time.Now(), 1.0/60.0)

	key := EdgeKey{From: NodeID{Kind: KindClient, Name: "c1"}, To: NodeID{Kind: KindRule, Name: "r1"}}
	p0, _, _, p3, ok := e.edgeGeometry(key)
	if !ok {
		t.Fatal("Expected geometry for an edge with both endpoints placed")
	}
	// Out of the source's right side, into the target's left side, both at
	// vertical center.
	if p0.X != nodeWidth || p0.Y != nodeHeight/2 {
		t.Errorf("Expected start at (%f,%f), got (%f,%f)", float64(nodeWidth), nodeHeight/2, p0.X, p0.Y)
	}
	if p3.X != 280 || p3.Y != nodeHeight/2 {
		t.Errorf("Expected end at (280,%f), got (%f,%f)", nodeHeight/2, p3.X, p3.Y)
	}
}

func TestScaleColor(t *testing.T) {
	c := color.RGBA{R: 200, G: 100, B: 50, A: 255}
	if got := scaleColor(c, 1); got != c {
		t.Errorf("Expected identity at alpha 1, got %v", got)
	}
	if got := scaleColor(c, 0); (got != color.RGBA{}) {
		t.Errorf("Expected transparent black at alpha 0, got %v", got)
	}
	half := scaleColor(c, 0.5)
	if half.R != 100 || half.A != 127 {
		t.Errorf("Expected premultiplied half color, got %v", half)
	}
	if got := scaleColor(c, -1); (got != color.RGBA{}) {
		t.Errorf("Expected negative alpha clamped, got %v", got)
	}
}

func TestTruncateToWidth(t *testing.T) {
	// Fixed-width fake: 10 units per rune.
	measure := func(s string) float64 { return float64(len([]rune(s))) * 10 }

	if got := truncateToWidth("short", 100, measure); got != "short" {
		t.Errorf("Expected fitting label untouched, got %q", got)
	}
	got := truncateToWidth("averylonglabelname", 100, measure)
	if measure(got) > 100 {
		t.Errorf("Expected truncated label within 100 units, got %q at %f", got, measure(got))
	}
	if got[len(got)-3:] != "…" {
		t.Errorf("Expected ellipsis suffix, got %q", got)
	}
	if got := truncateToWidth("anything", 5, measure); got != "…" {
		t.Errorf("Expected bare ellipsis when nothing fits, got %q", got)
	}
}

func TestNodeKindStyles(t *testing.T) {
	kinds := []NodeKind{KindClient, KindRule, KindGroup, KindProxy}
	seen := make(map[color.RGBA]bool)
	for _, k := range kinds {
		s := styleFor(k)
		if s.Fill == (color.RGBA{}) || s.Stroke == (color.RGBA{}) {
			t.Errorf("Expected a style for kind %s", k)
		}
		if seen[s.Stroke] {
			t.Errorf("Expected distinct stroke per kind, %s repeats %v", k, s.Stroke)
		}
		seen[s.Stroke] = true
	}
}
