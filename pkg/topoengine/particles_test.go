package topoengine

import (
	"testing"
)

// particleGraph builds a client→rule→proxy graph with one path at the given
// lane intensities.
func particleGraph(up, down float64) *Graph {
	g := &Graph{
		Nodes: make(map[NodeID]*Node),
		Edges: make(map[EdgeKey]*Edge),
		Paths: make(map[string]*Path),
	}
	c := NodeID{Kind: KindClient, Name: "c"}
	r := NodeID{Kind: KindRule, Name: "r"}
	p := NodeID{Kind: KindProxy, Name: "p"}
	g.Nodes[c] = &Node{ID: c, Layer: 0}
	g.Nodes[r] = &Node{ID: r, Layer: 1}
	g.Nodes[p] = &Node{ID: p, Layer: 2}
	seg1 := EdgeKey{From: c, To: r}
	seg2 := EdgeKey{From: r, To: p}
	g.Edges[seg1] = &Edge{Key: seg1}
	g.Edges[seg2] = &Edge{Key: seg2}
	g.Paths["p1"] = &Path{
		Key:           "p1",
		Nodes:         []NodeID{c, r, p},
		Segments:      []EdgeKey{seg1, seg2},
		UpIntensity:   up,
		DownIntensity: down,
	}
	return g
}

func TestParticleSpawnAccumulatesResidual(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(0.5, 0)

	// One 60fps frame is worth a fraction of a particle; the residual must
	// carry so a full second spawns roughly rate*1s in total.
	for i := 0; i < 60; i++ {
		ps.Step(g, 1.0/60.0)
	}
	want := baseSpawnRate + maxSpawnRate*0.5
	got := float64(ps.Count())
	if got < want*0.5 || got > want*1.5 {
		t.Errorf("Expected roughly %f particles after one second, got %f", want, got)
	}
}

func TestParticleSpawnSkipsQuietLanes(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(0, minIntensity/2)

	for i := 0; i < 120; i++ {
		ps.Step(g, 1.0/60.0)
	}
	if ps.Count() != 0 {
		t.Errorf("Expected no particles below the intensity floor, got %d", ps.Count())
	}
}

func TestParticleGlobalCap(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(1, 1)

	// Huge dt frames would each want thousands of particles.
	for i := 0; i < 2000; i++ {
		ps.spawn(g, 10)
	}
	if ps.Count() > maxParticles {
		t.Errorf("Expected at most %d particles, got %d", maxParticles, ps.Count())
	}
}

func TestParticlePerFrameCap(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(1, 0)

	// A single burst frame stays bounded regardless of backlog.
	ps.spawn(g, 5)
	if ps.Count() > maxSpawnPerFrame {
		t.Errorf("Expected at most %d spawns in one frame per lane, got %d", maxSpawnPerFrame, ps.Count())
	}
}

func TestParticleLaneDirections(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(1, 1)
	ps.spawn(g, 1)

	ups, downs := 0, 0
	for _, p := range ps.particles {
		switch p.Lane {
		case LaneUp:
			ups++
			if p.Dir != 1 {
				t.Errorf("Expected upload particle moving forward, got dir %f", p.Dir)
			}
		case LaneDown:
			downs++
			if p.Dir != -1 {
				t.Errorf("Expected download particle moving backward, got dir %f", p.Dir)
			}
		}
	}
	if ups == 0 || downs == 0 {
		t.Errorf("Expected particles in both lanes, got %d up / %d down", ups, downs)
	}
}

func TestParticleCrossesSegments(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(1, 0)
	p := &Particle{
		PathKey:  "p1",
		Segments: g.Paths["p1"].Segments,
		Seg:      0,
		T:        0.9,
		Dir:      1,
		Speed:    1,
	}
	ps.particles = []*Particle{p}

	ps.advance(g, 0.3)

	if ps.Count() != 1 {
		t.Fatal("Expected particle to survive the segment boundary")
	}
	if p.Seg != 1 {
		t.Errorf("Expected particle on segment 1, got %d", p.Seg)
	}
}

func TestParticleDiesPastPathEnd(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(1, 0)
	ps.particles = []*Particle{{
		PathKey:  "p1",
		Segments: g.Paths["p1"].Segments,
		Seg:      1,
		T:        0.95,
		Dir:      1,
		Speed:    2,
	}}

	ps.advance(g, 0.5)

	if ps.Count() != 0 {
		t.Errorf("Expected particle past the path end to die, got %d alive", ps.Count())
	}
}

func TestParticleDiesOnMissingEdge(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(1, 0)
	ps.particles = []*Particle{{
		PathKey:  "p1",
		Segments: g.Paths["p1"].Segments,
		Seg:      0,
		T:        0.5,
		Dir:      1,
		Speed:    1,
	}}

	// A rebuild pruned the particle's current edge.
	delete(g.Edges, g.Paths["p1"].Segments[0])
	ps.advance(g, 1.0/60.0)

	if ps.Count() != 0 {
		t.Errorf("Expected particle on a pruned edge to die, got %d alive", ps.Count())
	}
}

func TestParticleSpeedNeverDecreases(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(1, 0)
	p := &Particle{
		PathKey:  "p1",
		Segments: g.Paths["p1"].Segments,
		Seg:      0,
		T:        0,
		Dir:      1,
		Speed:    maxParticleSpeed,
	}
	ps.particles = []*Particle{p}

	// Traffic collapses mid-flight; the particle keeps its speed.
	g.Paths["p1"].UpIntensity = 0
	before := p.Speed
	ps.advance(g, 0.01)
	if p.Speed < before {
		t.Errorf("Expected in-flight speed to never decrease, got %f from %f", p.Speed, before)
	}

	// A traffic spike accelerates it.
	slow := &Particle{
		PathKey:  "p1",
		Segments: g.Paths["p1"].Segments,
		Seg:      0,
		T:        0,
		Dir:      1,
		Speed:    baseParticleSpeed,
	}
	ps.particles = []*Particle{slow}
	g.Paths["p1"].UpIntensity = 1
	before = slow.Speed
	ps.advance(g, 0.01)
	if slow.Speed <= before {
		t.Errorf("Expected speed to chase a higher intensity, got %f from %f", slow.Speed, before)
	}
}

func TestParticleActive(t *testing.T) {
	ps := newParticleSystem(1)

	if ps.Active(nil) {
		t.Error("Expected empty system with no graph to be inactive")
	}
	if ps.Active(particleGraph(0, 0)) {
		t.Error("Expected zero-intensity graph to be inactive")
	}
	if !ps.Active(particleGraph(0.5, 0)) {
		t.Error("Expected intense path to keep the system active")
	}

	ps.particles = append(ps.particles, &Particle{})
	if !ps.Active(particleGraph(0, 0)) {
		t.Error("Expected live particles to keep the system active")
	}
}

func TestParticleResidualCleanup(t *testing.T) {
	ps := newParticleSystem(1)
	g := particleGraph(1, 1)
	ps.spawn(g, 1.0/60.0)

	// Replace the graph; stale residual keys get collected once they
	// outnumber the live paths.
	empty := &Graph{Paths: make(map[string]*Path)}
	for i := 0; i < 20; i++ {
		ps.residual["u|stale"+string(rune('a'+i))] = 0.5
	}
	ps.spawn(empty, 1.0/60.0)

	if len(ps.residual) != 0 {
		t.Errorf("Expected stale residuals collected, still have %d", len(ps.residual))
	}
}
