package topoengine

import "math/rand"

// Lane separates upload and download particles onto the two sides of an
// edge channel so the directions read as parallel streams.
type Lane uint8

const (
	LaneUp Lane = iota
	LaneDown
)

const (
	baseSpawnRate = 0.5  // particles/second at intensity 0
	maxSpawnRate  = 14.0 // additional particles/second at intensity 1
	spawnJitter   = 0.08 // fraction of path length

	maxSpawnPerFrame = 8
	maxParticles     = 2000

	baseParticleSpeed = 0.9 // path segments/second at intensity 0
	maxParticleSpeed  = 2.4 // at intensity 1

	minIntensity = 0.005
)

// Particle is one flow marker travelling a whole client→proxy path.
// Forward (dir +1) particles indicate upload, backward (dir -1) download.
type Particle struct {
	PathKey  string
	Segments []EdgeKey
	Seg      int
	T        float64
	Dir      float64
	Speed    float64
	Size     float64
	Lane     Lane
}

// particleSystem owns all live particles and the per-path-lane fractional
// spawn residuals. Like the animator it is only touched from the game loop.
type particleSystem struct {
	particles []*Particle
	residual  map[string]float64
	rng       *rand.Rand
}

func newParticleSystem(seed int64) *particleSystem {
	return &particleSystem{
		residual: make(map[string]float64),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Step spawns from the current path intensities, advances every particle,
// and prunes the ones that left their path or whose edge vanished.
func (ps *particleSystem) Step(g *Graph, dt float64) {
	ps.spawn(g, dt)
	ps.advance(g, dt)
}

// Active reports whether the system needs further frames: live particles,
// or any path still intense enough to spawn.
func (ps *particleSystem) Active(g *Graph) bool {
	if len(ps.particles) > 0 {
		return true
	}
	if g == nil {
		return false
	}
	for _, p := range g.Paths {
		if p.UpIntensity > minIntensity || p.DownIntensity > minIntensity {
			return true
		}
	}
	return false
}

func (ps *particleSystem) Count() int {
	return len(ps.particles)
}

// spawn applies the accumulator policy per path per lane: carry the
// fractional particle budget across frames so truncation never
// systematically under- or over-spawns.
func (ps *particleSystem) spawn(g *Graph, dt float64) {
	if g == nil {
		return
	}
	for _, path := range g.Paths {
		ps.spawnLane(path, LaneUp, path.UpIntensity, dt)
		ps.spawnLane(path, LaneDown, path.DownIntensity, dt)
	}
	// Residuals for paths that no longer exist would otherwise pile up.
	if len(ps.residual) > 4*len(g.Paths)+8 {
		for key := range ps.residual {
			if _, ok := g.Paths[laneResidualPath(key)]; !ok {
				delete(ps.residual, key)
			}
		}
	}
}

func laneKey(pathKey string, lane Lane) string {
	if lane == LaneUp {
		return "u|" + pathKey
	}
	return "d|" + pathKey
}

func laneResidualPath(key string) string {
	if len(key) > 2 {
		return key[2:]
	}
	return key
}

func (ps *particleSystem) spawnLane(path *Path, lane Lane, intensity float64, dt float64) {
	if intensity <= minIntensity || len(path.Segments) == 0 {
		return
	}
	key := laneKey(path.Key, lane)
	want := (baseSpawnRate+maxSpawnRate*intensity)*dt + ps.residual[key]
	n := int(want)
	ps.residual[key] = want - float64(n)
	if n > maxSpawnPerFrame {
		n = maxSpawnPerFrame
	}
	for i := 0; i < n; i++ {
		if len(ps.particles) >= maxParticles {
			return
		}
		ps.particles = append(ps.particles, ps.newParticle(path, lane, intensity))
	}
}

func (ps *particleSystem) newParticle(path *Path, lane Lane, intensity float64) *Particle {
	p := &Particle{
		PathKey:  path.Key,
		Segments: path.Segments,
		Speed:    ps.speedFor(intensity),
		Size:     2 + ps.rng.Float64()*2,
		Lane:     lane,
	}
	// Jitter the start by a fraction of the whole path so simultaneous
	// spawns don't march in lockstep.
	jitter := ps.rng.Float64() * spawnJitter * float64(len(path.Segments))
	if lane == LaneUp {
		p.Dir = 1
		p.Seg = 0
		p.T = jitter
		for p.T > 1 && p.Seg < len(p.Segments)-1 {
			p.T--
			p.Seg++
		}
	} else {
		p.Dir = -1
		p.Seg = len(path.Segments) - 1
		p.T = 1 - jitter
		for p.T < 0 && p.Seg > 0 {
			p.T++
			p.Seg--
		}
	}
	return p
}

// speedFor maps intensity to segment speed with per-particle variance.
func (ps *particleSystem) speedFor(intensity float64) float64 {
	base := baseParticleSpeed + (maxParticleSpeed-baseParticleSpeed)*intensity
	return base * (0.75 + ps.rng.Float64()*0.5)
}

func (ps *particleSystem) advance(g *Graph, dt float64) {
	alive := ps.particles[:0]
	for _, p := range ps.particles {
		if !ps.advanceOne(g, p, dt) {
			continue
		}
		alive = append(alive, p)
	}
	// Zero the tail so dead particles don't linger in the backing array.
	for i := len(alive); i < len(ps.particles); i++ {
		ps.particles[i] = nil
	}
	ps.particles = alive
}

func (ps *particleSystem) advanceOne(g *Graph, p *Particle, dt float64) bool {
	if g == nil || p.Seg < 0 || p.Seg >= len(p.Segments) {
		return false
	}
	// The particle's edge may have been pruned by the latest rebuild.
	if _, ok := g.Edges[p.Segments[p.Seg]]; !ok {
		return false
	}

	// Speed chases the intensity target but never decreases: momentary
	// traffic dips must not visibly brake in-flight particles.
	if path, ok := g.Paths[p.PathKey]; ok {
		intensity := path.UpIntensity
		if p.Lane == LaneDown {
			intensity = path.DownIntensity
		}
		if target := baseParticleSpeed + (maxParticleSpeed-baseParticleSpeed)*intensity; target > p.Speed {
			p.Speed += (target - p.Speed) * 0.1
		}
	}

	p.T += p.Speed * dt * p.Dir
	for p.T > 1 {
		p.Seg++
		if p.Seg >= len(p.Segments) {
			return false
		}
		if _, ok := g.Edges[p.Segments[p.Seg]]; !ok {
			return false
		}
		p.T--
	}
	for p.T < 0 {
		p.Seg--
		if p.Seg < 0 {
			return false
		}
		if _, ok := g.Edges[p.Segments[p.Seg]]; !ok {
			return false
		}
		p.T++
	}
	return true
}
