package topoengine

import (
	"math"
	"time"
)

type Vec2 struct {
	X, Y float64
}

// ViewTransform is the pan/zoom state applied to graph-space coordinates:
// screen = graph*Scale + offset.
type ViewTransform struct {
	Scale float64
	X, Y  float64
}

// EdgeTraffic is the interpolated per-edge transfer rate read by the
// renderer and the particle system.
type EdgeTraffic struct {
	Up, Down float64
}

func (t EdgeTraffic) Total() float64 {
	return t.Up + t.Down
}

const (
	viewDuration     = 220 * time.Millisecond
	positionDuration = 450 * time.Millisecond
	trafficDuration  = 300 * time.Millisecond
	fadeDuration     = 250 * time.Millisecond

	positionEpsilon = 0.5
	trafficEpsilon  = 0.01

	// Exponential smoothing factor for hover visibility per frame.
	visibilityFactor = 0.2
)

// easeInOutCubic is the easing applied to every discrete channel.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := -2*t + 2
	return 1 - f*f*f/2
}

// channel is one discrete from/to interpolation: idle until begun, running
// until its duration elapses, then snapped and idle again.
type channel struct {
	active bool
	start  time.Time
	dur    time.Duration
}

func (c *channel) begin(now time.Time, dur time.Duration) {
	c.active = true
	c.start = now
	c.dur = dur
}

func (c *channel) progress(now time.Time) (eased float64, done bool) {
	t := now.Sub(c.start).Seconds() / c.dur.Seconds()
	if t >= 1 {
		return 1, true
	}
	if t < 0 {
		t = 0
	}
	return easeInOutCubic(t), false
}

// fade is the lifecycle opacity of one node: 0→1 after it first appears,
// 1→0 once it leaves the graph, after which its render state is deleted.
type fade struct {
	Alpha    float64
	Target   float64
	Removing bool
}

// smoothed is an exponentially smoothed visibility value used for hover
// highlighting; it chases its target a fixed fraction per frame so hover
// feedback feels immediate while positions keep their easing.
type smoothed struct {
	Cur, Target float64
}

// animator owns the only mutable state between graph snapshots: the three
// discrete interpolation channels (view, node positions, edge traffic) plus
// lifecycle fades and hover visibility. It is only touched from the game
// loop goroutine.
type animator struct {
	View     ViewTransform
	viewFrom ViewTransform
	viewTo   ViewTransform
	viewCh   channel

	Pos     map[NodeID]Vec2
	posFrom map[NodeID]Vec2
	posTo   map[NodeID]Vec2
	posCh   channel

	Traffic  map[EdgeKey]EdgeTraffic
	trafFrom map[EdgeKey]EdgeTraffic
	trafTo   map[EdgeKey]EdgeTraffic
	trafCh   channel

	fades  map[NodeID]*fade
	ghosts map[NodeID]*Node

	nodeVis map[NodeID]*smoothed
	edgeVis map[EdgeKey]*smoothed
}

func newAnimator() *animator {
	return &animator{
		View:    ViewTransform{Scale: 1},
		Pos:     make(map[NodeID]Vec2),
		posTo:   make(map[NodeID]Vec2),
		Traffic: make(map[EdgeKey]EdgeTraffic),
		trafTo:  make(map[EdgeKey]EdgeTraffic),
		fades:   make(map[NodeID]*fade),
		ghosts:  make(map[NodeID]*Node),
		nodeVis: make(map[NodeID]*smoothed),
		edgeVis: make(map[EdgeKey]*smoothed),
	}
}

// SetTargets diffs a freshly laid-out graph against the current render
// state and (re)starts the position and traffic channels where the
// difference exceeds the epsilons. A retrigger snapshots the current
// interpolated values as the new start, so animations chain smoothly when
// rebuilds arrive mid-flight. prev supplies node data for fade-out ghosts.
func (a *animator) SetTargets(g, prev *Graph, now time.Time) {
	posTo := make(map[NodeID]Vec2, len(g.Nodes))
	posChanged := false
	for id, n := range g.Nodes {
		target := Vec2{X: n.X, Y: n.Y}
		posTo[id] = target
		cur, ok := a.Pos[id]
		if !ok {
			// New node: appear in place and fade in.
			a.Pos[id] = target
			a.fades[id] = &fade{Target: 1}
			delete(a.ghosts, id)
			continue
		}
		if f, hasFade := a.fades[id]; hasFade && f.Removing {
			// Back from the dead before the fade finished.
			f.Removing = false
			f.Target = 1
			delete(a.ghosts, id)
		}
		if math.Abs(cur.X-target.X) > positionEpsilon || math.Abs(cur.Y-target.Y) > positionEpsilon {
			posChanged = true
		}
	}
	for id := range a.Pos {
		if _, ok := g.Nodes[id]; ok {
			continue
		}
		if f, ok := a.fades[id]; ok && f.Removing {
			continue
		}
		alpha := 1.0
		if f, ok := a.fades[id]; ok {
			alpha = f.Alpha
		}
		a.fades[id] = &fade{Alpha: alpha, Removing: true}
		if prev != nil {
			if n, ok := prev.Nodes[id]; ok {
				ghost := *n
				a.ghosts[id] = &ghost
			}
		}
		// Keep the ghost where it is for the duration of the fade.
		posTo[id] = a.Pos[id]
	}
	if posChanged {
		a.posFrom = make(map[NodeID]Vec2, len(a.Pos))
		for id, v := range a.Pos {
			a.posFrom[id] = v
		}
		a.posTo = posTo
		a.posCh.begin(now, positionDuration)
	} else {
		a.posTo = posTo
	}

	trafTo := make(map[EdgeKey]EdgeTraffic, len(g.Edges))
	trafChanged := false
	for key, e := range g.Edges {
		target := EdgeTraffic{Up: e.Up, Down: e.Down}
		trafTo[key] = target
		cur, ok := a.Traffic[key]
		if !ok {
			// New edge: grow from zero.
			a.Traffic[key] = EdgeTraffic{}
			trafChanged = true
			continue
		}
		if math.Abs(cur.Up-target.Up) > trafficEpsilon || math.Abs(cur.Down-target.Down) > trafficEpsilon {
			trafChanged = true
		}
	}
	for key := range a.Traffic {
		if _, ok := g.Edges[key]; !ok {
			delete(a.Traffic, key)
			delete(a.edgeVis, key)
		}
	}
	if trafChanged {
		a.trafFrom = make(map[EdgeKey]EdgeTraffic, len(a.Traffic))
		for key, v := range a.Traffic {
			a.trafFrom[key] = v
		}
		a.trafTo = trafTo
		a.trafCh.begin(now, trafficDuration)
	} else {
		a.trafTo = trafTo
	}
}

// AnimateView eases the view transform toward to.
func (a *animator) AnimateView(to ViewTransform, now time.Time) {
	if a.View == to {
		return
	}
	a.viewFrom = a.View
	a.viewTo = to
	a.viewCh.begin(now, viewDuration)
}

// SetView applies a transform immediately, cancelling any view animation.
// Used for drag panning, which must feel 1:1.
func (a *animator) SetView(to ViewTransform) {
	a.View = to
	a.viewTo = to
	a.viewCh.active = false
}

// Step advances every active channel and fade. It reports whether anything
// is still moving.
func (a *animator) Step(now time.Time, dt float64) bool {
	active := false

	if a.viewCh.active {
		e, done := a.viewCh.progress(now)
		a.View = ViewTransform{
			Scale: lerp(a.viewFrom.Scale, a.viewTo.Scale, e),
			X:     lerp(a.viewFrom.X, a.viewTo.X, e),
			Y:     lerp(a.viewFrom.Y, a.viewTo.Y, e),
		}
		if done {
			a.View = a.viewTo
			a.viewCh.active = false
		} else {
			active = true
		}
	}

	if a.posCh.active {
		e, done := a.posCh.progress(now)
		for id, to := range a.posTo {
			from, ok := a.posFrom[id]
			if !ok {
				a.Pos[id] = to
				continue
			}
			a.Pos[id] = Vec2{X: lerp(from.X, to.X, e), Y: lerp(from.Y, to.Y, e)}
		}
		if done {
			for id, to := range a.posTo {
				a.Pos[id] = to
			}
			a.posCh.active = false
		} else {
			active = true
		}
	}

	if a.trafCh.active {
		e, done := a.trafCh.progress(now)
		for key, to := range a.trafTo {
			from, ok := a.trafFrom[key]
			if !ok {
				from = EdgeTraffic{}
			}
			a.Traffic[key] = EdgeTraffic{
				Up:   lerp(from.Up, to.Up, e),
				Down: lerp(from.Down, to.Down, e),
			}
		}
		if done {
			for key, to := range a.trafTo {
				a.Traffic[key] = to
			}
			a.trafCh.active = false
		} else {
			active = true
		}
	}

	step := dt / fadeDuration.Seconds()
	for id, f := range a.fades {
		switch {
		case f.Alpha < f.Target:
			f.Alpha += step
			if f.Alpha >= f.Target {
				f.Alpha = f.Target
				if f.Target == 1 {
					delete(a.fades, id)
				}
			} else {
				active = true
			}
		case f.Alpha > f.Target:
			f.Alpha -= step
			if f.Alpha <= f.Target {
				if f.Removing {
					delete(a.fades, id)
					delete(a.Pos, id)
					delete(a.posTo, id)
					delete(a.ghosts, id)
					delete(a.nodeVis, id)
				} else {
					f.Alpha = f.Target
				}
			} else {
				active = true
			}
		}
	}

	for _, v := range a.nodeVis {
		v.Cur += (v.Target - v.Cur) * visibilityFactor
		if math.Abs(v.Target-v.Cur) > 0.01 {
			active = true
		}
	}
	for _, v := range a.edgeVis {
		v.Cur += (v.Target - v.Cur) * visibilityFactor
		if math.Abs(v.Target-v.Cur) > 0.01 {
			active = true
		}
	}

	return active
}

// NodeAlpha is the composite render opacity of a node: lifecycle fade times
// hover visibility.
func (a *animator) NodeAlpha(id NodeID) float64 {
	alpha := 1.0
	if f, ok := a.fades[id]; ok {
		alpha = f.Alpha
	}
	if v, ok := a.nodeVis[id]; ok {
		alpha *= v.Cur
	}
	return alpha
}

func (a *animator) EdgeAlpha(key EdgeKey) float64 {
	if v, ok := a.edgeVis[key]; ok {
		return v.Cur
	}
	return 1
}

// SetNodeVisTarget steers the hover visibility of one node.
func (a *animator) SetNodeVisTarget(id NodeID, target float64) {
	if v, ok := a.nodeVis[id]; ok {
		v.Target = target
		return
	}
	a.nodeVis[id] = &smoothed{Cur: 1, Target: target}
}

func (a *animator) SetEdgeVisTarget(key EdgeKey, target float64) {
	if v, ok := a.edgeVis[key]; ok {
		v.Target = target
		return
	}
	a.edgeVis[key] = &smoothed{Cur: 1, Target: target}
}

func lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}
