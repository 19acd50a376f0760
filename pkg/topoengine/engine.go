// Package topoengine renders a live proxy topology: connections feed in,
// a layered client→rule→group→proxy graph comes out, animated and drawn
// with a particle flow indicating traffic direction and intensity.
package topoengine

import (
	"bytes"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/kvollmer/topoflow/pkg/clashapi"
	"github.com/kvollmer/topoflow/pkg/utils"
)

// Options configures a new Engine. Store and Geo are optional; leaving them
// nil disables the lifetime totals table and country tags.
type Options struct {
	Width, Height int
	Alignment     Alignment
	AutoFit       bool
	Panel         bool
	SnapshotDir   string
	ClientAliases map[string]string
	Store         *utils.TrafficStore
	Geo           *utils.GeoService
	Logger        *log.Logger
}

// Engine is the ebiten.Game hosting one topology view. All render state is
// owned by the game-loop goroutine; the traffic feed hands snapshots over
// through a mutex-guarded staging slot.
type Engine struct {
	Width, Height int

	alignment Alignment
	logger    *log.Logger

	mu      sync.Mutex
	pending *clashapi.TrafficSnapshot

	rules   *clashapi.RuleIndex
	groups  map[string]struct{}
	aliases map[string]string

	graph          *Graph
	graphW, graphH float64
	latest         *clashapi.TrafficSnapshot

	anim      *animator
	particles *particleSystem

	// Draw-order and degree caches, rebuilt per graph.
	edgeOrder []EdgeKey
	nodeOrder []NodeID
	hasIn     map[NodeID]bool
	hasOut    map[NodeID]bool

	// Interaction state, written by input handling only.
	hoverActive  bool
	hoverNode    NodeID
	hoverNodes   map[NodeID]bool
	hoverEdges   map[EdgeKey]edgeTier
	dragging     bool
	dragX, dragY int
	autoFit      bool
	userAdjusted bool

	scene      *ebiten.Image
	sceneDirty bool

	fontSource    *text.GoTextFaceSource
	monoSource    *text.GoTextFaceSource
	particleImage *ebiten.Image

	panel     *panelState
	showPanel bool
	store     *utils.TrafficStore
	geo       *utils.GeoService
	audio     *AudioPlayer

	snapshotDir   string
	snapRequested bool

	npMu     sync.Mutex
	npSong   string
	npArtist string

	lastStep time.Time
}

func NewEngine(opts Options) *Engine {
	regular, _ := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	mono, _ := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	alignment := opts.Alignment
	if alignment != AlignTop {
		alignment = AlignCenter
	}

	e := &Engine{
		Width:       opts.Width,
		Height:      opts.Height,
		alignment:   alignment,
		logger:      logger,
		groups:      make(map[string]struct{}),
		aliases:     opts.ClientAliases,
		anim:        newAnimator(),
		particles:   newParticleSystem(time.Now().UnixNano()),
		hoverNodes:  make(map[NodeID]bool),
		hoverEdges:  make(map[EdgeKey]edgeTier),
		autoFit:     opts.AutoFit,
		sceneDirty:  true,
		fontSource:  regular,
		monoSource:  mono,
		panel:       newPanelState(),
		showPanel:   opts.Panel,
		store:       opts.Store,
		geo:         opts.Geo,
		snapshotDir: opts.SnapshotDir,
	}
	e.initParticleTexture()
	return e
}

// SetRules installs the rule set used to attribute connection chains.
func (e *Engine) SetRules(rules []clashapi.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = clashapi.NewRuleIndex(rules)
}

// SetGroups installs the known proxy-group names.
func (e *Engine) SetGroups(groups map[string]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groups = groups
}

// AttachAudio wires an ambient audio player whose track metadata shows in
// the panel footer.
func (e *Engine) AttachAudio(p *AudioPlayer) {
	e.audio = p
	p.OnMetadata = e.SetNowPlaying
}

// SetNowPlaying records the current audio track. Called from the audio
// goroutine, hence the dedicated lock.
func (e *Engine) SetNowPlaying(song, artist string) {
	e.npMu.Lock()
	e.npSong, e.npArtist = song, artist
	e.npMu.Unlock()
}

func (e *Engine) nowPlaying() (song, artist string) {
	e.npMu.Lock()
	defer e.npMu.Unlock()
	return e.npSong, e.npArtist
}

// SubmitTraffic stages one traffic snapshot for the next Update. Safe to
// call from the feed goroutine; later snapshots replace earlier unconsumed
// ones.
func (e *Engine) SubmitTraffic(snap *clashapi.TrafficSnapshot) {
	e.mu.Lock()
	e.pending = snap
	e.mu.Unlock()
}

// Graph returns the latest positioned graph, for external inspection.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// StartMemoryWatcher periodically returns freed memory to the OS; scene and
// particle churn otherwise keeps the heap inflated.
func (e *Engine) StartMemoryWatcher() {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		for range ticker.C {
			debug.FreeOSMemory()
		}
	}()
}

func (e *Engine) Update() error {
	now := time.Now()
	dt := 1.0 / 60.0
	if !e.lastStep.IsZero() {
		dt = now.Sub(e.lastStep).Seconds()
		if dt > 0.25 {
			dt = 0.25
		}
	}
	e.lastStep = now

	e.handleInput(now)

	e.mu.Lock()
	snap := e.pending
	e.pending = nil
	rules := e.rules
	groups := e.groups
	e.mu.Unlock()

	if snap != nil {
		e.rebuild(snap, rules, groups, now)
	}

	// A static graph costs nothing per frame: no channel running, no
	// particle to move, nothing to redraw.
	if e.anim.Step(now, dt) {
		e.sceneDirty = true
	}
	if e.particles.Active(e.graph) {
		e.particles.Step(e.graph, dt)
		e.sceneDirty = true
	}
	e.panel.step(dt)
	return nil
}

// rebuild runs the synchronous build→layout→retarget pipeline for one
// snapshot. Expected O(active connections); it completes before any frame
// state is read.
func (e *Engine) rebuild(snap *clashapi.TrafficSnapshot, rules *clashapi.RuleIndex, groups map[string]struct{}, now time.Time) {
	resolve := ClientResolver(nil)
	if len(e.aliases) > 0 {
		aliases := e.aliases
		resolve = func(ip string) string { return aliases[ip] }
	}
	g := BuildGraph(snap.Conns, rules, groups, resolve)
	w, h := Layout(g, e.alignment)
	e.anim.SetTargets(g, e.graph, now)

	prevW, prevH := e.graphW, e.graphH
	e.graph = g
	e.graphW, e.graphH = w, h
	e.latest = snap
	e.rebuildCaches(g)
	e.refreshHover()
	e.panel.observe(snap, e)
	e.sceneDirty = true

	if e.autoFit && !e.userAdjusted && (w != prevW || h != prevH) {
		e.anim.AnimateView(e.fitTransform(), now)
	}
}

// rebuildCaches derives the stable draw order and connector-dot degrees for
// a new graph. Map iteration order is random; drawing wants determinism.
func (e *Engine) rebuildCaches(g *Graph) {
	e.edgeOrder = e.edgeOrder[:0]
	for key := range g.Edges {
		e.edgeOrder = append(e.edgeOrder, key)
	}
	sortEdgeKeys(e.edgeOrder)

	e.nodeOrder = e.nodeOrder[:0]
	for id := range g.Nodes {
		e.nodeOrder = append(e.nodeOrder, id)
	}
	sortNodeIDs(e.nodeOrder)

	e.hasIn = make(map[NodeID]bool, len(g.Nodes))
	e.hasOut = make(map[NodeID]bool, len(g.Nodes))
	for key := range g.Edges {
		e.hasOut[key.From] = true
		e.hasIn[key.To] = true
	}
}

func (e *Engine) Draw(screen *ebiten.Image) {
	if e.scene == nil || e.scene.Bounds().Dx() != e.Width || e.scene.Bounds().Dy() != e.Height {
		e.scene = ebiten.NewImage(e.Width, e.Height)
		e.sceneDirty = true
	}
	if e.sceneDirty {
		e.drawScene(e.scene)
		e.sceneDirty = false
	}
	screen.DrawImage(e.scene, nil)

	if e.snapRequested {
		e.snapRequested = false
		e.saveSnapshot(e.scene)
	}
	if e.showPanel {
		e.drawPanel(screen)
	}
}

func (e *Engine) Layout(outsideWidth, outsideHeight int) (int, int) {
	return e.Width, e.Height
}

// Close stops auxiliary goroutines. The frame loop itself ends with
// ebiten.RunGame returning.
func (e *Engine) Close() {
	if e.audio != nil {
		e.audio.Shutdown()
	}
}

func compareNodeIDs(a, b NodeID) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Name, b.Name)
}

func sortEdgeKeys(keys []EdgeKey) {
	sort.Slice(keys, func(i, j int) bool {
		if c := compareNodeIDs(keys[i].From, keys[j].From); c != 0 {
			return c < 0
		}
		return compareNodeIDs(keys[i].To, keys[j].To) < 0
	})
}

func sortNodeIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool {
		return compareNodeIDs(ids[i], ids[j]) < 0
	})
}
