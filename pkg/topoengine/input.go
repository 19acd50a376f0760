package topoengine

import (
	"math"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

const (
	minZoom  = 0.25
	maxZoom  = 4.0
	zoomStep = 1.12
	fitPad   = 60.0
)

func (e *Engine) handleInput(now time.Time) {
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
		e.showPanel = !e.showPanel
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyS) {
		e.snapRequested = true
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyM) && e.audio != nil {
		e.audio.TogglePause()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		e.anim.AnimateView(ViewTransform{Scale: 1}, now)
		e.userAdjusted = true
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF) {
		e.autoFit = !e.autoFit
		if e.autoFit {
			e.userAdjusted = false
			e.anim.AnimateView(e.fitTransform(), now)
		}
	}

	cx, cy := ebiten.CursorPosition()

	if _, wy := ebiten.Wheel(); wy != 0 {
		e.zoomAt(float64(cx), float64(cy), wy, now)
	}

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		e.dragging = true
		e.dragX, e.dragY = cx, cy
	}
	if e.dragging {
		if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
			if dx, dy := cx-e.dragX, cy-e.dragY; dx != 0 || dy != 0 {
				view := e.anim.View
				view.X += float64(dx)
				view.Y += float64(dy)
				// Drag is 1:1, never eased.
				e.anim.SetView(view)
				e.dragX, e.dragY = cx, cy
				e.userAdjusted = true
				e.sceneDirty = true
			}
		} else {
			e.dragging = false
		}
		// A pan in progress must not flip hover state underneath.
		return
	}

	e.updateHover(float64(cx), float64(cy))
}

// zoomAt applies a multiplicative zoom step anchored at the cursor: the
// graph point under (px,py) stays fixed while the scale changes.
func (e *Engine) zoomAt(px, py, wheel float64, now time.Time) {
	view := e.anim.View
	scale := view.Scale * math.Pow(zoomStep, wheel)
	if scale < minZoom {
		scale = minZoom
	}
	if scale > maxZoom {
		scale = maxZoom
	}
	if scale == view.Scale {
		return
	}
	factor := scale / view.Scale
	e.anim.AnimateView(ViewTransform{
		Scale: scale,
		X:     px - (px-view.X)*factor,
		Y:     py - (py-view.Y)*factor,
	}, now)
	e.userAdjusted = true
}

// updateHover hit-tests the cursor against the interpolated node boxes in
// screen space and refreshes the related set when the hovered node changes.
func (e *Engine) updateHover(px, py float64) {
	hit := NodeID{}
	found := false
	if e.graph != nil {
		scale := e.anim.View.Scale
		w, h := nodeWidth*scale, nodeHeight*scale
		for _, id := range e.nodeOrder {
			pos, ok := e.anim.Pos[id]
			if !ok {
				continue
			}
			x, y := e.toScreen(pos)
			if px >= x && px <= x+w && py >= y && py <= y+h {
				hit = id
				found = true
				break
			}
		}
	}
	if found == e.hoverActive && hit == e.hoverNode {
		return
	}
	e.hoverActive = found
	e.hoverNode = hit
	e.refreshHover()
	e.sceneDirty = true
}

// refreshHover recomputes the hover-related set: the union of the full node
// sequences of every path containing the hovered node, with the edges that
// touch the hovered node directly marked for the highlight tier. Visibility
// targets on the animator then ease everything else out.
func (e *Engine) refreshHover() {
	for k := range e.hoverNodes {
		delete(e.hoverNodes, k)
	}
	for k := range e.hoverEdges {
		delete(e.hoverEdges, k)
	}
	if e.graph == nil {
		return
	}

	if e.hoverActive {
		for _, p := range e.graph.Paths {
			onPath := false
			for _, id := range p.Nodes {
				if id == e.hoverNode {
					onPath = true
					break
				}
			}
			if !onPath {
				continue
			}
			for _, id := range p.Nodes {
				e.hoverNodes[id] = true
			}
			for _, seg := range p.Segments {
				tier := tierRelated
				if seg.From == e.hoverNode || seg.To == e.hoverNode {
					tier = tierTouched
				}
				if tier > e.hoverEdges[seg] {
					e.hoverEdges[seg] = tier
				}
			}
		}
	}

	fadedFraction := alphaFaded / alphaNormal
	for id := range e.graph.Nodes {
		target := 1.0
		if e.hoverActive && !e.hoverNodes[id] {
			target = fadedFraction
		}
		e.anim.SetNodeVisTarget(id, target)
	}
	for key := range e.graph.Edges {
		target := 1.0
		if e.hoverActive && e.hoverEdges[key] == tierFaded {
			target = fadedFraction
		}
		e.anim.SetEdgeVisTarget(key, target)
	}
}

// fitTransform computes the view that fits the whole graph in the viewport
// with padding, clamped to the zoom range and centered.
func (e *Engine) fitTransform() ViewTransform {
	if e.graphW <= 0 || e.graphH <= 0 {
		return ViewTransform{Scale: 1}
	}
	scale := math.Min(
		(float64(e.Width)-fitPad)/e.graphW,
		(float64(e.Height)-fitPad)/e.graphH,
	)
	if scale < minZoom {
		scale = minZoom
	}
	if scale > maxZoom {
		scale = maxZoom
	}
	return ViewTransform{
		Scale: scale,
		X:     (float64(e.Width) - e.graphW*scale) / 2,
		Y:     (float64(e.Height) - e.graphH*scale) / 2,
	}
}
