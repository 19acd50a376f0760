package topoengine

import (
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

const (
	minEdgeWidth = 1.0
	maxEdgeWidth = 10.0

	// Hover opacity tiers.
	alphaNormal  = 0.8
	alphaFaded   = 0.15
	alphaTouched = 1.0

	maxLaneOffset = 10.0

	labelFontSize = 13.0
)

// edgeTier is the hover treatment of one edge.
type edgeTier uint8

const (
	tierFaded edgeTier = iota
	tierRelated
	tierTouched
)

func (e *Engine) toScreen(v Vec2) (float64, float64) {
	view := e.anim.View
	return v.X*view.Scale + view.X, v.Y*view.Scale + view.Y
}

// drawScene composes the full topology: edge channels first, particles on
// top of them, nodes last so they occlude channels passing underneath.
func (e *Engine) drawScene(dst *ebiten.Image) {
	dst.Fill(ColorBackground)
	if e.graph == nil {
		return
	}
	for _, key := range e.edgeOrder {
		e.drawEdge(dst, key)
	}
	e.drawParticles(dst)
	for _, id := range e.nodeOrder {
		if n, ok := e.graph.Nodes[id]; ok {
			e.drawNode(dst, n)
		}
	}
	for _, ghost := range e.anim.ghosts {
		e.drawNode(dst, ghost)
	}
}

// edgeGeometry resolves the current on-screen Bézier of an edge from the
// interpolated node positions: out of the source's right side, into the
// target's left side, with a horizontal S-curve in between.
func (e *Engine) edgeGeometry(key EdgeKey) (p0, c1, c2, p3 Vec2, ok bool) {
	from, okF := e.anim.Pos[key.From]
	to, okT := e.anim.Pos[key.To]
	if !okF || !okT {
		return
	}
	x0, y0 := e.toScreen(Vec2{X: from.X + nodeWidth, Y: from.Y + nodeHeight/2})
	x3, y3 := e.toScreen(Vec2{X: to.X, Y: to.Y + nodeHeight/2})
	dx := (x3 - x0) / 2
	p0 = Vec2{X: x0, Y: y0}
	c1 = Vec2{X: x0 + dx, Y: y0}
	c2 = Vec2{X: x3 - dx, Y: y3}
	p3 = Vec2{X: x3, Y: y3}
	return p0, c1, c2, p3, true
}

func bezierPoint(p0, c1, c2, p3 Vec2, t float64) Vec2 {
	u := 1 - t
	a := u * u * u
	b := 3 * u * u * t
	c := 3 * u * t * t
	d := t * t * t
	return Vec2{
		X: a*p0.X + b*c1.X + c*c2.X + d*p3.X,
		Y: a*p0.Y + b*c1.Y + c*c2.Y + d*p3.Y,
	}
}

// bezierNormal is the unit perpendicular of the curve tangent at t, used to
// push particle lanes off the channel centerline.
func bezierNormal(p0, c1, c2, p3 Vec2, t float64) Vec2 {
	u := 1 - t
	dx := 3*u*u*(c1.X-p0.X) + 6*u*t*(c2.X-c1.X) + 3*t*t*(p3.X-c2.X)
	dy := 3*u*u*(c1.Y-p0.Y) + 6*u*t*(c2.Y-c1.Y) + 3*t*t*(p3.Y-c2.Y)
	l := math.Hypot(dx, dy)
	if l == 0 {
		return Vec2{Y: 1}
	}
	return Vec2{X: -dy / l, Y: dx / l}
}

func (e *Engine) edgeThickness(key EdgeKey) float32 {
	traffic, ok := e.anim.Traffic[key]
	if !ok {
		return float32(minEdgeWidth * e.anim.View.Scale)
	}
	w := minEdgeWidth
	if e.graph.MaxWeight > 0 {
		w = minEdgeWidth + (maxEdgeWidth-minEdgeWidth)*(traffic.Total()/e.graph.MaxWeight)
	}
	if w > maxEdgeWidth {
		w = maxEdgeWidth
	}
	return float32(w * e.anim.View.Scale)
}

func (e *Engine) drawEdge(dst *ebiten.Image, key EdgeKey) {
	p0, c1, c2, p3, ok := e.edgeGeometry(key)
	if !ok {
		return
	}

	col := ColorEdge
	alpha := alphaNormal
	if e.hoverActive && e.hoverEdges[key] == tierTouched {
		col = ColorHighlight
		alpha = alphaTouched
	}
	// Hover fading arrives through the smoothed visibility values, so the
	// highlight eases in instead of snapping.
	alpha *= e.anim.EdgeAlpha(key)
	if alpha <= 0.01 {
		return
	}

	thickness := e.edgeThickness(key)
	shade := scaleColor(col, alpha)

	// The surface has no path stroking; sample the curve into a polyline,
	// with joint dots hiding the seams once the channel gets thick.
	const steps = 24
	prev := p0
	for i := 1; i <= steps; i++ {
		pt := bezierPoint(p0, c1, c2, p3, float64(i)/steps)
		vector.StrokeLine(dst, float32(prev.X), float32(prev.Y), float32(pt.X), float32(pt.Y), thickness, shade, true)
		if thickness > 2 && i < steps {
			vector.DrawFilledCircle(dst, float32(pt.X), float32(pt.Y), thickness/2, shade, true)
		}
		prev = pt
	}
}

func (e *Engine) drawParticles(dst *ebiten.Image) {
	if e.particleImage == nil {
		return
	}
	imgW := e.particleImage.Bounds().Dx()
	half := float64(imgW) / 2
	op := &ebiten.DrawImageOptions{}
	op.Blend = ebiten.BlendLighter

	for _, p := range e.particles.particles {
		if p.Seg < 0 || p.Seg >= len(p.Segments) {
			continue
		}
		key := p.Segments[p.Seg]
		p0, c1, c2, p3, ok := e.edgeGeometry(key)
		if !ok {
			continue
		}

		alpha := alphaNormal * e.anim.EdgeAlpha(key)
		if alpha <= 0.01 {
			continue
		}

		pos := bezierPoint(p0, c1, c2, p3, p.T)
		normal := bezierNormal(p0, c1, c2, p3, p.T)
		offset := float64(e.edgeThickness(key)) * 0.6
		if offset > maxLaneOffset {
			offset = maxLaneOffset
		}
		if p.Lane == LaneUp {
			offset = -offset
		}
		pos.X += normal.X * offset
		pos.Y += normal.Y * offset

		col := ColorUpload
		if p.Lane == LaneDown {
			col = ColorDownload
		}
		size := p.Size * e.anim.View.Scale
		scale := size / float64(imgW) * 2

		op.GeoM.Reset()
		op.GeoM.Translate(-half, -half)
		op.GeoM.Scale(scale, scale)
		op.GeoM.Translate(pos.X, pos.Y)
		r, g, b := float64(col.R)/255, float64(col.G)/255, float64(col.B)/255
		op.ColorScale.Reset()
		op.ColorScale.Scale(float32(r*alpha), float32(g*alpha), float32(b*alpha), float32(alpha))
		dst.DrawImage(e.particleImage, op)
	}
}

func (e *Engine) drawNode(dst *ebiten.Image, n *Node) {
	pos, ok := e.anim.Pos[n.ID]
	if !ok {
		return
	}
	alpha := e.anim.NodeAlpha(n.ID)
	if alpha <= 0.01 {
		return
	}

	scale := e.anim.View.Scale
	x, y := e.toScreen(pos)
	w := float32(nodeWidth * scale)
	h := float32(nodeHeight * scale)
	radius := float32(6 * scale)
	style := styleFor(n.ID.Kind)

	// Base layer matches the background so channels passing underneath
	// don't show through the translucent fill.
	drawRoundedRect(dst, float32(x), float32(y), w, h, radius, scaleColor(ColorBackground, alpha))
	drawRoundedRect(dst, float32(x), float32(y), w, h, radius, scaleColor(style.Fill, 0.18*alpha))
	strokeRoundedRect(dst, float32(x), float32(y), w, h, radius, float32(math.Max(1, scale)), scaleColor(style.Stroke, 0.9*alpha))

	dotR := float32(2.5 * scale)
	dotCol := scaleColor(style.Stroke, alpha)
	if e.hasIn[n.ID] {
		vector.DrawFilledCircle(dst, float32(x), float32(y)+h/2, dotR, dotCol, true)
	}
	if e.hasOut[n.ID] {
		vector.DrawFilledCircle(dst, float32(x)+w, float32(y)+h/2, dotR, dotCol, true)
	}

	if e.fontSource == nil {
		return
	}
	face := &text.GoTextFace{Source: e.fontSource, Size: labelFontSize * scale}
	label := truncateToWidth(n.Label, float64(w)-12*scale, func(s string) float64 {
		tw, _ := text.Measure(s, face, 0)
		return tw
	})
	tw, th := text.Measure(label, face, 0)
	top := &text.DrawOptions{}
	top.GeoM.Translate(x+(float64(w)-tw)/2, y+(float64(h)-th)/2)
	top.ColorScale.Scale(1, 1, 1, float32(alpha))
	text.Draw(dst, label, face, top)
}

// drawRoundedRect composes a rounded rectangle from body rects and corner
// circles; the vector package has no rounded-rect primitive.
func drawRoundedRect(dst *ebiten.Image, x, y, w, h, r float32, col color.RGBA) {
	if r > w/2 {
		r = w / 2
	}
	if r > h/2 {
		r = h / 2
	}
	vector.DrawFilledRect(dst, x+r, y, w-2*r, h, col, true)
	vector.DrawFilledRect(dst, x, y+r, r, h-2*r, col, true)
	vector.DrawFilledRect(dst, x+w-r, y+r, r, h-2*r, col, true)
	vector.DrawFilledCircle(dst, x+r, y+r, r, col, true)
	vector.DrawFilledCircle(dst, x+w-r, y+r, r, col, true)
	vector.DrawFilledCircle(dst, x+r, y+h-r, r, col, true)
	vector.DrawFilledCircle(dst, x+w-r, y+h-r, r, col, true)
}

func strokeRoundedRect(dst *ebiten.Image, x, y, w, h, r, width float32, col color.RGBA) {
	if r > w/2 {
		r = w / 2
	}
	if r > h/2 {
		r = h / 2
	}
	vector.StrokeLine(dst, x+r, y, x+w-r, y, width, col, true)
	vector.StrokeLine(dst, x+r, y+h, x+w-r, y+h, width, col, true)
	vector.StrokeLine(dst, x, y+r, x, y+h-r, width, col, true)
	vector.StrokeLine(dst, x+w, y+r, x+w, y+h-r, width, col, true)
	vector.StrokeCircle(dst, x+r, y+r, r, width, col, true)
	vector.StrokeCircle(dst, x+w-r, y+r, r, width, col, true)
	vector.StrokeCircle(dst, x+r, y+h-r, r, width, col, true)
	vector.StrokeCircle(dst, x+w-r, y+h-r, r, width, col, true)
}

func scaleColor(c color.RGBA, alpha float64) color.RGBA {
	if alpha >= 1 {
		return c
	}
	if alpha < 0 {
		alpha = 0
	}
	return color.RGBA{
		R: uint8(float64(c.R) * alpha),
		G: uint8(float64(c.G) * alpha),
		B: uint8(float64(c.B) * alpha),
		A: uint8(float64(c.A) * alpha),
	}
}

// truncateToWidth trims a label rune by rune until it fits, appending an
// ellipsis when anything was cut.
func truncateToWidth(s string, maxW float64, measure func(string) float64) string {
	if maxW <= 0 || measure(s) <= maxW {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if candidate := string(runes) + "…"; measure(candidate) <= maxW {
			return candidate
		}
	}
	return "…"
}

// initParticleTexture builds the soft-dot sprite all particles are drawn
// from: a radial falloff written straight into the pixel buffer.
func (e *Engine) initParticleTexture() {
	const size = 32
	e.particleImage = ebiten.NewImage(size, size)
	pixels := make([]byte, size*size*4)
	center := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			dist := math.Sqrt(dx*dx+dy*dy) / center
			if dist >= 1 {
				continue
			}
			val := math.Cos(dist * math.Pi / 2)
			a := uint8(val * val * 255)
			off := (y*size + x) * 4
			pixels[off], pixels[off+1], pixels[off+2], pixels[off+3] = a, a, a, a
		}
	}
	e.particleImage.WritePixels(pixels)
}
