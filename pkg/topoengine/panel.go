package topoengine

import (
	"image/color"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"github.com/kvollmer/topoflow/pkg/clashapi"
	"github.com/kvollmer/topoflow/pkg/utils"
)

const (
	panelBoxW     = 300.0
	panelMargin   = 20.0
	panelFontSize = 14.0
	panelRowCount = 6

	trendSamples = 120
)

type rateSample struct {
	Up, Down float64
}

// visualRow is one animated list entry; position and opacity ease toward
// targets reassigned on every refresh.
type visualRow struct {
	Name   string
	Tag    string
	Value  float64
	Y      float64
	TgtY   float64
	Alpha  float64
	TgtA   float64
	Active bool
}

type totalRow struct {
	Name   string
	Totals utils.TransferTotals
}

// panelState backs the overlay: global rate trend, animated top-proxy and
// top-destination rows, and the cached lifetime table. Only the game loop
// touches it.
type panelState struct {
	history []rateSample

	proxies map[string]*visualRow
	dests   map[string]*visualRow

	totals      []totalRow
	totalsAsOf  time.Time
	lastRefresh time.Time

	up, down float64
}

func newPanelState() *panelState {
	return &panelState{
		history: make([]rateSample, trendSamples),
		proxies: make(map[string]*visualRow),
		dests:   make(map[string]*visualRow),
	}
}

// observe folds one traffic snapshot into the panel: a trend sample, fresh
// row targets, and (occasionally) a reread of the lifetime table.
func (p *panelState) observe(snap *clashapi.TrafficSnapshot, e *Engine) {
	p.up, p.down = snap.TotalUp, snap.TotalDown
	p.history = append(p.history[1:], rateSample{Up: snap.TotalUp, Down: snap.TotalDown})

	if time.Since(p.lastRefresh) < time.Second {
		return
	}
	p.lastRefresh = time.Now()

	byProxy := make(map[string]float64)
	byDest := make(map[string]float64)
	destIP := make(map[string]string)
	for i := range snap.Conns {
		c := &snap.Conns[i]
		if len(c.Chains) > 0 {
			byProxy[c.Chains[0]] += c.UploadSpeed + c.DownloadSpeed
		}
		host := c.Metadata.Host
		if host == "" {
			host = c.Metadata.DestinationIP
		}
		if host != "" {
			byDest[host] += c.UploadSpeed + c.DownloadSpeed
			if destIP[host] == "" {
				destIP[host] = c.Metadata.DestinationIP
			}
		}
	}

	retargetRows(p.proxies, byProxy, nil)
	retargetRows(p.dests, byDest, func(name string) string {
		return destinationTag(e, name, destIP[name])
	})

	if e.store != nil && time.Since(p.totalsAsOf) > 5*time.Second {
		p.totalsAsOf = time.Now()
		var rows []totalRow
		err := e.store.ForEach(func(proxy string, t utils.TransferTotals) error {
			rows = append(rows, totalRow{Name: proxy, Totals: t})
			return nil
		})
		if err == nil {
			sort.Slice(rows, func(i, j int) bool { return rows[i].Totals.Total() > rows[j].Totals.Total() })
			if len(rows) > panelRowCount {
				rows = rows[:panelRowCount]
			}
			p.totals = rows
		}
	}
}

// destinationTag resolves a country tag for a destination: GeoIP when the
// address resolves, proxy-name tokens as a fallback for named hosts.
func destinationTag(e *Engine, host, ip string) string {
	if e.geo != nil && ip != "" {
		if iso, ok := e.geo.LookupCountry(ip); ok {
			if cc, ok := utils.CountryByISO(iso); ok {
				return cc.Emoji()
			}
		}
	}
	if cc, ok := utils.RegionForName(host); ok {
		return cc.Emoji()
	}
	return ""
}

// retargetRows reassigns row targets after a refresh: existing rows slide to
// their new slot, new rows fade in from below, stale rows fade out and are
// dropped once invisible.
func retargetRows(rows map[string]*visualRow, values map[string]float64, tag func(string) string) {
	type entry struct {
		name string
		val  float64
	}
	current := make([]entry, 0, len(values))
	for name, val := range values {
		current = append(current, entry{name, val})
	}
	sort.Slice(current, func(i, j int) bool {
		if current[i].val != current[j].val {
			return current[i].val > current[j].val
		}
		return current[i].name < current[j].name
	})
	if len(current) > panelRowCount {
		current = current[:panelRowCount]
	}

	for _, row := range rows {
		row.Active = false
		row.TgtA = 0
	}
	rowH := panelFontSize * 1.5
	for i, c := range current {
		targetY := float64(i) * rowH
		if row, ok := rows[c.name]; ok {
			row.Active = true
			row.TgtY = targetY
			row.TgtA = 1
			row.Value = c.val
			if tag != nil && row.Tag == "" {
				row.Tag = tag(c.name)
			}
			continue
		}
		row := &visualRow{
			Name:   c.name,
			Value:  c.val,
			Y:      float64(len(current)+1) * rowH,
			TgtY:   targetY,
			TgtA:   1,
			Active: true,
		}
		if tag != nil {
			row.Tag = tag(c.name)
		}
		rows[c.name] = row
	}
	for name, row := range rows {
		if !row.Active && row.Alpha < 0.02 {
			delete(rows, name)
		}
	}
}

func (p *panelState) step(dt float64) {
	stepRows(p.proxies)
	stepRows(p.dests)
}

func stepRows(rows map[string]*visualRow) {
	for name, row := range rows {
		row.Y += (row.TgtY - row.Y) * 0.1
		row.Alpha += (row.TgtA - row.Alpha) * 0.1
		if !row.Active && row.Alpha < 0.02 {
			delete(rows, name)
		}
	}
}

func (e *Engine) drawPanel(screen *ebiten.Image) {
	if e.fontSource == nil {
		return
	}
	p := e.panel
	face := &text.GoTextFace{Source: e.fontSource, Size: panelFontSize}
	mono := &text.GoTextFace{Source: e.monoSource, Size: panelFontSize}

	x := float64(e.Width) - panelMargin - panelBoxW
	y := panelMargin + panelFontSize + 10

	// Traffic box: current global rates plus the trendline.
	trendH := 60.0
	boxH := panelFontSize*4 + trendH + 20
	e.drawPanelBox(screen, x, y, boxH, "TRAFFIC", face)
	e.drawPanelLine(screen, mono, x, y+6, "▲ "+utils.FormatRate(p.up), ColorUpload, 0.9)
	e.drawPanelLine(screen, mono, x, y+6+panelFontSize*1.5, "▼ "+utils.FormatRate(p.down), ColorDownload, 0.9)
	e.drawTrend(screen, x, y+panelFontSize*3+10, panelBoxW-30, trendH)
	y += boxH + panelMargin

	// Animated top-proxy rows.
	rowsH := float64(panelRowCount)*panelFontSize*1.5 + 16
	e.drawPanelBox(screen, x, y, rowsH, "TOP PROXIES (rate)", face)
	e.drawRows(screen, face, mono, p.proxies, x, y+6, func(v float64) string {
		return utils.FormatRate(v)
	})
	y += rowsH + panelMargin

	if len(p.totals) > 0 {
		totH := float64(len(p.totals))*panelFontSize*1.5 + 16
		e.drawPanelBox(screen, x, y, totH, "LIFETIME TOTALS", face)
		for i, row := range p.totals {
			ry := y + 6 + float64(i)*panelFontSize*1.5
			e.drawPanelLine(screen, face, x, ry, truncatePanel(row.Name, 18), ColorText, 0.8)
			e.drawPanelValue(screen, mono, x, ry, utils.FormatBytes(row.Totals.Total()), 0.6)
		}
		y += totH + panelMargin
	}

	e.drawPanelBox(screen, x, y, rowsH, "TOP DESTINATIONS", face)
	e.drawRows(screen, face, mono, p.dests, x, y+6, func(v float64) string {
		return utils.FormatRate(v)
	})
	y += rowsH + panelMargin

	song, artist := e.nowPlaying()
	if song != "" {
		footH := panelFontSize*3 + 10
		e.drawPanelBox(screen, x, y, footH, "NOW PLAYING", face)
		e.drawPanelLine(screen, face, x, y+6, truncatePanel(song, 26), ColorText, 0.8)
		if artist != "" {
			e.drawPanelLine(screen, face, x, y+6+panelFontSize*1.4, truncatePanel(artist, 26), ColorText, 0.5)
		}
	}
}

// drawPanelBox draws the translucent section container with its 4 px accent
// bar and title, status-overlay style.
func (e *Engine) drawPanelBox(screen *ebiten.Image, x, y, h float64, title string, face *text.GoTextFace) {
	top := y - panelFontSize - 10
	vector.DrawFilledRect(screen, float32(x-10), float32(top), panelBoxW, float32(h+panelFontSize+10), ColorBoxFill, false)
	vector.StrokeRect(screen, float32(x-10), float32(top), panelBoxW, float32(h+panelFontSize+10), 1, ColorBoxStroke, false)
	vector.DrawFilledRect(screen, float32(x-10), float32(top), 4, float32(panelFontSize+10), ColorAccent, false)

	titleFace := &text.GoTextFace{Source: face.Source, Size: panelFontSize * 0.85}
	op := &text.DrawOptions{}
	op.GeoM.Translate(x+5, top+4)
	op.ColorScale.Scale(1, 1, 1, 0.5)
	text.Draw(screen, title, titleFace, op)
}

func (e *Engine) drawPanelLine(screen *ebiten.Image, face *text.GoTextFace, x, y float64, s string, col color.RGBA, alpha float32) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.ColorScale.Scale(float32(col.R)/255*alpha, float32(col.G)/255*alpha, float32(col.B)/255*alpha, alpha)
	text.Draw(screen, s, face, op)
}

func (e *Engine) drawPanelValue(screen *ebiten.Image, face *text.GoTextFace, x, y float64, s string, alpha float32) {
	tw, _ := text.Measure(s, face, 0)
	op := &text.DrawOptions{}
	op.GeoM.Translate(x+panelBoxW-tw-25, y)
	op.ColorScale.Scale(alpha, alpha, alpha, alpha)
	text.Draw(screen, s, face, op)
}

func (e *Engine) drawRows(screen *ebiten.Image, face, mono *text.GoTextFace, rows map[string]*visualRow, x, y float64, format func(float64) string) {
	ordered := make([]*visualRow, 0, len(rows))
	for _, row := range rows {
		ordered = append(ordered, row)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TgtY < ordered[j].TgtY })
	for _, row := range ordered {
		label := truncatePanel(row.Name, 18)
		if row.Tag != "" {
			label = row.Tag + " " + label
		}
		ry := y + row.Y
		alpha := float32(row.Alpha)
		op := &text.DrawOptions{}
		op.GeoM.Translate(x, ry)
		op.ColorScale.Scale(alpha*0.8, alpha*0.8, alpha*0.8, alpha*0.8)
		text.Draw(screen, label, face, op)
		e.drawPanelValue(screen, mono, x, ry, format(row.Value), alpha*0.6)
	}
}

// drawTrend renders the last trendSamples global rate samples as two
// log-scaled polylines sharing one vertical scale.
func (e *Engine) drawTrend(screen *ebiten.Image, x, y, w, h float64) {
	p := e.panel
	logVal := func(v float64) float64 {
		if v <= 0 {
			return 0
		}
		return math.Log10(v + 1)
	}
	maxLog := 1.0
	for _, s := range p.history {
		if l := logVal(s.Up); l > maxLog {
			maxLog = l
		}
		if l := logVal(s.Down); l > maxLog {
			maxLog = l
		}
	}
	drawLayer := func(pick func(rateSample) float64, col color.RGBA) {
		shade := scaleColor(col, 0.9)
		step := w / float64(trendSamples-1)
		for i := 0; i < len(p.history)-1; i++ {
			x1 := x + float64(i)*step
			x2 := x + float64(i+1)*step
			y1 := y + h - (logVal(pick(p.history[i]))/maxLog)*h
			y2 := y + h - (logVal(pick(p.history[i+1]))/maxLog)*h
			vector.StrokeLine(screen, float32(x1), float32(y1), float32(x2), float32(y2), 1.5, shade, false)
		}
	}
	drawLayer(func(s rateSample) float64 { return s.Up }, ColorUpload)
	drawLayer(func(s rateSample) float64 { return s.Down }, ColorDownload)
}

func truncatePanel(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	if cut < 1 {
		cut = 1
	}
	return strings.TrimSpace(s[:cut]) + "..."
}
