package topoengine

import "image/color"

// NodeKind classifies the four column families of the topology.
type NodeKind uint8

const (
	KindClient NodeKind = iota
	KindRule
	KindGroup
	KindProxy
)

func (k NodeKind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindRule:
		return "rule"
	case KindGroup:
		return "group"
	case KindProxy:
		return "proxy"
	}
	return "unknown"
}

var (
	ColorBackground = color.RGBA{30, 30, 46, 255}
	ColorBoxFill    = color.RGBA{0, 0, 0, 100}
	ColorBoxStroke  = color.RGBA{36, 42, 53, 255}
	ColorAccent     = color.RGBA{80, 250, 123, 255}

	ColorClient = color.RGBA{139, 233, 253, 255} // Cyan
	ColorRule   = color.RGBA{241, 250, 140, 255} // Yellow
	ColorGroup  = color.RGBA{189, 147, 249, 255} // Purple
	ColorProxy  = color.RGBA{80, 250, 123, 255}  // Green

	ColorEdge      = color.RGBA{98, 114, 164, 255}
	ColorHighlight = color.RGBA{255, 121, 198, 255} // Pink, edges touching the hovered node
	ColorUpload    = color.RGBA{255, 184, 108, 255} // Orange particles flowing out
	ColorDownload  = color.RGBA{139, 233, 253, 255} // Cyan particles flowing back
	ColorText      = color.RGBA{248, 248, 242, 255}
)

type nodeStyle struct {
	Fill   color.RGBA
	Stroke color.RGBA
}

// kindStyles is indexed by NodeKind; keep it in sync with the constants above.
var kindStyles = [4]nodeStyle{
	KindClient: {Fill: ColorClient, Stroke: ColorClient},
	KindRule:   {Fill: ColorRule, Stroke: ColorRule},
	KindGroup:  {Fill: ColorGroup, Stroke: ColorGroup},
	KindProxy:  {Fill: ColorProxy, Stroke: ColorProxy},
}

func styleFor(k NodeKind) nodeStyle {
	if int(k) < len(kindStyles) {
		return kindStyles[k]
	}
	return nodeStyle{Fill: ColorText, Stroke: ColorText}
}
