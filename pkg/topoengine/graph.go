package topoengine

import (
	"strings"

	"github.com/kvollmer/topoflow/pkg/clashapi"
)

// InnerClientName is the canonical identity for connections that report no
// source address (requests originating inside the proxy client itself).
const InnerClientName = "Inner"

// NodeID is the stable identity of a topology node. Two rebuilds that see
// the same underlying entity produce the same NodeID, which is what lets
// positions interpolate instead of nodes popping in and out.
type NodeID struct {
	Kind NodeKind
	Name string
}

type Node struct {
	ID    NodeID
	Label string
	Layer int
	X, Y  float64

	// Aggregates, maintained for client nodes only.
	Conns int
	Up    float64
	Down  float64
}

// EdgeKey identifies one directed hop between two nodes.
type EdgeKey struct {
	From NodeID
	To   NodeID
}

// Edge carries the summed transfer rates of every connection currently
// traversing this exact hop.
type Edge struct {
	Key  EdgeKey
	Up   float64
	Down float64
}

func (e *Edge) Total() float64 {
	return e.Up + e.Down
}

// Path is the full client-to-proxy route of one or more connections. The
// particle system moves particles along whole paths so a viewer can follow a
// single flow across chained edges.
type Path struct {
	Key      string
	Nodes    []NodeID
	Segments []EdgeKey

	// Normalized traffic intensities in [0,1].
	UpIntensity   float64
	DownIntensity float64
}

// Graph is one immutable snapshot of the topology, rebuilt from scratch on
// every traffic update. MaxWeight is the largest total edge weight, used to
// normalize channel thickness.
type Graph struct {
	Nodes     map[NodeID]*Node
	Edges     map[EdgeKey]*Edge
	Paths     map[string]*Path
	MaxWeight float64
}

// ClientResolver maps a source IP to a display label. An empty return keeps
// the IP itself.
type ClientResolver func(ip string) string

// BuildGraph derives the raw topology from the current connection set. Rules
// may be nil (every rule node falls back to the connection's own reported
// rule). Malformed connections degrade to fallback identities; empty chains
// are skipped.
func BuildGraph(conns []clashapi.ConnStats, rules *clashapi.RuleIndex, groups map[string]struct{}, resolve ClientResolver) *Graph {
	g := &Graph{
		Nodes: make(map[NodeID]*Node),
		Edges: make(map[EdgeKey]*Edge),
		Paths: make(map[string]*Path),
	}

	// First pass: global per-direction speed maxima for intensity
	// normalization, and the deepest group run, which fixes the shared
	// proxy column.
	var maxUp, maxDown float64
	maxRun := 0
	for i := range conns {
		c := &conns[i]
		if len(c.Chains) == 0 {
			continue
		}
		if c.UploadSpeed > maxUp {
			maxUp = c.UploadSpeed
		}
		if c.DownloadSpeed > maxDown {
			maxDown = c.DownloadSpeed
		}
		if run := groupRunLength(c.Chains, groups); run > maxRun {
			maxRun = run
		}
	}
	proxyLayer := 2 + maxRun

	for i := range conns {
		c := &conns[i]
		if len(c.Chains) == 0 {
			continue
		}

		client := g.ensureClient(c.Metadata.SourceIP, resolve)
		client.Conns++
		client.Up += c.UploadSpeed
		client.Down += c.DownloadSpeed

		// Chains are stored leaf-first; walk them root-to-leaf.
		rev := reversed(c.Chains)

		rule := g.ensureRule(rev[0], c, rules)
		pathNodes := []NodeID{client.ID, rule.ID}
		var segments []EdgeKey
		intact := true
		if key, ok := g.addEdge(client.ID, rule.ID, c.UploadSpeed, c.DownloadSpeed); ok {
			segments = append(segments, key)
		} else {
			intact = false
		}

		prev := rule
		idx := 0
		for idx < len(rev) {
			name := strings.TrimSpace(rev[idx])
			if _, ok := groups[name]; !ok {
				break
			}
			group := g.ensure(NodeID{Kind: KindGroup, Name: name}, name, 2+idx)
			if key, ok := g.addEdge(prev.ID, group.ID, c.UploadSpeed, c.DownloadSpeed); ok {
				segments = append(segments, key)
			} else {
				intact = false
			}
			pathNodes = append(pathNodes, group.ID)
			prev = group
			idx++
		}

		leafName := strings.TrimSpace(rev[len(rev)-1])
		if idx < len(rev) {
			leafName = strings.TrimSpace(rev[idx])
		}
		proxy := g.ensure(NodeID{Kind: KindProxy, Name: leafName}, leafName, proxyLayer)
		if key, ok := g.addEdge(prev.ID, proxy.ID, c.UploadSpeed, c.DownloadSpeed); ok {
			segments = append(segments, key)
		} else {
			intact = false
		}
		pathNodes = append(pathNodes, proxy.ID)

		if !intact {
			continue
		}
		p := g.ensurePath(pathNodes, segments)
		if maxUp > 0 {
			p.UpIntensity += c.UploadSpeed / maxUp
		}
		if maxDown > 0 {
			p.DownIntensity += c.DownloadSpeed / maxDown
		}
	}

	for _, p := range g.Paths {
		if p.UpIntensity > 1 {
			p.UpIntensity = 1
		}
		if p.DownIntensity > 1 {
			p.DownIntensity = 1
		}
	}
	for _, e := range g.Edges {
		if w := e.Total(); w > g.MaxWeight {
			g.MaxWeight = w
		}
	}
	return g
}

func (g *Graph) ensure(id NodeID, label string, layer int) *Node {
	if n, ok := g.Nodes[id]; ok {
		return n
	}
	n := &Node{ID: id, Label: label, Layer: layer}
	g.Nodes[id] = n
	return n
}

func (g *Graph) ensureClient(ip string, resolve ClientResolver) *Node {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return g.ensure(NodeID{Kind: KindClient, Name: InnerClientName}, InnerClientName, 0)
	}
	label := ip
	if resolve != nil {
		if alias := resolve(ip); alias != "" {
			label = alias
		}
	}
	return g.ensure(NodeID{Kind: KindClient, Name: ip}, label, 0)
}

// ensureRule resolves the rule node for a connection: the root hop looked up
// in the rule index when possible, otherwise the connection's own reported
// rule and payload.
func (g *Graph) ensureRule(rootHop string, c *clashapi.ConnStats, rules *clashapi.RuleIndex) *Node {
	if rules != nil {
		if r, ok := rules.ByProxy(strings.TrimSpace(rootHop)); ok {
			id := NodeID{Kind: KindRule, Name: r.Type + "|" + r.Payload + "|" + r.Proxy}
			return g.ensure(id, ruleLabel(r.Type, r.Payload), 1)
		}
	}
	id := NodeID{Kind: KindRule, Name: c.Rule + "|" + c.RulePayload + "|"}
	return g.ensure(id, ruleLabel(c.Rule, c.RulePayload), 1)
}

func ruleLabel(typ, payload string) string {
	typ = strings.TrimSpace(typ)
	payload = strings.TrimSpace(payload)
	switch {
	case payload == "" && typ == "":
		return "MATCH"
	case payload == "":
		return typ
	default:
		return payload
	}
}

// addEdge accumulates traffic onto the (from,to) edge, creating it on first
// use. Edges must connect strictly increasing layers; a violating edge is
// dropped and reported as not ok.
func (g *Graph) addEdge(from, to NodeID, up, down float64) (EdgeKey, bool) {
	key := EdgeKey{From: from, To: to}
	src, okSrc := g.Nodes[from]
	dst, okDst := g.Nodes[to]
	if !okSrc || !okDst || dst.Layer <= src.Layer {
		return key, false
	}
	e, ok := g.Edges[key]
	if !ok {
		e = &Edge{Key: key}
		g.Edges[key] = e
	}
	e.Up += up
	e.Down += down
	return key, true
}

func (g *Graph) ensurePath(nodes []NodeID, segments []EdgeKey) *Path {
	var b strings.Builder
	for i, id := range nodes {
		if i > 0 {
			b.WriteByte('>')
		}
		b.WriteString(id.Kind.String())
		b.WriteByte(':')
		b.WriteString(id.Name)
	}
	key := b.String()
	if p, ok := g.Paths[key]; ok {
		return p
	}
	p := &Path{Key: key, Nodes: nodes, Segments: segments}
	g.Paths[key] = p
	return p
}

// groupRunLength counts the consecutive known-group hops at the start of the
// reversed chain.
func groupRunLength(chains []string, groups map[string]struct{}) int {
	run := 0
	for i := len(chains) - 1; i >= 0; i-- {
		if _, ok := groups[strings.TrimSpace(chains[i])]; !ok {
			break
		}
		run++
	}
	return run
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
