// Package clashapi talks to a mihomo/Clash-compatible controller API: the
// /connections websocket stream plus the /proxies and /rules REST endpoints.
package clashapi

import (
	"strings"
	"time"
)

// ConnectionMetadata describes one endpoint pair of an active connection.
type ConnectionMetadata struct {
	Network         string `json:"network"`
	Type            string `json:"type"`
	SourceIP        string `json:"sourceIP"`
	DestinationIP   string `json:"destinationIP"`
	SourcePort      string `json:"sourcePort"`
	DestinationPort string `json:"destinationPort"`
	Host            string `json:"host"`
}

// Connection is a single active connection as reported by /connections.
// Upload/Download are cumulative byte counters; Chains lists the proxy hops
// leaf-first (final proxy at index 0).
type Connection struct {
	ID          string             `json:"id"`
	Metadata    ConnectionMetadata `json:"metadata"`
	Upload      int64              `json:"upload"`
	Download    int64              `json:"download"`
	Start       string             `json:"start"`
	Chains      []string           `json:"chains"`
	Rule        string             `json:"rule"`
	RulePayload string             `json:"rulePayload"`
}

// ConnectionsSnapshot is one /connections websocket message.
type ConnectionsSnapshot struct {
	DownloadTotal int64        `json:"downloadTotal"`
	UploadTotal   int64        `json:"uploadTotal"`
	Connections   []Connection `json:"connections"`
}

// Proxy is one entry of the /proxies registry. Now and All are only set for
// group types.
type Proxy struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Now  string   `json:"now,omitempty"`
	All  []string `json:"all,omitempty"`
}

// Rule is one routing rule from /rules, in evaluation order.
type Rule struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Proxy   string `json:"proxy"`
}

// ConnStats pairs a connection with its derived instantaneous rates in
// bytes per second.
type ConnStats struct {
	Connection
	UploadSpeed   float64
	DownloadSpeed float64
}

// TrafficSnapshot is what the feed hands to consumers once per stream
// message: every active connection with rates attached, plus global rates.
type TrafficSnapshot struct {
	At        time.Time
	Conns     []ConnStats
	TotalUp   float64
	TotalDown float64
}

// groupTypes are the /proxies entry types that act as selectable groups and
// therefore appear as hops inside connection chains.
var groupTypes = map[string]struct{}{
	"Selector":    {},
	"URLTest":     {},
	"Fallback":    {},
	"LoadBalance": {},
	"Relay":       {},
}

// GroupNames extracts the names of all proxy groups from a /proxies map.
func GroupNames(proxies map[string]Proxy) map[string]struct{} {
	groups := make(map[string]struct{})
	for name, p := range proxies {
		if _, ok := groupTypes[p.Type]; ok {
			groups[strings.TrimSpace(name)] = struct{}{}
		}
	}
	return groups
}
