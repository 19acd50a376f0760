package clashapi

import (
	"net"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// RuleIndex answers two questions about a rule set: which rule steers
// traffic to a given proxy (used when attributing connection chains), and
// which rule a destination host/address would hit (used for display). Rule
// order is evaluation order; the earliest match wins.
type RuleIndex struct {
	rules   []Rule
	byProxy map[string]int

	domains  map[string]int
	suffixes map[string]int

	keywords   *ahocorasick.Matcher
	keywordIdx []int

	cidrs []cidrRule

	final int
}

type cidrRule struct {
	net *net.IPNet
	idx int
}

// NewRuleIndex builds lookup structures over rules as returned by /rules.
// Rule type names are accepted in both API form ("DomainSuffix") and config
// form ("DOMAIN-SUFFIX").
func NewRuleIndex(rules []Rule) *RuleIndex {
	idx := &RuleIndex{
		rules:    rules,
		byProxy:  make(map[string]int),
		domains:  make(map[string]int),
		suffixes: make(map[string]int),
		final:    -1,
	}

	var keywordDict []string
	for i, r := range rules {
		proxy := strings.TrimSpace(r.Proxy)
		if _, ok := idx.byProxy[proxy]; !ok && proxy != "" {
			idx.byProxy[proxy] = i
		}

		payload := strings.ToLower(strings.TrimSpace(r.Payload))
		switch normalizeRuleType(r.Type) {
		case "DOMAIN":
			if payload != "" {
				if _, ok := idx.domains[payload]; !ok {
					idx.domains[payload] = i
				}
			}
		case "DOMAINSUFFIX":
			if payload != "" {
				if _, ok := idx.suffixes[payload]; !ok {
					idx.suffixes[payload] = i
				}
			}
		case "DOMAINKEYWORD":
			if payload != "" {
				keywordDict = append(keywordDict, payload)
				idx.keywordIdx = append(idx.keywordIdx, i)
			}
		case "IPCIDR", "IPCIDR6":
			if _, ipNet, err := net.ParseCIDR(r.Payload); err == nil {
				idx.cidrs = append(idx.cidrs, cidrRule{net: ipNet, idx: i})
			}
		case "MATCH", "FINAL":
			if idx.final < 0 {
				idx.final = i
			}
		}
	}
	if len(keywordDict) > 0 {
		idx.keywords = ahocorasick.NewStringMatcher(keywordDict)
	}
	return idx
}

// ByProxy returns the first rule targeting the named proxy.
func (x *RuleIndex) ByProxy(name string) (Rule, bool) {
	i, ok := x.byProxy[strings.TrimSpace(name)]
	if !ok {
		return Rule{}, false
	}
	return x.rules[i], true
}

// MatchHost returns the earliest rule a domain name would hit, falling back
// to the MATCH rule when nothing more specific applies.
func (x *RuleIndex) MatchHost(host string) (Rule, bool) {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return x.fallback()
	}

	best := -1
	if i, ok := x.domains[host]; ok {
		best = i
	}

	// DOMAIN-SUFFIX matches whole labels only: "google.com" matches
	// "maps.google.com" and "google.com", not "notgoogle.com".
	for s := host; ; {
		if i, ok := x.suffixes[s]; ok && (best < 0 || i < best) {
			best = i
		}
		dot := strings.IndexByte(s, '.')
		if dot < 0 {
			break
		}
		s = s[dot+1:]
	}

	if x.keywords != nil {
		for _, hit := range x.keywords.MatchThreadSafe([]byte(host)) {
			if i := x.keywordIdx[hit]; best < 0 || i < best {
				best = i
			}
		}
	}

	if best < 0 {
		return x.fallback()
	}
	return x.rules[best], true
}

// MatchIP returns the earliest IP-CIDR rule containing the address.
func (x *RuleIndex) MatchIP(addr string) (Rule, bool) {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return x.fallback()
	}
	best := -1
	for _, c := range x.cidrs {
		if c.net.Contains(ip) && (best < 0 || c.idx < best) {
			best = c.idx
		}
	}
	if best < 0 {
		return x.fallback()
	}
	return x.rules[best], true
}

// Len reports the number of indexed rules.
func (x *RuleIndex) Len() int {
	return len(x.rules)
}

func (x *RuleIndex) fallback() (Rule, bool) {
	if x.final < 0 {
		return Rule{}, false
	}
	return x.rules[x.final], true
}

func normalizeRuleType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, "-", "")
	return strings.ReplaceAll(t, "_", "")
}
