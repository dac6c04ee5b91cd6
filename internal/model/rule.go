package model

import "strings"

type Rule struct {
	Type      string // e.g. "DOMAIN-SUFFIX", "IP-CIDR", "RULE-SET", "MATCH"
	Value     string // domain/suffix/keyword/cidr/cc/provider
	Action    string // DIRECT/REJECT/group name
	NoResolve bool   // IP-CIDR/IP-CIDR6/GEOIP only
}

// String renders the rule in Clash syntax.
func (r Rule) String() string {
	if r.Type == "MATCH" {
		return "MATCH," + r.Action
	}
	var b strings.Builder
	b.WriteString(r.Type)
	b.WriteByte(',')
	b.WriteString(r.Value)
	b.WriteByte(',')
	b.WriteString(r.Action)
	if r.NoResolve {
		b.WriteString(",no-resolve")
	}
	return b.String()
}
