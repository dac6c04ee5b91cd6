package model

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	GroupSelect   = "select"
	GroupURLTest  = "url-test"
	GroupFallback = "fallback"
)

type Group struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"` // select | url-test | fallback

	Members []string `yaml:"proxies" json:"proxies"` // proxy names / group names / DIRECT

	// probed types only
	TestURL     string `yaml:"url,omitempty" json:"url,omitempty"`
	IntervalSec int    `yaml:"interval,omitempty" json:"interval,omitempty"`
	ToleranceMS int    `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
}

type RuleProvider struct {
	Type     string `yaml:"type" json:"type"`
	Format   string `yaml:"format" json:"format"`
	Behavior string `yaml:"behavior" json:"behavior"`
	URL      string `yaml:"url" json:"url"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval" json:"interval"`
}

type FallbackFilter struct {
	GeoIP     bool   `yaml:"geoip" json:"geoip"`
	GeoIPCode string `yaml:"geoip-code" json:"geoip-code"`
}

type DNS struct {
	Enable         bool           `yaml:"enable" json:"enable"`
	EnhancedMode   string         `yaml:"enhanced-mode" json:"enhanced-mode"`
	FakeIPRange    string         `yaml:"fake-ip-range" json:"fake-ip-range"`
	Nameserver     []string       `yaml:"nameserver" json:"nameserver"`
	Fallback       []string       `yaml:"fallback" json:"fallback"`
	FallbackFilter FallbackFilter `yaml:"fallback-filter" json:"fallback-filter"`
}

// Settings is the fixed head of a generated document.
type Settings struct {
	MixedPort          int    `yaml:"mixed-port" json:"mixed-port"`
	AllowLAN           bool   `yaml:"allow-lan" json:"allow-lan"`
	Mode               string `yaml:"mode" json:"mode"`
	LogLevel           string `yaml:"log-level" json:"log-level"`
	ExternalController string `yaml:"external-controller" json:"external-controller"`
	DNS                DNS    `yaml:"dns" json:"dns"`
}

// Config is one generated document. It is built once per generation call and
// not modified afterwards.
type Config struct {
	Settings `yaml:",inline"`

	Proxies       []Proxy                                      `yaml:"proxies" json:"proxies"`
	ProxyGroups   []Group                                      `yaml:"proxy-groups" json:"proxy-groups"`
	RuleProviders *orderedmap.OrderedMap[string, RuleProvider] `yaml:"rule-providers" json:"rule-providers"`
	Rules         []string                                     `yaml:"rules" json:"rules"`
}
