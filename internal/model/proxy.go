package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type ProxyType string

const (
	TypeSS        ProxyType = "ss"
	TypeVMess     ProxyType = "vmess"
	TypeVLESS     ProxyType = "vless"
	TypeTrojan    ProxyType = "trojan"
	TypeHysteria2 ProxyType = "hysteria2"
	TypeTUIC      ProxyType = "tuic"
)

// Base holds the fields shared by every proxy variant.
type Base struct {
	// Name is the display label. It is not guaranteed to be unique.
	Name   string
	Server string
	Port   int

	// ForceResidential is set by a user override. It is an internal marker:
	// never rendered, cleared before a config is emitted.
	ForceResidential bool
}

// Proxy is one parsed node. Implementations are value types; WithCommon
// returns a modified copy and never touches the receiver.
type Proxy interface {
	Type() ProxyType
	Common() Base
	WithCommon(Base) Proxy
}

// ValidateBase enforces the invariant every producer must honor.
func ValidateBase(b Base) error {
	if strings.TrimSpace(b.Server) == "" {
		return errors.New("empty server")
	}
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("port out of range: %d", b.Port)
	}
	return nil
}

// Rename returns a copy of p carrying name.
func Rename(p Proxy, name string) Proxy {
	b := p.Common()
	b.Name = name
	return p.WithCommon(b)
}

// Override is the per-node edit a user can send back before generation.
type Override struct {
	CustomName  string `json:"customName,omitempty" yaml:"customName,omitempty"`
	Residential bool   `json:"isResidential,omitempty" yaml:"isResidential,omitempty"`
	Excluded    bool   `json:"excluded,omitempty" yaml:"excluded,omitempty"`
}

// ApplyOverride produces the overridden node. ok is false when the node is excluded.
func ApplyOverride(p Proxy, o *Override) (out Proxy, ok bool) {
	if o == nil {
		return p, true
	}
	if o.Excluded {
		return nil, false
	}
	b := p.Common()
	if o.CustomName != "" {
		b.Name = o.CustomName
	}
	if o.Residential {
		b.ForceResidential = true
	}
	return p.WithCommon(b), true
}

type WSOptions struct {
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

type GRPCOptions struct {
	ServiceName string `yaml:"grpc-service-name,omitempty" json:"grpc-service-name,omitempty"`
}

type H2Options struct {
	Host []string `yaml:"host,omitempty" json:"host,omitempty"`
	Path string   `yaml:"path,omitempty" json:"path,omitempty"`
}

type RealityOptions struct {
	PublicKey string `yaml:"public-key" json:"public-key"`
	ShortID   string `yaml:"short-id,omitempty" json:"short-id,omitempty"`
}

type SS struct {
	Base `yaml:"-" json:"-"`

	Cipher     string         `yaml:"cipher" json:"cipher"`
	Password   string         `yaml:"password" json:"password"`
	UDP        bool           `yaml:"udp,omitempty" json:"udp,omitempty"`
	Plugin     string         `yaml:"plugin,omitempty" json:"plugin,omitempty"`
	PluginOpts map[string]any `yaml:"plugin-opts,omitempty" json:"plugin-opts,omitempty"`
}

type VMess struct {
	Base `yaml:"-" json:"-"`

	UUID           string       `yaml:"uuid" json:"uuid"`
	AlterID        int          `yaml:"alterId" json:"alterId"`
	Cipher         string       `yaml:"cipher" json:"cipher"`
	TLS            bool         `yaml:"tls,omitempty" json:"tls,omitempty"`
	SkipCertVerify bool         `yaml:"skip-cert-verify,omitempty" json:"skip-cert-verify,omitempty"`
	ServerName     string       `yaml:"servername,omitempty" json:"servername,omitempty"`
	Network        string       `yaml:"network,omitempty" json:"network,omitempty"`
	WSOpts         *WSOptions   `yaml:"ws-opts,omitempty" json:"ws-opts,omitempty"`
	GRPCOpts       *GRPCOptions `yaml:"grpc-opts,omitempty" json:"grpc-opts,omitempty"`
	H2Opts         *H2Options   `yaml:"h2-opts,omitempty" json:"h2-opts,omitempty"`
}

type VLESS struct {
	Base `yaml:"-" json:"-"`

	UUID              string          `yaml:"uuid" json:"uuid"`
	Flow              string          `yaml:"flow,omitempty" json:"flow,omitempty"`
	TLS               bool            `yaml:"tls,omitempty" json:"tls,omitempty"`
	ServerName        string          `yaml:"servername,omitempty" json:"servername,omitempty"`
	ClientFingerprint string          `yaml:"client-fingerprint,omitempty" json:"client-fingerprint,omitempty"`
	SkipCertVerify    bool            `yaml:"skip-cert-verify,omitempty" json:"skip-cert-verify,omitempty"`
	Network           string          `yaml:"network,omitempty" json:"network,omitempty"`
	RealityOpts       *RealityOptions `yaml:"reality-opts,omitempty" json:"reality-opts,omitempty"`
	WSOpts            *WSOptions      `yaml:"ws-opts,omitempty" json:"ws-opts,omitempty"`
	GRPCOpts          *GRPCOptions    `yaml:"grpc-opts,omitempty" json:"grpc-opts,omitempty"`
}

type Trojan struct {
	Base `yaml:"-" json:"-"`

	Password       string       `yaml:"password" json:"password"`
	SNI            string       `yaml:"sni,omitempty" json:"sni,omitempty"`
	SkipCertVerify bool         `yaml:"skip-cert-verify,omitempty" json:"skip-cert-verify,omitempty"`
	ALPN           []string     `yaml:"alpn,omitempty" json:"alpn,omitempty"`
	Network        string       `yaml:"network,omitempty" json:"network,omitempty"`
	WSOpts         *WSOptions   `yaml:"ws-opts,omitempty" json:"ws-opts,omitempty"`
	GRPCOpts       *GRPCOptions `yaml:"grpc-opts,omitempty" json:"grpc-opts,omitempty"`
}

type Hysteria2 struct {
	Base `yaml:"-" json:"-"`

	Password       string   `yaml:"password" json:"password"`
	SNI            string   `yaml:"sni,omitempty" json:"sni,omitempty"`
	SkipCertVerify bool     `yaml:"skip-cert-verify,omitempty" json:"skip-cert-verify,omitempty"`
	Obfs           string   `yaml:"obfs,omitempty" json:"obfs,omitempty"`
	ObfsPassword   string   `yaml:"obfs-password,omitempty" json:"obfs-password,omitempty"`
	ALPN           []string `yaml:"alpn,omitempty" json:"alpn,omitempty"`
	Up             string   `yaml:"up,omitempty" json:"up,omitempty"`
	Down           string   `yaml:"down,omitempty" json:"down,omitempty"`
}

type TUIC struct {
	Base `yaml:"-" json:"-"`

	UUID                 string   `yaml:"uuid" json:"uuid"`
	Password             string   `yaml:"password" json:"password"`
	SNI                  string   `yaml:"sni,omitempty" json:"sni,omitempty"`
	CongestionController string   `yaml:"congestion-controller,omitempty" json:"congestion-controller,omitempty"`
	ReduceRTT            bool     `yaml:"reduce-rtt,omitempty" json:"reduce-rtt,omitempty"`
	SkipCertVerify       bool     `yaml:"skip-cert-verify,omitempty" json:"skip-cert-verify,omitempty"`
	ALPN                 []string `yaml:"alpn,omitempty" json:"alpn,omitempty"`
}

func (p SS) Type() ProxyType        { return TypeSS }
func (p VMess) Type() ProxyType     { return TypeVMess }
func (p VLESS) Type() ProxyType     { return TypeVLESS }
func (p Trojan) Type() ProxyType    { return TypeTrojan }
func (p Hysteria2) Type() ProxyType { return TypeHysteria2 }
func (p TUIC) Type() ProxyType      { return TypeTUIC }

func (p SS) Common() Base        { return p.Base }
func (p VMess) Common() Base     { return p.Base }
func (p VLESS) Common() Base     { return p.Base }
func (p Trojan) Common() Base    { return p.Base }
func (p Hysteria2) Common() Base { return p.Base }
func (p TUIC) Common() Base      { return p.Base }

func (p SS) WithCommon(b Base) Proxy        { p.Base = b; return p }
func (p VMess) WithCommon(b Base) Proxy     { p.Base = b; return p }
func (p VLESS) WithCommon(b Base) Proxy     { p.Base = b; return p }
func (p Trojan) WithCommon(b Base) Proxy    { p.Base = b; return p }
func (p Hysteria2) WithCommon(b Base) Proxy { p.Base = b; return p }
func (p TUIC) WithCommon(b Base) Proxy      { p.Base = b; return p }

// Marshalers put the shared header (name, type, server, port) first and then
// the variant fields in declaration order. The local "fields" type drops the
// methods so encoding does not recurse.

func (p SS) MarshalYAML() (any, error) {
	type fields SS
	return encodeYAML(p.Base, TypeSS, fields(p))
}

func (p VMess) MarshalYAML() (any, error) {
	type fields VMess
	return encodeYAML(p.Base, TypeVMess, fields(p))
}

func (p VLESS) MarshalYAML() (any, error) {
	type fields VLESS
	return encodeYAML(p.Base, TypeVLESS, fields(p))
}

func (p Trojan) MarshalYAML() (any, error) {
	type fields Trojan
	return encodeYAML(p.Base, TypeTrojan, fields(p))
}

func (p Hysteria2) MarshalYAML() (any, error) {
	type fields Hysteria2
	return encodeYAML(p.Base, TypeHysteria2, fields(p))
}

func (p TUIC) MarshalYAML() (any, error) {
	type fields TUIC
	return encodeYAML(p.Base, TypeTUIC, fields(p))
}

func (p SS) MarshalJSON() ([]byte, error) {
	type fields SS
	return encodeJSON(p.Base, TypeSS, fields(p))
}

func (p VMess) MarshalJSON() ([]byte, error) {
	type fields VMess
	return encodeJSON(p.Base, TypeVMess, fields(p))
}

func (p VLESS) MarshalJSON() ([]byte, error) {
	type fields VLESS
	return encodeJSON(p.Base, TypeVLESS, fields(p))
}

func (p Trojan) MarshalJSON() ([]byte, error) {
	type fields Trojan
	return encodeJSON(p.Base, TypeTrojan, fields(p))
}

func (p Hysteria2) MarshalJSON() ([]byte, error) {
	type fields Hysteria2
	return encodeJSON(p.Base, TypeHysteria2, fields(p))
}

func (p TUIC) MarshalJSON() ([]byte, error) {
	type fields TUIC
	return encodeJSON(p.Base, TypeTUIC, fields(p))
}

type header struct {
	Name   string    `yaml:"name" json:"name"`
	Type   ProxyType `yaml:"type" json:"type"`
	Server string    `yaml:"server" json:"server"`
	Port   int       `yaml:"port" json:"port"`
}

func encodeYAML(b Base, t ProxyType, body any) (any, error) {
	var head yaml.Node
	if err := head.Encode(header{Name: b.Name, Type: t, Server: b.Server, Port: b.Port}); err != nil {
		return nil, err
	}
	var rest yaml.Node
	if err := rest.Encode(body); err != nil {
		return nil, err
	}
	if rest.Kind == yaml.MappingNode {
		head.Content = append(head.Content, rest.Content...)
	}
	return &head, nil
}

func encodeJSON(b Base, t ProxyType, body any) ([]byte, error) {
	head, err := json.Marshal(header{Name: b.Name, Type: t, Server: b.Server, Port: b.Port})
	if err != nil {
		return nil, err
	}
	rest, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if len(rest) <= 2 {
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(rest))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, rest[1:]...)
	return out, nil
}
