// Package clash pulls proxy entries out of an embedded Clash/Mihomo YAML
// document.
package clash

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

// IsConfig reports whether content looks like a Clash document rather than
// a line-oriented URI list.
func IsConfig(content string) bool {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "proxies:") || strings.Contains(s, "\nproxies:") {
		return true
	}
	if strings.Contains(s, "proxy-groups:") {
		return true
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "mixed-port:") || strings.HasPrefix(line, "port:") {
			return true
		}
	}
	return false
}

// Extract decodes every proxy entry of a Clash document. A broken document
// is one fatal error; a broken entry is reported and skipped.
func Extract(content, prefix string) ([]model.Proxy, []*uri.ParseError, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, nil, configError("YAML 解析失败", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil, configError("YAML 顶层必须是映射", nil)
	}
	list := lookup(doc.Content[0], "proxies")
	if list == nil || list.Kind != yaml.SequenceNode {
		return nil, nil, configError("配置中未找到 proxies 列表", nil)
	}

	var (
		nodes []model.Proxy
		errs  []*uri.ParseError
	)
	for _, entry := range list.Content {
		p, ok, err := DecodeProxy(entry)
		if err != nil {
			errs = append(errs, entryError(entry, err))
			continue
		}
		if !ok {
			continue
		}
		if prefix != "" {
			p = model.Rename(p, prefix+" "+p.Common().Name)
		}
		nodes = append(nodes, p)
	}
	return nodes, errs, nil
}

type header struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Server string `yaml:"server"`
	Port   string `yaml:"port"`
}

var errSkip = errors.New("skip")

// DecodeProxy converts one Clash proxy mapping into a node. ok is false for
// entries that are skipped by policy: an incomplete header or an unknown type.
func DecodeProxy(n *yaml.Node) (p model.Proxy, ok bool, err error) {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, false, nil
	}
	var h header
	if err := n.Decode(&h); err != nil {
		return nil, false, nil
	}
	if h.Name == "" || h.Type == "" || h.Server == "" || h.Port == "" || h.Port == "0" {
		return nil, false, nil
	}
	port, err := uri.ParsePort(h.Port)
	if err != nil {
		return nil, false, err
	}
	base := model.Base{Name: h.Name, Server: h.Server, Port: port}
	if err := model.ValidateBase(base); err != nil {
		return nil, false, err
	}

	p, err = decodeVariant(model.ProxyType(strings.ToLower(h.Type)), n, base)
	if errors.Is(err, errSkip) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func decodeVariant(t model.ProxyType, n *yaml.Node, base model.Base) (model.Proxy, error) {
	switch t {
	case model.TypeSS:
		var v model.SS
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		if v.Cipher == "" {
			v.Cipher = "aes-256-gcm"
		}
		if v.Password == "" {
			return nil, missing("password")
		}
		v.Base = base
		return v, nil
	case model.TypeVMess:
		var v model.VMess
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		if v.Cipher == "" {
			v.Cipher = "auto"
		}
		if v.UUID == "" {
			return nil, missing("uuid")
		}
		v.Base = base
		return v, nil
	case model.TypeVLESS:
		var v model.VLESS
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		if v.UUID == "" {
			return nil, missing("uuid")
		}
		v.Base = base
		return v, nil
	case model.TypeTrojan:
		var v model.Trojan
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		if v.Password == "" {
			return nil, missing("password")
		}
		v.Base = base
		return v, nil
	case model.TypeHysteria2:
		var v struct {
			model.Hysteria2 `yaml:",inline"`
			Auth            string `yaml:"auth"`
		}
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		out := v.Hysteria2
		if out.Password == "" {
			out.Password = v.Auth
		}
		if out.Password == "" {
			return nil, missing("password")
		}
		out.Base = base
		return out, nil
	case model.TypeTUIC:
		var v model.TUIC
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		if v.UUID == "" {
			return nil, missing("uuid")
		}
		if v.Password == "" {
			return nil, missing("password")
		}
		v.Base = base
		return v, nil
	default:
		return nil, errSkip
	}
}

func missing(field string) error {
	return fmt.Errorf("missing %s", field)
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func configError(message string, cause error) error {
	return &uri.ParseError{
		AppError: model.AppError{
			Code:    uri.CodeConfig,
			Message: "clash: " + message,
			Stage:   uri.Stage,
		},
		Cause: cause,
	}
}

func entryError(n *yaml.Node, cause error) *uri.ParseError {
	name := ""
	if v := lookup(n, "name"); v != nil {
		name = v.Value
	}
	return &uri.ParseError{
		AppError: model.AppError{
			Code:    uri.CodeParse,
			Message: fmt.Sprintf("clash: proxy %s 转换失败", strconv.Quote(name)),
			Stage:   uri.Stage,
			Snippet: uri.Excerpt(name, uri.SnippetLen),
		},
		Cause: cause,
	}
}
