package vless

import (
	"strings"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

const (
	Scheme      = "vless://"
	DefaultName = "Unnamed VLESS"
)

// Parse decodes vless://uuid@server:port?params#name.
func Parse(raw string) (model.VLESS, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, Scheme) {
		return model.VLESS{}, uri.NewError("vless", raw, "必须以 vless:// 开头", nil)
	}

	body, name, err := uri.SplitFragment(strings.TrimPrefix(s, Scheme), DefaultName)
	if err != nil {
		return model.VLESS{}, uri.NewError("vless", raw, "节点名称 URL 解码失败", err)
	}
	main, query := uri.SplitQuery(body)

	at := strings.IndexByte(main, '@')
	if at < 0 {
		return model.VLESS{}, uri.NewError("vless", raw, "缺少 @ 分隔符", nil)
	}
	id := main[:at]
	if id == "" {
		return model.VLESS{}, uri.NewError("vless", raw, "uuid 不能为空", nil)
	}
	server, port, err := uri.ParseHostPort(main[at+1:])
	if err != nil {
		return model.VLESS{}, uri.NewError("vless", raw, "服务器地址或端口不合法", err)
	}

	q := uri.ParseQuery(query)
	p := model.VLESS{
		Base: model.Base{Name: name, Server: server, Port: port},
		UUID: id,
		Flow: q.Get("flow"),
	}

	switch security := q.Get("security"); security {
	case "tls", "reality":
		p.TLS = true
		p.ServerName = q.Get("sni")
		p.ClientFingerprint = q.Get("fp")
		p.SkipCertVerify = uri.Truthy(q.Get("allowInsecure"))
		// reality-opts needs a public key; without one the node stays plain TLS.
		if pbk := q.Get("pbk"); security == "reality" && pbk != "" {
			p.RealityOpts = &model.RealityOptions{PublicKey: pbk, ShortID: q.Get("sid")}
		}
	}

	network := q.Get("type")
	if network == "" {
		network = "tcp"
	}
	if network != "tcp" {
		p.Network = network
	}
	switch network {
	case "ws":
		path, host := q.Get("path"), q.Get("host")
		if path != "" || host != "" {
			p.WSOpts = &model.WSOptions{Path: uri.DecodePath(path)}
			if host != "" {
				p.WSOpts.Headers = map[string]string{"Host": host}
			}
		}
	case "grpc":
		if svc := q.Get("serviceName"); svc != "" {
			p.GRPCOpts = &model.GRPCOptions{ServiceName: svc}
		}
	}

	return p, nil
}
