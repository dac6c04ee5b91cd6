package trojan

import (
	"strings"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

const (
	Scheme      = "trojan://"
	DefaultName = "Unnamed Trojan"
)

// Parse decodes trojan://password@server:port?params#name.
func Parse(raw string) (model.Trojan, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, Scheme) {
		return model.Trojan{}, uri.NewError("trojan", raw, "必须以 trojan:// 开头", nil)
	}

	body, name, err := uri.SplitFragment(strings.TrimPrefix(s, Scheme), DefaultName)
	if err != nil {
		return model.Trojan{}, uri.NewError("trojan", raw, "节点名称 URL 解码失败", err)
	}
	main, query := uri.SplitQuery(body)

	at := strings.LastIndexByte(main, '@')
	if at < 0 {
		return model.Trojan{}, uri.NewError("trojan", raw, "缺少 @ 分隔符", nil)
	}
	password, err := uri.Unescape(main[:at])
	if err != nil {
		return model.Trojan{}, uri.NewError("trojan", raw, "密码 URL 解码失败", err)
	}
	if password == "" {
		return model.Trojan{}, uri.NewError("trojan", raw, "密码不能为空", nil)
	}
	server, port, err := uri.ParseHostPort(main[at+1:])
	if err != nil {
		return model.Trojan{}, uri.NewError("trojan", raw, "服务器地址或端口不合法", err)
	}

	q := uri.ParseQuery(query)
	sni := q.Get("sni")
	if sni == "" {
		sni = q.Get("peer")
	}
	p := model.Trojan{
		Base:           model.Base{Name: name, Server: server, Port: port},
		Password:       password,
		SNI:            sni,
		SkipCertVerify: uri.Truthy(q.Get("allowInsecure")),
		ALPN:           uri.SplitList(q.Get("alpn")),
	}

	switch q.Get("type") {
	case "ws":
		p.Network = "ws"
		if path, host := q.Get("path"), q.Get("host"); path != "" || host != "" {
			p.WSOpts = &model.WSOptions{Path: uri.DecodePath(path)}
			if host != "" {
				p.WSOpts.Headers = map[string]string{"Host": host}
			}
		}
	case "grpc":
		p.Network = "grpc"
		if svc := q.Get("serviceName"); svc != "" {
			p.GRPCOpts = &model.GRPCOptions{ServiceName: svc}
		}
	}

	return p, nil
}
