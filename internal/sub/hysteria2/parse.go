package hysteria2

import (
	"strings"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

const (
	Scheme      = "hysteria2://"
	ShortScheme = "hy2://"
	DefaultName = "Unnamed Hysteria2"
)

// Parse decodes hysteria2:// and hy2:// URIs. The password may sit in the
// authority or in the "password"/"auth" query parameters.
func Parse(raw string) (model.Hysteria2, error) {
	s := strings.TrimSpace(raw)
	var rest string
	switch {
	case strings.HasPrefix(s, Scheme):
		rest = strings.TrimPrefix(s, Scheme)
	case strings.HasPrefix(s, ShortScheme):
		rest = strings.TrimPrefix(s, ShortScheme)
	default:
		return model.Hysteria2{}, uri.NewError("hysteria2", raw, "必须以 hysteria2:// 或 hy2:// 开头", nil)
	}

	body, name, err := uri.SplitFragment(rest, DefaultName)
	if err != nil {
		return model.Hysteria2{}, uri.NewError("hysteria2", raw, "节点名称 URL 解码失败", err)
	}
	main, query := uri.SplitQuery(body)
	q := uri.ParseQuery(query)

	var password, hostPort string
	if at := strings.LastIndexByte(main, '@'); at >= 0 {
		password, err = uri.Unescape(main[:at])
		if err != nil {
			return model.Hysteria2{}, uri.NewError("hysteria2", raw, "密码 URL 解码失败", err)
		}
		hostPort = main[at+1:]
	} else {
		hostPort = main
	}
	if password == "" {
		password = q.Get("password")
	}
	if password == "" {
		password = q.Get("auth")
	}
	if password == "" {
		return model.Hysteria2{}, uri.NewError("hysteria2", raw, "缺少密码（userinfo、password 或 auth 参数）", nil)
	}

	server, port, err := uri.ParseHostPort(hostPort)
	if err != nil {
		return model.Hysteria2{}, uri.NewError("hysteria2", raw, "服务器地址或端口不合法", err)
	}

	p := model.Hysteria2{
		Base:           model.Base{Name: name, Server: server, Port: port},
		Password:       password,
		SNI:            q.Get("sni"),
		SkipCertVerify: uri.Truthy(q.Get("insecure")),
		ALPN:           uri.SplitList(q.Get("alpn")),
		Up:             q.Get("up"),
		Down:           q.Get("down"),
	}
	if obfs := q.Get("obfs"); obfs != "" {
		p.Obfs = obfs
		p.ObfsPassword = q.Get("obfs-password")
	}
	return p, nil
}
