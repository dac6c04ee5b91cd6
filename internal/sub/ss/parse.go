package ss

import (
	"strings"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/b64"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

const (
	Scheme      = "ss://"
	DefaultName = "Unnamed SS"
)

// Parse decodes one ss:// URI.
//
// SIP002: ss://BASE64(cipher:password)@server:port[/?plugin=...]#name
// Legacy: ss://BASE64(cipher:password@server:port)#name
func Parse(raw string) (model.SS, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, Scheme) {
		return model.SS{}, uri.NewError("ss", raw, "必须以 ss:// 开头", nil)
	}

	body, name, err := uri.SplitFragment(strings.TrimPrefix(s, Scheme), DefaultName)
	if err != nil {
		return model.SS{}, uri.NewError("ss", raw, "节点名称 URL 解码失败", err)
	}
	if body == "" {
		return model.SS{}, uri.NewError("ss", raw, "ss:// 后缺少内容", nil)
	}

	var cipher, password, hostPort, query string
	if at := strings.LastIndex(body, "@"); at > 0 {
		userInfo := body[:at]
		hostPort, query = uri.SplitQuery(body[at+1:])

		cred, err := b64.Decode(userInfo)
		if err != nil {
			// Some providers percent-encode "cipher:password" instead.
			cred, err = uri.Unescape(userInfo)
			if err != nil {
				return model.SS{}, uri.NewError("ss", raw, "userinfo 既不是 base64 也不是合法的 URL 编码", err)
			}
		}
		cipher, password, err = splitCredential(cred)
		if err != nil {
			return model.SS{}, uri.NewError("ss", raw, err.Error(), nil)
		}
	} else {
		var encoded string
		encoded, query = uri.SplitQuery(body)
		encoded = strings.TrimSuffix(encoded, "/")

		decoded, err := b64.Decode(encoded)
		if err != nil {
			return model.SS{}, uri.NewError("ss", raw, "base64 解码失败", err)
		}
		at := strings.LastIndex(decoded, "@")
		if at < 0 {
			return model.SS{}, uri.NewError("ss", raw, "base64 解码结果缺少 @ 分隔符", nil)
		}
		cipher, password, err = splitCredential(decoded[:at])
		if err != nil {
			return model.SS{}, uri.NewError("ss", raw, err.Error(), nil)
		}
		hostPort = decoded[at+1:]
	}

	server, port, err := uri.ParseHostPort(hostPort)
	if err != nil {
		return model.SS{}, uri.NewError("ss", raw, "服务器地址或端口不合法", err)
	}

	plugin, opts := parsePlugin(uri.ParseQuery(query).Get("plugin"))

	return model.SS{
		Base:       model.Base{Name: name, Server: server, Port: port},
		Cipher:     cipher,
		Password:   password,
		UDP:        true,
		Plugin:     plugin,
		PluginOpts: opts,
	}, nil
}

type credentialError string

func (e credentialError) Error() string { return string(e) }

func splitCredential(s string) (cipher, password string, err error) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return "", "", credentialError("缺少 cipher:password 分隔符")
	}
	cipher = s[:colon]
	password = s[colon+1:]
	if cipher == "" || password == "" {
		return "", "", credentialError("cipher 或 password 不能为空")
	}
	if strings.ContainsAny(cipher, "\r\n\x00") || strings.ContainsAny(password, "\r\n\x00") {
		return "", "", credentialError("cipher 或 password 包含非法控制字符")
	}
	return cipher, password, nil
}

// parsePlugin maps a SIP003 plugin string ("name;k=v;flag") to the Clash
// plugin/plugin-opts pair.
func parsePlugin(v string) (string, map[string]any) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	segs := strings.Split(v, ";")
	name := strings.TrimSpace(segs[0])
	if name == "" {
		return "", nil
	}

	raw := make(map[string]string, len(segs)-1)
	for _, seg := range segs[1:] {
		k, val, ok := strings.Cut(seg, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if !ok {
			val = "true"
		}
		raw[k] = strings.TrimSpace(val)
	}

	switch name {
	case "simple-obfs", "obfs-local":
		opts := map[string]any{"mode": raw["obfs"]}
		if host := raw["obfs-host"]; host != "" {
			opts["host"] = host
		}
		return "obfs", opts
	case "v2ray-plugin":
		mode := raw["mode"]
		if mode == "" {
			mode = "websocket"
		}
		opts := map[string]any{"mode": mode}
		if host := raw["host"]; host != "" {
			opts["host"] = host
		}
		if path := raw["path"]; path != "" {
			opts["path"] = path
		}
		if _, ok := raw["tls"]; ok {
			opts["tls"] = true
		}
		return name, opts
	default:
		if len(raw) == 0 {
			return name, nil
		}
		opts := make(map[string]any, len(raw))
		for k, val := range raw {
			opts[k] = val
		}
		return name, opts
	}
}
