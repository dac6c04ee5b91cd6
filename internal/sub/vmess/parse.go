package vmess

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/b64"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

const (
	Scheme      = "vmess://"
	DefaultName = "Unnamed VMess"
)

// share is the v2rayN share-link JSON body.
type share struct {
	PS   string  `json:"ps"`
	Add  string  `json:"add"`
	Port flexStr `json:"port"`
	ID   string  `json:"id"`
	Aid  flexStr `json:"aid"`
	Scy  string  `json:"scy"`
	Net  string  `json:"net"`
	Host string  `json:"host"`
	Path string  `json:"path"`
	TLS  string  `json:"tls"`
	SNI  string  `json:"sni"`
}

// flexStr accepts both JSON strings and numbers.
type flexStr string

func (f *flexStr) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexStr(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexStr(n.String())
	return nil
}

// Parse decodes vmess://BASE64(JSON).
func Parse(raw string) (model.VMess, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, Scheme) {
		return model.VMess{}, uri.NewError("vmess", raw, "必须以 vmess:// 开头", nil)
	}

	text, err := b64.Decode(strings.TrimPrefix(s, Scheme))
	if err != nil {
		return model.VMess{}, uri.NewError("vmess", raw, "base64 解码失败", err)
	}
	var cfg share
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return model.VMess{}, uri.NewError("vmess", raw, "JSON 解析失败", err)
	}

	if cfg.Add == "" || cfg.Port == "" || cfg.ID == "" {
		return model.VMess{}, uri.NewError("vmess", raw, "缺少必填字段（add, port, id）", nil)
	}
	port, err := uri.ParsePort(string(cfg.Port))
	if err != nil {
		return model.VMess{}, uri.NewError("vmess", raw, "端口不合法", err)
	}
	alterID := 0
	if cfg.Aid != "" {
		alterID, err = strconv.Atoi(strings.TrimSpace(string(cfg.Aid)))
		if err != nil || alterID < 0 {
			return model.VMess{}, uri.NewError("vmess", raw, fmt.Sprintf("aid 不合法：%s", cfg.Aid), err)
		}
	}

	name := cfg.PS
	if name == "" {
		name = DefaultName
	}
	cipher := cfg.Scy
	if cipher == "" {
		cipher = "auto"
	}

	p := model.VMess{
		Base:    model.Base{Name: name, Server: cfg.Add, Port: port},
		UUID:    cfg.ID,
		AlterID: alterID,
		Cipher:  cipher,
	}

	if cfg.TLS == "tls" {
		p.TLS = true
		p.ServerName = cfg.SNI
	}

	network := cfg.Net
	if network == "" {
		network = "tcp"
	}
	if network != "tcp" {
		p.Network = network
	}

	switch network {
	case "ws":
		p.WSOpts = &model.WSOptions{Path: cfg.Path}
		if cfg.Host != "" {
			p.WSOpts.Headers = map[string]string{"Host": cfg.Host}
		}
	case "grpc":
		if cfg.Path != "" {
			p.GRPCOpts = &model.GRPCOptions{ServiceName: cfg.Path}
		}
	case "h2":
		p.H2Opts = &model.H2Options{Path: cfg.Path}
		if cfg.Host != "" {
			p.H2Opts.Host = []string{cfg.Host}
		}
	}

	return p, nil
}
