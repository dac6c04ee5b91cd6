package render

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/subgen-go/internal/model"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

func renderErr(code, msg string, cause error) error {
	return &RenderError{
		AppError: model.AppError{Code: code, Message: msg, Stage: "render"},
		Cause:    cause,
	}
}

// Clash renders a full Mihomo document. Key order follows the struct
// declarations; rule providers keep insertion order.
func Clash(cfg *model.Config) ([]byte, error) {
	if cfg == nil {
		return nil, renderErr("INVALID_ARGUMENT", "render input 不能为空", nil)
	}
	return encodeYAML(cfg)
}

// ProxyList renders a provider-style document holding only "proxies".
func ProxyList(proxies []model.Proxy) ([]byte, error) {
	return encodeYAML(struct {
		Proxies []model.Proxy `yaml:"proxies"`
	}{Proxies: nonNil(proxies)})
}

// Render dispatches on the output format. JSON is what the web UI previews.
func Render(f Format, cfg *model.Config) ([]byte, error) {
	switch f {
	case FormatYAML, "":
		return Clash(cfg)
	case FormatJSON:
		if cfg == nil {
			return nil, renderErr("INVALID_ARGUMENT", "render input 不能为空", nil)
		}
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, renderErr("RENDER_ERROR", "JSON 编码失败", err)
		}
		return b, nil
	default:
		return nil, renderErr("UNSUPPORTED_FORMAT", fmt.Sprintf("不支持的输出格式：%s", f), nil)
	}
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, renderErr("RENDER_ERROR", "YAML 编码失败", err)
	}
	if err := enc.Close(); err != nil {
		return nil, renderErr("RENDER_ERROR", "YAML 编码失败", err)
	}
	return buf.Bytes(), nil
}

func nonNil(ps []model.Proxy) []model.Proxy {
	if ps == nil {
		return []model.Proxy{}
	}
	return ps
}
