// Package config loads the server configuration: defaults, then an optional
// YAML file, then validation. Command-line flags are applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/subgen-go/internal/compiler"
	"github.com/John-Robertt/subgen-go/internal/fetch"
	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/store"
)

type Config struct {
	Listen        string `yaml:"listen"`
	PublicBaseURL string `yaml:"public_base_url"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	Fetch   Fetch   `yaml:"fetch"`
	Store   Store   `yaml:"store"`
	Log     Log     `yaml:"log"`
	Catalog Catalog `yaml:"catalog"`
	Base    Base    `yaml:"base"`
}

type Fetch struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxBytes    int64         `yaml:"max_bytes"`
	UserAgent   string        `yaml:"user_agent"`
	Concurrency int           `yaml:"concurrency"`
}

type Store struct {
	Driver        string        `yaml:"driver"`
	Path          string        `yaml:"path"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Catalog paths replace the embedded rule catalog. Empty keeps the embedded copy.
type Catalog struct {
	Business      string `yaml:"business"`
	Supplementary string `yaml:"supplementary"`
}

// Base overrides the settings head of generated documents. Unset keys keep
// the built-in defaults.
type Base struct {
	MixedPort          int    `yaml:"mixed_port"`
	AllowLAN           *bool  `yaml:"allow_lan"`
	Mode               string `yaml:"mode"`
	LogLevel           string `yaml:"log_level"`
	ExternalController string `yaml:"external_controller"`
}

type ConfigError struct {
	AppError model.AppError
	Cause    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func configErr(msg string, cause error) error {
	return &ConfigError{
		AppError: model.AppError{Code: "CONFIG_INVALID", Message: msg, Stage: "config"},
		Cause:    cause,
	}
}

func Default() Config {
	return Config{
		Listen:            "127.0.0.1:25500",
		ReadHeaderTimeout: 5 * time.Second,
		RequestTimeout:    60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		Fetch: Fetch{
			Timeout:     fetch.DefaultTimeout,
			MaxBytes:    fetch.DefaultMaxBytes,
			UserAgent:   fetch.DefaultUserAgent,
			Concurrency: 4,
		},
		Store: Store{
			Driver:        "memory",
			TTL:           store.DefaultTTL,
			SweepInterval: 10 * time.Minute,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load returns defaults overlaid with the file at path. An empty path skips
// the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, configErr("读取配置文件失败", err)
	}
	if err := Decode(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Decode overlays one strict YAML document onto cfg.
func Decode(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return configErr("配置文件 YAML 解析失败", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return configErr("配置文件只允许一个 YAML 文档", err)
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return configErr("listen 不能为空", nil)
	}
	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return configErr(fmt.Sprintf("public_base_url 必须是 http(s) 绝对地址：%q", c.PublicBaseURL), err)
		}
	}
	for name, d := range map[string]time.Duration{
		"read_header_timeout": c.ReadHeaderTimeout,
		"request_timeout":     c.RequestTimeout,
		"shutdown_timeout":    c.ShutdownTimeout,
		"fetch.timeout":       c.Fetch.Timeout,
		"store.ttl":           c.Store.TTL,
	} {
		if d <= 0 {
			return configErr(fmt.Sprintf("%s 必须大于 0", name), nil)
		}
	}
	if c.Fetch.MaxBytes <= 0 {
		return configErr("fetch.max_bytes 必须大于 0", nil)
	}
	if c.Fetch.Concurrency <= 0 {
		return configErr("fetch.concurrency 必须大于 0", nil)
	}
	switch c.Store.Driver {
	case "memory":
	case "bolt":
		if c.Store.Path == "" {
			return configErr("store.driver=bolt 需要 store.path", nil)
		}
	default:
		return configErr(fmt.Sprintf("不支持的 store.driver：%q", c.Store.Driver), nil)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return configErr(fmt.Sprintf("不支持的 log.format：%q", c.Log.Format), nil)
	}
	if c.Base.MixedPort < 0 || c.Base.MixedPort > 65535 {
		return configErr(fmt.Sprintf("base.mixed_port 超出范围：%d", c.Base.MixedPort), nil)
	}
	switch c.Base.Mode {
	case "", "rule", "global", "direct":
	default:
		return configErr(fmt.Sprintf("不支持的 base.mode：%q", c.Base.Mode), nil)
	}
	if c.Base.ExternalController != "" {
		if _, _, err := net.SplitHostPort(c.Base.ExternalController); err != nil {
			return configErr("base.external_controller 必须是 host:port", err)
		}
	}
	return nil
}

// Settings is the document head with the configured overrides applied.
func (b Base) Settings() model.Settings {
	s := compiler.DefaultBase()
	if b.MixedPort != 0 {
		s.MixedPort = b.MixedPort
	}
	if b.AllowLAN != nil {
		s.AllowLAN = *b.AllowLAN
	}
	if b.Mode != "" {
		s.Mode = b.Mode
	}
	if b.LogLevel != "" {
		s.LogLevel = b.LogLevel
	}
	if b.ExternalController != "" {
		s.ExternalController = b.ExternalController
	}
	return s
}

func (s Store) StoreConfig() store.Config {
	return store.Config{Driver: s.Driver, Path: s.Path, TTL: s.TTL}
}

func (f Fetch) Options() fetch.Options {
	return fetch.Options{Timeout: f.Timeout, MaxBytes: f.MaxBytes, UserAgent: f.UserAgent}
}
