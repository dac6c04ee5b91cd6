// Package catalog is read-only access to the business rule sets and the
// supplementary literal rules. The data is versioned YAML, embedded as the
// default and replaceable from files at startup.
package catalog

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/rules"
)

const Version = 1

//go:embed data/business.yaml data/supplementary.yaml
var data embed.FS

// Provider is a named remote rule provider.
type Provider struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Format   string `yaml:"format" json:"format"`
	Behavior string `yaml:"behavior" json:"behavior"`
	URL      string `yaml:"url" json:"url"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval" json:"interval"`
}

func (p Provider) RuleProvider() model.RuleProvider {
	return model.RuleProvider{
		Type:     p.Type,
		Format:   p.Format,
		Behavior: p.Behavior,
		URL:      p.URL,
		Path:     p.Path,
		Interval: p.Interval,
	}
}

type Group struct {
	ID          string   `yaml:"id" json:"id"`
	Label       string   `yaml:"label" json:"label"`
	Name        string   `yaml:"group" json:"groupName"`
	Description string   `yaml:"description" json:"description"`
	Provider    Provider `yaml:"provider" json:"ruleProvider"`
	Rules       []string `yaml:"rules" json:"rules"`
}

type RuleSet struct {
	Name    string   `yaml:"name" json:"name"`
	Domains []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	CIDRs   []string `yaml:"cidrs,omitempty" json:"ipCidrs,omitempty"`
}

type businessFile struct {
	Version          int      `yaml:"version"`
	DefaultProviders []string `yaml:"default_providers"`
	Groups           []Group  `yaml:"groups"`
}

type supplementaryFile struct {
	Version int                `yaml:"version"`
	Sets    map[string]RuleSet `yaml:"sets"`
	Mapping map[string]string  `yaml:"mapping"`
}

type Catalog struct {
	groups   []Group
	byID     map[string]int
	defaults []Provider
	sets     map[string]RuleSet
	mapping  map[string]string
}

type LoadError struct {
	AppError model.AppError
	Cause    error
}

func (e *LoadError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func loadErr(msg string, cause error) error {
	return &LoadError{
		AppError: model.AppError{Code: "CATALOG_INVALID", Message: msg, Stage: "catalog"},
		Cause:    cause,
	}
}

func decodeStrict(b []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// Load parses and validates both catalog documents.
func Load(business, supplementary []byte) (*Catalog, error) {
	var bf businessFile
	if err := decodeStrict(business, &bf); err != nil {
		return nil, loadErr("business 目录 YAML 解析失败", err)
	}
	if bf.Version != Version {
		return nil, loadErr(fmt.Sprintf("business 目录版本不支持：%d", bf.Version), nil)
	}

	var sf supplementaryFile
	if err := decodeStrict(supplementary, &sf); err != nil {
		return nil, loadErr("supplementary 规则 YAML 解析失败", err)
	}
	if sf.Version != Version {
		return nil, loadErr(fmt.Sprintf("supplementary 规则版本不支持：%d", sf.Version), nil)
	}

	c := &Catalog{
		groups:  bf.Groups,
		byID:    make(map[string]int, len(bf.Groups)),
		sets:    sf.Sets,
		mapping: sf.Mapping,
	}
	if c.sets == nil {
		c.sets = map[string]RuleSet{}
	}
	if c.mapping == nil {
		c.mapping = map[string]string{}
	}

	providers := map[string]Provider{}
	for i, g := range bf.Groups {
		if err := validateGroup(g); err != nil {
			return nil, loadErr(fmt.Sprintf("business 目录第 %d 项（%s）不合法", i+1, g.ID), err)
		}
		if _, dup := c.byID[g.ID]; dup {
			return nil, loadErr(fmt.Sprintf("business id 重复：%s", g.ID), nil)
		}
		if _, dup := providers[g.Provider.Name]; dup {
			return nil, loadErr(fmt.Sprintf("rule provider 名称重复：%s", g.Provider.Name), nil)
		}
		c.byID[g.ID] = i
		providers[g.Provider.Name] = g.Provider
	}

	for _, name := range bf.DefaultProviders {
		p, ok := providers[name]
		if !ok {
			return nil, loadErr(fmt.Sprintf("default_providers 引用了不存在的 provider：%s", name), nil)
		}
		c.defaults = append(c.defaults, p)
	}

	for id, set := range c.sets {
		if err := validateSet(set); err != nil {
			return nil, loadErr(fmt.Sprintf("supplementary 规则集 %s 不合法", id), err)
		}
	}
	for bid, sid := range c.mapping {
		if _, ok := c.byID[bid]; !ok {
			return nil, loadErr(fmt.Sprintf("mapping 引用了不存在的 business id：%s", bid), nil)
		}
		if _, ok := c.sets[sid]; !ok {
			return nil, loadErr(fmt.Sprintf("mapping 引用了不存在的规则集：%s", sid), nil)
		}
	}
	return c, nil
}

func validateGroup(g Group) error {
	if strings.TrimSpace(g.ID) == "" {
		return errors.New("id is empty")
	}
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("group is empty")
	}
	p := g.Provider
	if p.Name == "" {
		return errors.New("provider.name is empty")
	}
	if p.Type != "http" {
		return fmt.Errorf("provider.type must be http, got %q", p.Type)
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("provider.url must be http(s): %q", p.URL)
	}
	if p.Interval <= 0 {
		return errors.New("provider.interval must be > 0")
	}
	if p.Path == "" {
		return errors.New("provider.path is empty")
	}
	if len(g.Rules) == 0 {
		return errors.New("rules is empty")
	}
	for _, line := range g.Rules {
		r, err := rules.ParseInlineRule(line)
		if err != nil {
			return fmt.Errorf("rule %q: %w", line, err)
		}
		if r.Type != "RULE-SET" || r.Value != p.Name || r.Action != g.Name {
			return fmt.Errorf("rule %q must be RULE-SET,%s,%s", line, p.Name, g.Name)
		}
	}
	return nil
}

func validateSet(s RuleSet) error {
	for _, d := range s.Domains {
		if strings.TrimSpace(d) == "" {
			return errors.New("empty domain")
		}
	}
	for _, c := range s.CIDRs {
		if _, err := netip.ParsePrefix(strings.TrimSpace(c)); err != nil {
			return fmt.Errorf("cidr %q: %w", c, err)
		}
	}
	return nil
}

// LoadFiles reads the two documents from disk. An empty path falls back to
// the embedded copy.
func LoadFiles(businessPath, supplementaryPath string) (*Catalog, error) {
	read := func(path, embedded string) ([]byte, error) {
		if path == "" {
			return data.ReadFile(embedded)
		}
		return os.ReadFile(path)
	}
	b, err := read(businessPath, "data/business.yaml")
	if err != nil {
		return nil, loadErr("读取 business 目录失败", err)
	}
	s, err := read(supplementaryPath, "data/supplementary.yaml")
	if err != nil {
		return nil, loadErr("读取 supplementary 规则失败", err)
	}
	return Load(b, s)
}

// Default is the embedded catalog. It panics if the embedded data is broken.
func Default() *Catalog {
	c, err := LoadFiles("", "")
	if err != nil {
		panic(err)
	}
	return c
}

// All returns every group in catalog order.
func (c *Catalog) All() []Group {
	return append([]Group(nil), c.groups...)
}

func (c *Catalog) Group(id string) (Group, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Group{}, false
	}
	return c.groups[i], true
}

// Groups resolves ids in catalog order. Unknown ids are ignored.
func (c *Catalog) Groups(ids []string) []Group {
	if len(ids) == 0 {
		return nil
	}
	want := lo.SliceToMap(ids, func(id string) (string, struct{}) { return id, struct{}{} })
	return lo.Filter(c.groups, func(g Group, _ int) bool {
		_, ok := want[g.ID]
		return ok
	})
}

// Supplementary returns the literal rule set mapped to a business id.
func (c *Catalog) Supplementary(businessID string) (RuleSet, bool) {
	sid, ok := c.mapping[businessID]
	if !ok {
		return RuleSet{}, false
	}
	s, ok := c.sets[sid]
	return s, ok
}

// DefaultProviders are emitted in every config regardless of selection.
func (c *Catalog) DefaultProviders() []Provider {
	return append([]Provider(nil), c.defaults...)
}
