package compiler

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/John-Robertt/subgen-go/internal/catalog"
	"github.com/John-Robertt/subgen-go/internal/classify"
	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/rules"
)

// Fixed group names.
const (
	NameManual      = "🚀 手动选择"
	NameAuto        = "⚡ 自动选择"
	NameFallback    = "🔄 故障转移"
	NameResidential = "🏠 家宽节点"
)

const (
	ProbeURL       = "http://www.gstatic.com/generate_204"
	ProbeInterval  = 300
	ProbeTolerance = 50
)

const (
	// AIGroupID gets the US country group ranked first.
	AIGroupID = "openai"
	USCode    = "US"

	CodeNoUsableNodes = "NO_USABLE_NODES"
	Stage             = "compile"
)

// LegacyDefaultIDs are used when business groups are wanted but none were picked.
var LegacyDefaultIDs = []string{"openai", "telegram"}

type Options struct {
	GroupByCountry      bool
	DetectResidential   bool
	ResidentialKeywords []string

	SelectedRulesets []string
	// IncludeBusinessGroups nil means true.
	IncludeBusinessGroups *bool

	// Base replaces DefaultBase when set.
	Base *model.Settings
	// Classifier defaults to classify.Default().
	Classifier classify.Classifier
}

// DefaultOptions matches what a request gets when it sets nothing.
func DefaultOptions() Options {
	return Options{GroupByCountry: true, DetectResidential: true}
}

type Result struct {
	Config *model.Config
	// Warnings are non-fatal, e.g. supplementary domains in an unsupported
	// wildcard form.
	Warnings []model.AppError
}

type CompileError struct {
	AppError model.AppError
	Cause    error
}

func (e *CompileError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *CompileError) Unwrap() error { return e.Cause }

// DefaultBase is the settings head of every generated document.
func DefaultBase() model.Settings {
	return model.Settings{
		MixedPort:          7890,
		AllowLAN:           true,
		Mode:               "rule",
		LogLevel:           "info",
		ExternalController: "127.0.0.1:9090",
		DNS: model.DNS{
			Enable:       true,
			EnhancedMode: "fake-ip",
			FakeIPRange:  "198.18.0.1/16",
			Nameserver:   []string{"https://doh.pub/dns-query", "https://dns.alidns.com/dns-query"},
			Fallback:     []string{"https://dns.google/dns-query", "https://cloudflare-dns.com/dns-query"},
			FallbackFilter: model.FallbackFilter{
				GeoIP:     true,
				GeoIPCode: "CN",
			},
		},
	}
}

// ActiveIDs resolves which business ids a request turns on.
func ActiveIDs(opt Options) []string {
	if len(opt.SelectedRulesets) > 0 {
		return opt.SelectedRulesets
	}
	if opt.IncludeBusinessGroups == nil || *opt.IncludeBusinessGroups {
		return LegacyDefaultIDs
	}
	return nil
}

// Generate classifies nodes and assembles the document.
func Generate(nodes []model.Proxy, cat *catalog.Catalog, opt Options) (*Result, error) {
	c := opt.Classifier
	if c == nil {
		c = classify.Default()
	}
	nodes = uniqueNames(classify.Dedup(nodes), reservedNames(cat, c))
	set := c.Classify(nodes, classify.Options{
		GroupByCountry:      opt.GroupByCountry,
		DetectResidential:   opt.DetectResidential,
		ResidentialKeywords: opt.ResidentialKeywords,
	})
	return Compile(set, cat, opt)
}

// Compile is a single pass over an already classified node set.
func Compile(set classify.Result, cat *catalog.Catalog, opt Options) (*Result, error) {
	if len(set.Functional) == 0 {
		return nil, &CompileError{
			AppError: model.AppError{
				Code:    CodeNoUsableNodes,
				Message: "没有任何可用节点",
				Stage:   Stage,
				Hint:    "检查订阅内容，或确认节点没有全部被识别为流量/到期信息",
			},
		}
	}
	if cat == nil {
		cat = catalog.Default()
	}
	business := cat.Groups(ActiveIDs(opt))

	normalNames := proxyNames(set.Normal)
	residentialNames := proxyNames(set.Residential)
	hasResidential := opt.DetectResidential && len(residentialNames) > 0

	probed := normalNames
	if len(probed) == 0 {
		// url-test/fallback groups may not be empty.
		probed = []string{"DIRECT"}
	}

	var countryGroups []model.Group
	usGroup := ""
	if opt.GroupByCountry && set.ByCountry != nil {
		for pair := set.ByCountry.Oldest(); pair != nil; pair = pair.Next() {
			b := pair.Value
			if len(b.Nodes) == 0 {
				continue
			}
			name := b.Group
			if name == "" {
				name = b.Code
			}
			if b.Code == USCode {
				usGroup = name
			}
			countryGroups = append(countryGroups, probeGroup(name, model.GroupURLTest, proxyNames(b.Nodes)))
		}
	}
	countryNames := make([]string, 0, len(countryGroups))
	for _, g := range countryGroups {
		countryNames = append(countryNames, g.Name)
	}

	manual := []string{NameAuto, NameFallback}
	if hasResidential {
		manual = append(manual, NameResidential)
	}
	if opt.GroupByCountry && len(countryNames) > 0 {
		manual = append(manual, countryNames...)
	} else {
		manual = append(manual, normalNames...)
	}

	groups := []model.Group{
		{Name: NameManual, Type: model.GroupSelect, Members: manual},
		probeGroup(NameAuto, model.GroupURLTest, probed),
		probeGroup(NameFallback, model.GroupFallback, probed),
	}
	groups = append(groups, countryGroups...)
	if hasResidential {
		groups = append(groups, model.Group{Name: NameResidential, Type: model.GroupSelect, Members: residentialNames})
	}

	if len(business) > 0 {
		common := []string{NameManual, NameAuto}
		ai := []string{}
		if usGroup != "" {
			ai = append(ai, usGroup)
		}
		ai = append(ai, NameManual, NameAuto)
		if hasResidential {
			common = append(common, NameResidential)
			ai = append(ai, NameResidential)
		}
		if opt.GroupByCountry {
			common = append(common, countryNames...)
			for _, n := range countryNames {
				if n != usGroup {
					ai = append(ai, n)
				}
			}
		} else {
			common = append(common, normalNames...)
			ai = append(ai, normalNames...)
		}

		for _, bg := range business {
			members := common
			if bg.ID == AIGroupID {
				members = ai
			}
			groups = append(groups, model.Group{
				Name:    bg.Name,
				Type:    model.GroupSelect,
				Members: append([]string(nil), members...),
			})
		}
	}

	providers := orderedmap.New[string, model.RuleProvider]()
	for _, p := range cat.DefaultProviders() {
		providers.Set(p.Name, p.RuleProvider())
	}
	for _, bg := range business {
		providers.Set(bg.Provider.Name, bg.Provider.RuleProvider())
	}

	ruleLines, warnings, err := compileRules(cat, business)
	if err != nil {
		return nil, err
	}

	base := DefaultBase()
	if opt.Base != nil {
		base = *opt.Base
	}

	return &Result{
		Config: &model.Config{
			Settings:      base,
			Proxies:       cleanProxies(set.Functional),
			ProxyGroups:   groups,
			RuleProviders: providers,
			Rules:         ruleLines,
		},
		Warnings: warnings,
	}, nil
}

func compileRules(cat *catalog.Catalog, business []catalog.Group) ([]string, []model.AppError, error) {
	out := []model.Rule{{Type: "GEOIP", Value: "private", Action: "DIRECT", NoResolve: true}}
	var warnings []model.AppError

	// Literal rules go first: they are more specific than the remote sets.
	for _, bg := range business {
		set, ok := cat.Supplementary(bg.ID)
		if !ok {
			continue
		}
		domainRules, errs := rules.FromDomains(set.Domains, bg.Name)
		out = append(out, domainRules...)
		out = append(out, rules.FromCIDRs(set.CIDRs, bg.Name)...)
		for _, e := range errs {
			warnings = append(warnings, model.AppError{
				Code:    e.Code,
				Message: e.Message,
				Stage:   Stage,
				Hint:    e.Hint,
			})
		}
	}

	for _, bg := range business {
		for _, line := range bg.Rules {
			r, err := rules.ParseInlineRule(line)
			if err != nil {
				return nil, nil, &CompileError{
					AppError: model.AppError{
						Code:    rules.CodeParse,
						Message: fmt.Sprintf("业务规则不合法：%s", bg.ID),
						Stage:   Stage,
						Snippet: line,
					},
					Cause: err,
				}
			}
			out = append(out, r)
		}
	}

	out = append(out,
		model.Rule{Type: "GEOSITE", Value: "cn", Action: "DIRECT"},
		model.Rule{Type: "GEOIP", Value: "CN", Action: "DIRECT"},
		model.Rule{Type: "MATCH", Action: NameManual},
	)

	lines := make([]string, 0, len(out))
	for _, r := range out {
		lines = append(lines, r.String())
	}
	return lines, warnings, nil
}

func probeGroup(name, typ string, members []string) model.Group {
	g := model.Group{
		Name:        name,
		Type:        typ,
		Members:     members,
		TestURL:     ProbeURL,
		IntervalSec: ProbeInterval,
	}
	if typ == model.GroupURLTest {
		g.ToleranceMS = ProbeTolerance
	}
	return g
}

func proxyNames(ps []model.Proxy) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Common().Name)
	}
	return out
}

// cleanProxies drops the override marker; it is never rendered anyway, but
// stored documents should not carry it either.
func cleanProxies(ps []model.Proxy) []model.Proxy {
	out := make([]model.Proxy, 0, len(ps))
	for _, p := range ps {
		b := p.Common()
		if b.ForceResidential {
			b.ForceResidential = false
			p = p.WithCommon(b)
		}
		out = append(out, p)
	}
	return out
}

// reservedNames are names a proxy may not take because rules or groups
// already use them.
func reservedNames(cat *catalog.Catalog, c classify.Classifier) map[string]struct{} {
	out := map[string]struct{}{
		"DIRECT": {}, "REJECT": {},
		NameManual: {}, NameAuto: {}, NameFallback: {}, NameResidential: {},
	}
	if cat == nil {
		cat = catalog.Default()
	}
	for _, g := range cat.All() {
		out[g.Name] = struct{}{}
	}
	if rc, ok := c.(*classify.RegexClassifier); ok {
		for _, row := range rc.Countries {
			out[row.Group] = struct{}{}
		}
	}
	return out
}

// uniqueNames makes display names unique in input order. A taken name gets
// the first free "-N" suffix starting at 2.
func uniqueNames(in []model.Proxy, reserved map[string]struct{}) []model.Proxy {
	used := make(map[string]struct{}, len(in))
	out := make([]model.Proxy, 0, len(in))
	for _, p := range in {
		b := p.Common()
		base := strings.TrimSpace(b.Name)
		if base == "" {
			base = fmt.Sprintf("%s:%d", b.Server, b.Port)
		}

		name := base
		_, isReserved := reserved[name]
		_, isUsed := used[name]
		if isReserved || isUsed {
			for n := 2; ; n++ {
				try := fmt.Sprintf("%s-%d", base, n)
				_, r := reserved[try]
				_, u := used[try]
				if !r && !u {
					name = try
					break
				}
			}
		}

		used[name] = struct{}{}
		if name != b.Name {
			p = model.Rename(p, name)
		}
		out = append(out, p)
	}
	return out
}
