// Package classify sorts parsed nodes into the sets the config assembler
// builds groups from.
package classify

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/samber/lo"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/John-Robertt/subgen-go/internal/model"
)

type Options struct {
	GroupByCountry    bool
	DetectResidential bool
	// ResidentialKeywords are checked in addition to the default set.
	ResidentialKeywords []string
}

// Classifier turns a node list into a Result. Implementations must not
// mutate the input nodes.
type Classifier interface {
	Classify(nodes []model.Proxy, opt Options) Result
}

type Bucket struct {
	Code  string
	Group string
	Nodes []model.Proxy
}

// Result slices share node values with the input; nodes are immutable values.
type Result struct {
	// All is deduplicated input, first occurrence wins.
	All []model.Proxy
	// Informational entries announce traffic or expiry and are not usable.
	Informational []model.Proxy
	// Functional is All minus Informational.
	Functional []model.Proxy
	// Residential is empty unless DetectResidential is set.
	Residential []model.Proxy
	// Normal is Functional minus every residential-looking node. The split
	// does not depend on DetectResidential.
	Normal []model.Proxy
	// ByCountry buckets Normal. Keys are country codes in order of first
	// appearance. Empty unless GroupByCountry is set.
	ByCountry *orderedmap.OrderedMap[string, Bucket]
}

// Country is one row of the detection table.
type Country struct {
	Code    string
	Group   string
	Pattern *regexp2.Regexp
}

func (c Country) Match(name string) bool {
	ok, err := c.Pattern.MatchString(name)
	return err == nil && ok
}

// RegexClassifier matches node names against keyword lists and an ordered
// country table.
type RegexClassifier struct {
	InfoKeywords        []string
	ResidentialKeywords []string
	Countries           []Country
}

var (
	DefaultInfoKeywords        = []string{"流量", "到期", "expire", "traffic", "官网", "网址", "重置", "reset"}
	DefaultResidentialKeywords = []string{"家宽", "住宅", "residential", "native", "原生", "isp", "本土", "resip"}
)

func country(code, group, expr string) Country {
	return Country{Code: code, Group: group, Pattern: regexp2.MustCompile(expr, regexp2.IgnoreCase)}
}

// DefaultCountries is evaluated top to bottom; the first hit wins.
func DefaultCountries() []Country {
	return []Country{
		country("HK", "🇭🇰 香港", `香港|HK|Hong\s*Kong|hongkong`),
		country("TW", "🇹🇼 台湾", `台湾|TW|Taiwan|台北|台中`),
		country("JP", "🇯🇵 日本", `日本|JP|Japan|东京|大阪|Tokyo|Osaka`),
		country("SG", "🇸🇬 新加坡", `新加坡|SG|Singapore|狮城`),
		country("US", "🇺🇸 美国", `美国|US|USA|United\s*States|洛杉矶|西雅图|硅谷|Los\s*Angeles|Seattle`),
		country("KR", "🇰🇷 韩国", `韩国|KR|Korea|首尔|Seoul`),
		country("UK", "🇬🇧 英国", `英国|UK|United\s*Kingdom|Britain|伦敦|London`),
		country("DE", "🇩🇪 德国", `德国|DE|Germany|法兰克福|Frankfurt`),
	}
}

// Default returns the keyword and country tables shipped with the binary.
func Default() *RegexClassifier {
	return &RegexClassifier{
		InfoKeywords:        DefaultInfoKeywords,
		ResidentialKeywords: DefaultResidentialKeywords,
		Countries:           DefaultCountries(),
	}
}

// GroupName returns the display group for a country code, or "" if unknown.
func (c *RegexClassifier) GroupName(code string) string {
	for _, row := range c.Countries {
		if row.Code == code {
			return row.Group
		}
	}
	return ""
}

func (c *RegexClassifier) Classify(nodes []model.Proxy, opt Options) Result {
	all := Dedup(nodes)

	info, functional := lo.FilterReject(all, func(p model.Proxy, _ int) bool {
		return containsAny(p.Common().Name, c.InfoKeywords)
	})

	res := Result{
		All:           all,
		Informational: info,
		Functional:    functional,
		ByCountry:     orderedmap.New[string, Bucket](),
	}

	residential, normal := lo.FilterReject(functional, func(p model.Proxy, _ int) bool {
		return c.IsResidential(p, opt.ResidentialKeywords)
	})
	res.Normal = normal
	if opt.DetectResidential {
		res.Residential = residential
	}

	if opt.GroupByCountry {
		for _, p := range res.Normal {
			row, ok := c.Country(p.Common().Name)
			if !ok {
				continue
			}
			b, _ := res.ByCountry.Get(row.Code)
			b.Code, b.Group = row.Code, row.Group
			b.Nodes = append(b.Nodes, p)
			res.ByCountry.Set(row.Code, b)
		}
	}
	return res
}

// IsResidential checks the override marker, then the default keywords,
// then custom.
func (c *RegexClassifier) IsResidential(p model.Proxy, custom []string) bool {
	b := p.Common()
	if b.ForceResidential {
		return true
	}
	return containsAny(b.Name, c.ResidentialKeywords) || containsAny(b.Name, custom)
}

// Country returns the first table row matching name.
func (c *RegexClassifier) Country(name string) (Country, bool) {
	return lo.Find(c.Countries, func(row Country) bool {
		return row.Match(name)
	})
}

// Dedup keeps the first node of each name|server:port key.
func Dedup(nodes []model.Proxy) []model.Proxy {
	return lo.UniqBy(nodes, func(p model.Proxy) string {
		b := p.Common()
		return b.Name + "|" + b.Server + ":" + strconv.Itoa(b.Port)
	})
}

func containsAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	return lo.SomeBy(keywords, func(kw string) bool {
		return kw != "" && strings.Contains(lower, strings.ToLower(kw))
	})
}
