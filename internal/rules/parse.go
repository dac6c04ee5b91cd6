package rules

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/John-Robertt/subgen-go/internal/model"
)

const (
	CodeParse       = "RULE_PARSE_ERROR"
	CodeUnsupported = "UNSUPPORTED_RULE_TYPE"
	CodeWildcard    = "RULE_WILDCARD_UNSUPPORTED"
)

type RuleError struct {
	Code    string
	Message string
	Hint    string
	Cause   error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

// ParseInlineRule parses a single Clash rule line. ACTION is required.
func ParseInlineRule(line string) (model.Rule, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" {
		return model.Rule{}, &RuleError{Code: CodeParse, Message: "rule line is empty"}
	}
	if strings.HasPrefix(line, "#") {
		return model.Rule{}, &RuleError{Code: CodeParse, Message: "rule line is comment"}
	}

	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return model.Rule{}, &RuleError{Code: CodeParse, Message: "规则类型不能为空"}
	}

	typ := strings.ToUpper(parts[0])
	switch typ {
	case "DOMAIN", "DOMAIN-SUFFIX", "DOMAIN-KEYWORD", "GEOSITE", "RULE-SET":
		return parseSimple3(typ, parts)
	case "GEOIP":
		return parseWithNoResolve(typ, parts, nil)
	case "IP-CIDR":
		return parseWithNoResolve(typ, parts, validateIPv4CIDR)
	case "IP-CIDR6":
		return parseWithNoResolve(typ, parts, validateIPv6CIDR)
	case "MATCH":
		if len(parts) != 2 || parts[1] == "" {
			return model.Rule{}, &RuleError{
				Code:    CodeParse,
				Message: "MATCH 规则必须是 MATCH,<ACTION>",
			}
		}
		return model.Rule{Type: "MATCH", Action: parts[1]}, nil
	default:
		return model.Rule{}, &RuleError{
			Code:    CodeUnsupported,
			Message: fmt.Sprintf("不支持的规则类型：%s", typ),
		}
	}
}

func parseSimple3(typ string, parts []string) (model.Rule, error) {
	switch len(parts) {
	case 2:
		return model.Rule{}, &RuleError{
			Code:    CodeParse,
			Message: "规则缺少 ACTION",
			Hint:    "expected: TYPE,VALUE,ACTION",
		}
	case 3:
		if parts[1] == "" || parts[2] == "" {
			return model.Rule{}, &RuleError{Code: CodeParse, Message: "规则 VALUE/ACTION 不能为空"}
		}
		return model.Rule{Type: typ, Value: parts[1], Action: parts[2]}, nil
	default:
		return model.Rule{}, &RuleError{
			Code:    CodeParse,
			Message: "规则字段数量不合法",
			Hint:    "expected: TYPE,VALUE,ACTION",
		}
	}
}

// parseWithNoResolve handles TYPE,VALUE,ACTION[,no-resolve]. validate may be nil.
func parseWithNoResolve(typ string, parts []string, validate func(string) error) (model.Rule, error) {
	hint := fmt.Sprintf("expected: %s,VALUE,ACTION[,no-resolve]", typ)
	if len(parts) < 3 || len(parts) > 4 {
		return model.Rule{}, &RuleError{
			Code:    CodeParse,
			Message: fmt.Sprintf("%s 规则字段数量不合法", typ),
			Hint:    hint,
		}
	}
	if parts[1] == "" || parts[2] == "" {
		return model.Rule{}, &RuleError{Code: CodeParse, Message: fmt.Sprintf("%s 的 VALUE/ACTION 不能为空", typ)}
	}
	if strings.EqualFold(parts[2], "no-resolve") {
		// Ambiguous: missing action but has option.
		return model.Rule{}, &RuleError{
			Code:    CodeParse,
			Message: fmt.Sprintf("%s 缺少 ACTION（不允许仅写 no-resolve）", typ),
			Hint:    hint,
		}
	}
	noResolve := false
	if len(parts) == 4 {
		if !strings.EqualFold(parts[3], "no-resolve") {
			return model.Rule{}, &RuleError{
				Code:    CodeParse,
				Message: fmt.Sprintf("%s 的可选项仅支持 no-resolve", typ),
				Hint:    hint,
			}
		}
		noResolve = true
	}
	if validate != nil {
		if err := validate(parts[1]); err != nil {
			return model.Rule{}, &RuleError{
				Code:    CodeParse,
				Message: fmt.Sprintf("%s 的 CIDR 不合法", typ),
				Hint:    hint,
				Cause:   err,
			}
		}
	}
	return model.Rule{Type: typ, Value: parts[1], Action: parts[2], NoResolve: noResolve}, nil
}

func validateIPv4CIDR(s string) error {
	p, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if !p.Addr().Is4() {
		return errors.New("not an ipv4 cidr")
	}
	return nil
}

func validateIPv6CIDR(s string) error {
	p, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if !p.Addr().Is6() {
		return errors.New("not an ipv6 cidr")
	}
	return nil
}

// FromDomains builds DOMAIN-SUFFIX rules for "*.x" and DOMAIN rules for
// bare names. Any other wildcard form is skipped and reported.
func FromDomains(domains []string, target string) ([]model.Rule, []*RuleError) {
	var (
		out  []model.Rule
		errs []*RuleError
	)
	for _, d := range domains {
		d = strings.TrimSpace(d)
		switch {
		case d == "":
		case strings.HasPrefix(d, "*.") && !strings.Contains(d[2:], "*") && d[2:] != "":
			out = append(out, model.Rule{Type: "DOMAIN-SUFFIX", Value: d[2:], Action: target})
		case strings.Contains(d, "*"):
			errs = append(errs, &RuleError{
				Code:    CodeWildcard,
				Message: fmt.Sprintf("不支持的通配符域名：%s", d),
				Hint:    `use "*.example.com" or an exact domain`,
			})
		default:
			out = append(out, model.Rule{Type: "DOMAIN", Value: d, Action: target})
		}
	}
	return out, errs
}

// FromCIDRs builds no-resolve IP-CIDR/IP-CIDR6 rules; a ':' selects v6.
func FromCIDRs(cidrs []string, target string) []model.Rule {
	out := make([]model.Rule, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		typ := "IP-CIDR"
		if strings.Contains(c, ":") {
			typ = "IP-CIDR6"
		}
		out = append(out, model.Rule{Type: typ, Value: c, Action: target, NoResolve: true})
	}
	return out
}
