package rules

import (
	"strings"
	"testing"
)

func FuzzParseInlineRule(f *testing.F) {
	seed := []string{
		"",
		"  \n",
		"# comment",
		"MATCH,DIRECT",
		"DOMAIN,example.com,DIRECT",
		"DOMAIN-SUFFIX,example.com,PROXY",
		"DOMAIN-KEYWORD,google,REJECT",
		"GEOIP,CN,DIRECT",
		"PROCESS-NAME,WeChat,PROXY",
		"URL-REGEX,^https?://,PROXY",
		"IP-CIDR,1.2.3.0/24,DIRECT",
		"IP-CIDR,1.2.3.0/24,DIRECT,no-resolve",
		"IP-CIDR6,2001:db8::/32,REJECT",
		"IP-CIDR6,2001:db8::/32,REJECT,no-resolve",
		"GEOIP,private,DIRECT,no-resolve",
		"GEOSITE,cn,DIRECT",
		"RULE-SET,ai-chat,AI",
	}
	for _, s := range seed {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, line string) {
		r, err := ParseInlineRule(line)
		if err != nil {
			return
		}

		if r.Type == "" {
			t.Fatalf("empty rule type")
		}
		if r.Action == "" {
			t.Fatalf("empty rule action")
		}
		if r.Type != "MATCH" && r.Value == "" {
			t.Fatalf("empty rule value for type=%q", r.Type)
		}
		if r.NoResolve && r.Type != "IP-CIDR" && r.Type != "IP-CIDR6" && r.Type != "GEOIP" {
			t.Fatalf("no-resolve on unsupported rule: type=%q", r.Type)
		}
		again, err := ParseInlineRule(r.String())
		if err != nil || again != r {
			t.Fatalf("String() does not round-trip: %q -> %+v (%v)", r.String(), again, err)
		}
	})
}

func FuzzFromDomains(f *testing.F) {
	for _, s := range []string{"*.openai.com", "claude.ai", "*claude*", "api.*.com", "*.", " ", "*"} {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, domain string) {
		out, errs := FromDomains([]string{domain}, "G")
		if len(out)+len(errs) > 1 {
			t.Fatalf("one domain produced %d rules and %d errors", len(out), len(errs))
		}
		for _, r := range out {
			if strings.Contains(r.Value, "*") {
				t.Fatalf("wildcard leaked into %q", r.String())
			}
			if r.Type != "DOMAIN" && r.Type != "DOMAIN-SUFFIX" {
				t.Fatalf("type=%q", r.Type)
			}
		}
	})
}
