// Package sub turns raw subscription text into proxy nodes.
//
// The text may be a base64 blob, a plain URI list or an embedded Clash
// document. Bad lines never abort a batch: they are collected as errors in
// input order, next to the nodes that did parse.
package sub

import (
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/b64"
	"github.com/John-Robertt/subgen-go/internal/sub/clash"
	"github.com/John-Robertt/subgen-go/internal/sub/hysteria2"
	"github.com/John-Robertt/subgen-go/internal/sub/ss"
	"github.com/John-Robertt/subgen-go/internal/sub/trojan"
	"github.com/John-Robertt/subgen-go/internal/sub/tuic"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
	"github.com/John-Robertt/subgen-go/internal/sub/vless"
	"github.com/John-Robertt/subgen-go/internal/sub/vmess"
)

type Options struct {
	// Prefix is prepended to every parsed node name, separated by one space.
	Prefix string
	// SourceURL is copied into every error record.
	SourceURL string
	// Workers > 1 parses lines concurrently. Output order does not change.
	Workers int
}

type Result struct {
	Nodes  []model.Proxy
	Errors []*uri.ParseError

	// RawCount is the number of candidate entries seen, ParsedCount the
	// number that produced a node.
	RawCount    int
	ParsedCount int
}

type parser func(string) (model.Proxy, error)

func wrap[T model.Proxy](fn func(string) (T, error)) parser {
	return func(s string) (model.Proxy, error) {
		p, err := fn(s)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var schemes = []struct {
	prefix string
	parse  parser
}{
	{ss.Scheme, wrap(ss.Parse)},
	{vmess.Scheme, wrap(vmess.Parse)},
	{vless.Scheme, wrap(vless.Parse)},
	{trojan.Scheme, wrap(trojan.Parse)},
	{hysteria2.Scheme, wrap(hysteria2.Parse)},
	{hysteria2.ShortScheme, wrap(hysteria2.Parse)},
	{tuic.Scheme, wrap(tuic.Parse)},
}

// SupportedSchemes lists the URI prefixes ParseURI dispatches on.
func SupportedSchemes() []string {
	out := make([]string, 0, len(schemes))
	for _, s := range schemes {
		out = append(out, s.prefix)
	}
	return out
}

// ParseURI parses one share link by its scheme prefix.
func ParseURI(raw string) (model.Proxy, error) {
	raw = strings.TrimSpace(raw)
	for _, s := range schemes {
		if strings.HasPrefix(raw, s.prefix) {
			return s.parse(raw)
		}
	}
	return nil, &uri.ParseError{
		AppError: model.AppError{
			Code:    uri.CodeUnsupported,
			Message: fmt.Sprintf("不支持的协议：%s", uri.Excerpt(raw, 20)),
			Stage:   uri.Stage,
			Snippet: uri.Excerpt(raw, uri.SnippetLen),
		},
	}
}

type line struct {
	no   int
	text string
}

// splitLines drops blank lines and keeps the 1-based number of the rest.
// CRLF and lone CR both count as a break.
func splitLines(text string) []line {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var out []line
	for i, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, line{no: i + 1, text: l})
		}
	}
	return out
}

// Parse never fails as a whole. A broken embedded document shows up as a
// single error with no nodes.
func Parse(content string, opt Options) Result {
	text := b64.AutoDecode(content)

	if clash.IsConfig(text) {
		return parseClash(text, opt)
	}

	lines := splitLines(text)

	type slot struct {
		node model.Proxy
		err  *uri.ParseError
		skip bool
	}
	slots := make([]slot, len(lines))

	parseAt := func(i int) {
		l := lines[i].text
		if strings.HasPrefix(l, "#") || strings.HasPrefix(l, "//") {
			slots[i].skip = true
			return
		}
		p, err := ParseURI(l)
		if err != nil {
			slots[i].err = asParseError(err, l)
			return
		}
		if opt.Prefix != "" {
			p = model.Rename(p, opt.Prefix+" "+p.Common().Name)
		}
		slots[i].node = p
	}

	if opt.Workers > 1 && len(lines) > 1 {
		var g errgroup.Group
		g.SetLimit(opt.Workers)
		for i := range lines {
			g.Go(func() error {
				parseAt(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range lines {
			parseAt(i)
		}
	}

	res := Result{RawCount: len(lines)}
	for i, s := range slots {
		switch {
		case s.skip:
		case s.err != nil:
			s.err.AppError.Line = lines[i].no
			s.err.AppError.URL = opt.SourceURL
			res.Errors = append(res.Errors, s.err)
		default:
			res.Nodes = append(res.Nodes, s.node)
		}
	}
	res.ParsedCount = len(res.Nodes)
	return res
}

func parseClash(text string, opt Options) Result {
	nodes, errs, err := clash.Extract(text, opt.Prefix)
	if err != nil {
		pe := asParseError(err, "")
		pe.AppError.URL = opt.SourceURL
		return Result{Errors: []*uri.ParseError{pe}}
	}
	for _, e := range errs {
		e.AppError.URL = opt.SourceURL
	}
	return Result{
		Nodes:       nodes,
		Errors:      errs,
		RawCount:    len(nodes) + len(errs),
		ParsedCount: len(nodes),
	}
}

func asParseError(err error, raw string) *uri.ParseError {
	if pe, ok := err.(*uri.ParseError); ok {
		return pe
	}
	return uri.NewError("sub", raw, "解析失败", err)
}
