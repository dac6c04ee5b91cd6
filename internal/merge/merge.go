// Package merge combines raw share links from several subscriptions into one
// deduplicated list without parsing them into nodes. Links pass through
// untouched apart from the optional name prefix.
package merge

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/John-Robertt/subgen-go/internal/fetch"
	"github.com/John-Robertt/subgen-go/internal/sub/b64"
)

type Source struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix,omitempty"`
}

// Fetcher is satisfied by *fetch.Client.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string, concurrency int) []fetch.Result
}

// ParseSources reads one source per line. A line may carry a prefix before
// the first "|" or, failing that, the first ",".
func ParseSources(text string) []Source {
	var out []Source
	for _, line := range lines(text) {
		sep := "|"
		if !strings.Contains(line, sep) {
			sep = ","
		}
		prefix, rest, ok := strings.Cut(line, sep)
		if !ok {
			out = append(out, Source{URL: line})
			continue
		}
		rest = strings.TrimSpace(rest)
		if rest == "" {
			out = append(out, Source{URL: strings.TrimSpace(prefix)})
			continue
		}
		out = append(out, Source{URL: rest, Prefix: strings.TrimSpace(prefix)})
	}
	return out
}

// ParseManualNodes returns the non-blank lines of text, trimmed.
func ParseManualNodes(text string) []string {
	return lines(text)
}

// SplitNodes keeps the lines that look like share links.
func SplitNodes(content string) []string {
	return lo.Filter(lines(content), func(l string, _ int) bool {
		return strings.Contains(l, "://")
	})
}

// ApplyPrefix prepends "[prefix]" to the link fragment, adding a fragment
// when the link has none.
func ApplyPrefix(node, prefix string) string {
	if prefix == "" {
		return node
	}
	tag := "[" + prefix + "]"
	base, fragment, _ := strings.Cut(node, "#")
	if fragment == "" {
		return base + "#" + url.PathEscape(tag)
	}
	name, err := url.PathUnescape(fragment)
	if err != nil {
		name = fragment
	}
	return base + "#" + url.PathEscape(strings.TrimSpace(tag+" "+name))
}

// Fetched is the link list of one source.
type Fetched struct {
	Nodes  []string
	Prefix string
}

// Nodes flattens sources then manual links, keeping the first copy of each
// exact link.
func Nodes(sources []Fetched, manual []string) []string {
	var all []string
	for _, s := range sources {
		for _, n := range s.Nodes {
			all = append(all, ApplyPrefix(n, s.Prefix))
		}
	}
	all = append(all, manual...)
	return lo.Uniq(all)
}

// Sources fetches every source and merges the result with manual. Any
// failed source fails the whole merge.
func Sources(ctx context.Context, f Fetcher, sources []Source, manual []string, concurrency int) ([]string, error) {
	urls := lo.Map(sources, func(s Source, _ int) string { return s.URL })
	results := f.FetchAll(ctx, urls, concurrency)

	fetched := make([]Fetched, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		fetched = append(fetched, Fetched{
			Nodes:  SplitNodes(b64.AutoDecode(r.Body)),
			Prefix: sources[i].Prefix,
		})
	}
	return Nodes(fetched, manual), nil
}

// Encode is the base64 subscription form of a link list.
func Encode(nodes []string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(nodes, "\n")))
}

func lines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
