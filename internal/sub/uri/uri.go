// Package uri holds the sub-grammar shared by the per-protocol URI parsers:
// fragment names, query strings, host:port literals and the parse error type.
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/subgen-go/internal/model"
)

const (
	Stage = "parse_sub"

	CodeParse       = "SUB_PARSE_ERROR"
	CodeUnsupported = "SUB_UNSUPPORTED_SCHEME"
	CodeConfig      = "SUB_CONFIG_INVALID"
)

// SnippetLen bounds the excerpt of offending input kept in an error.
const SnippetLen = 50

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// NewError reports a grammar violation in a proto:// URI.
func NewError(proto, raw, message string, cause error) *ParseError {
	return &ParseError{
		AppError: model.AppError{
			Code:    CodeParse,
			Message: proto + ": " + message,
			Stage:   Stage,
			Snippet: Excerpt(raw, SnippetLen),
		},
		Cause: cause,
	}
}

// Excerpt returns at most max runes of s with line breaks removed.
func Excerpt(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// SplitFragment cuts "#name" off s. The name is URL-decoded; def is used
// when the fragment is absent or empty.
func SplitFragment(s, def string) (rest, name string, err error) {
	rest, frag, ok := strings.Cut(s, "#")
	if !ok || frag == "" {
		return rest, def, nil
	}
	decoded, err := url.PathUnescape(frag)
	if err != nil {
		return "", "", err
	}
	if strings.ContainsAny(decoded, "\r\n\x00") {
		return "", "", errors.New("control characters in name")
	}
	if decoded == "" {
		return rest, def, nil
	}
	return rest, decoded, nil
}

// SplitQuery cuts "?query" off s.
func SplitQuery(s string) (main, query string) {
	main, query, _ = strings.Cut(s, "?")
	return main, query
}

// ParseQuery decodes q leniently: '+' is a space, malformed escapes are kept
// verbatim, and Get returns the first value of a repeated key.
func ParseQuery(q string) url.Values {
	out := url.Values{}
	for _, part := range strings.Split(q, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out.Add(lenientUnescape(k), lenientUnescape(v))
	}
	return out
}

func lenientUnescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return strings.ReplaceAll(s, "+", " ")
}

// DecodePath percent-decodes a query value once more. Links in the wild
// often escape the ws path twice (path=%252Fws). A malformed escape leaves
// the value as it is.
func DecodePath(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// Unescape is strict percent-decoding for secrets embedded in the authority.
func Unescape(s string) (string, error) {
	return url.PathUnescape(s)
}

// ParseHostPort parses "host:port" or "[v6]:port". Anything after the first
// '/' is a path and is ignored.
func ParseHostPort(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}

	var host, portStr string
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, errors.New("unclosed IPv6 bracket")
		}
		host = s[1:end]
		tail := s[end+1:]
		if !strings.HasPrefix(tail, ":") {
			return "", 0, errors.New("missing port")
		}
		portStr = tail[1:]
	} else {
		colon := strings.LastIndexByte(s, ':')
		if colon < 0 {
			return "", 0, errors.New("missing port")
		}
		host = s[:colon]
		portStr = s[colon+1:]
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	port, err := ParsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// ParsePort accepts decimal digits only, in 1..65535.
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty port")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("invalid port: %s", s)
		}
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port: %s", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port out of range: %s", s)
	}
	return p, nil
}

func Truthy(v string) bool {
	return v == "1" || v == "true"
}

// SplitList splits a comma list, dropping empty items.
func SplitList(v string) []string {
	if v == "" {
		return nil
	}
	out := make([]string, 0, strings.Count(v, ",")+1)
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
