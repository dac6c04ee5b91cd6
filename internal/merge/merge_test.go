package merge

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/subgen-go/internal/fetch"
)

type fakeFetcher map[string]fetch.Result

func (f fakeFetcher) FetchAll(_ context.Context, urls []string, _ int) []fetch.Result {
	out := make([]fetch.Result, 0, len(urls))
	for _, u := range urls {
		r := f[u]
		r.URL = u
		out = append(out, r)
	}
	return out
}

func TestParseSources(t *testing.T) {
	got := ParseSources("A|https://a.example/sub\r\n  https://b.example/sub \n\nB,https://c.example/x\nhttps://d.example/|\n")
	assert.Equal(t, []Source{
		{URL: "https://a.example/sub", Prefix: "A"},
		{URL: "https://b.example/sub"},
		{URL: "https://c.example/x", Prefix: "B"},
		{URL: "https://d.example/"},
	}, got)
	assert.Empty(t, ParseSources(" \n\t\n"))
}

func TestApplyPrefix(t *testing.T) {
	assert.Equal(t, "trojan://pw@h:443#HK%2001", ApplyPrefix("trojan://pw@h:443#HK%2001", ""))
	assert.Equal(t, "trojan://pw@h:443#%5BA%5D%20HK%2001", ApplyPrefix("trojan://pw@h:443#HK%2001", "A"))
	assert.Equal(t, "trojan://pw@h:443#%5BA%5D", ApplyPrefix("trojan://pw@h:443", "A"))
	assert.Equal(t, "trojan://pw@h:443#%5BA%5D", ApplyPrefix("trojan://pw@h:443#", "A"))
}

func TestNodes_DedupAfterPrefix(t *testing.T) {
	got := Nodes([]Fetched{
		{Nodes: []string{"ss://x@h:1#n", "ss://y@h:2#m"}},
		{Nodes: []string{"ss://x@h:1#n"}, Prefix: "B"},
		{Nodes: []string{"ss://y@h:2#m"}},
	}, []string{"ss://x@h:1#n", "vless://u@h:3"})
	assert.Equal(t, []string{
		"ss://x@h:1#n",
		"ss://y@h:2#m",
		"ss://x@h:1#%5BB%5D%20n",
		"vless://u@h:3",
	}, got)
}

func TestSources(t *testing.T) {
	plain := "ss://x@h:1#n\nnot a link\ntrojan://pw@h:443#t\n"
	f := fakeFetcher{
		"https://a.example": {Body: plain},
		"https://b.example": {Body: base64.StdEncoding.EncodeToString([]byte(plain))},
	}
	got, err := Sources(context.Background(), f, []Source{
		{URL: "https://a.example"},
		{URL: "https://b.example", Prefix: "B"},
	}, []string{"vmess://abc"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ss://x@h:1#n",
		"trojan://pw@h:443#t",
		"ss://x@h:1#%5BB%5D%20n",
		"trojan://pw@h:443#%5BB%5D%20t",
		"vmess://abc",
	}, got)
}

func TestSources_FailedSource(t *testing.T) {
	boom := errors.New("boom")
	f := fakeFetcher{
		"https://a.example": {Body: "ss://x@h:1#n"},
		"https://b.example": {Err: boom},
	}
	_, err := Sources(context.Background(), f, []Source{{URL: "https://a.example"}, {URL: "https://b.example"}}, nil, 1)
	assert.ErrorIs(t, err, boom)
}

func TestEncode(t *testing.T) {
	got := Encode([]string{"ss://a", "ss://b"})
	b, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)
	assert.Equal(t, "ss://a\nss://b", string(b))
}
