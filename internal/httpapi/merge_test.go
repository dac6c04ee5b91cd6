package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestMerge_PrefixAndDedup(t *testing.T) {
	up := upstream(t, map[string]string{"/a": ssHK + "\n" + trojUS + "\n"}, nil)
	mux, _ := newTestMux(t, Options{})

	rr := postJSON(t, mux, "/api/merge", map[string]string{
		"sources":     "A|" + up.URL + "/a\n" + up.URL + "/a\n",
		"manualNodes": ssHK + "\nvless://u@h.example.com:443#M\n",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[mergeResponse](t, rr)
	want := []string{
		"ss://YWVzLTI1Ni1nY206cGFzcw==@1.2.3.4:8388#%5BA%5D%20HK%2001",
		"trojan://pw@us.example.com:443?sni=us.example.com#%5BA%5D%20US%2002",
		ssHK,
		trojUS,
		"vless://u@h.example.com:443#M",
	}
	if len(resp.Nodes) != len(want) {
		t.Fatalf("nodes=%q, want=%q", resp.Nodes, want)
	}
	for i := range want {
		if resp.Nodes[i] != want[i] {
			t.Fatalf("nodes[%d]=%q, want=%q", i, resp.Nodes[i], want[i])
		}
	}
}

func TestMerge_Empty(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	rr := postJSON(t, mux, "/api/merge", map[string]string{"sources": " \n"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rr.Code, http.StatusBadRequest)
	}
}

func TestMerge_FailedSource(t *testing.T) {
	up := upstream(t, map[string]string{}, nil)
	mux, _ := newTestMux(t, Options{})
	rr := postJSON(t, mux, "/api/merge", map[string]string{"sources": up.URL + "/missing"})
	if rr.Code < 400 {
		t.Fatalf("status=%d, want error", rr.Code)
	}
}

func mergeQuery(t *testing.T, req mergeRequest, format string) string {
	t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	v := url.Values{"data": {base64.StdEncoding.EncodeToString(b)}}
	if format != "" {
		v.Set("format", format)
	}
	return "/api/subscribe?" + v.Encode()
}

func TestMergeSubscribe_Formats(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	req := mergeRequest{ManualNodes: ssHK + "\n" + trojUS}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, mergeQuery(t, req, "plain"), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got, want := rr.Body.String(), ssHK+"\n"+trojUS; got != want {
		t.Fatalf("plain=%q, want=%q", got, want)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, mergeQuery(t, req, ""), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	decoded, err := base64.StdEncoding.DecodeString(rr.Body.String())
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got, want := string(decoded), ssHK+"\n"+trojUS; got != want {
		t.Fatalf("base64 body=%q, want=%q", got, want)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type=%q", ct)
	}
}

func TestMergeSubscribe_BadQuery(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	for _, target := range []string{
		"/api/subscribe",
		"/api/subscribe?data=%21%21%21",
		"/api/subscribe?data=" + base64.StdEncoding.EncodeToString([]byte("not json")),
		mergeQuery(t, mergeRequest{ManualNodes: ssHK}, "yaml"),
	} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("GET %s status=%d, want=%d", target, rr.Code, http.StatusBadRequest)
		}
	}
}
