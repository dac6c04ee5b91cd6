package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/store"
)

const (
	ssHK    = "ss://YWVzLTI1Ni1nY206cGFzcw==@1.2.3.4:8388#HK 01"
	trojUS  = "trojan://pw@us.example.com:443?sni=us.example.com#US 02"
	badLine = "vmess://not-base64"
)

func newTestMux(t *testing.T, opt Options) (*http.ServeMux, store.Store) {
	t.Helper()
	if opt.Store == nil {
		opt.Store = store.NewMemory(time.Hour)
	}
	return NewMuxWithOptions(opt), opt.Store
}

func upstream(t *testing.T, bodies map[string]string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal response: %v\nbody=%q", err, rr.Body.String())
	}
	return v
}

func TestHealthz(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestFetch_ParsesAndCounts(t *testing.T) {
	up := upstream(t, map[string]string{"/sub": ssHK + "\n" + badLine + "\n" + trojUS + "\n"}, nil)
	mux, _ := newTestMux(t, Options{})

	rr := postJSON(t, mux, "/api/fetch", map[string]any{"url": up.URL + "/sub", "prefix": "[A]"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeBody[struct {
		Success bool             `json:"success"`
		Nodes   []map[string]any `json:"nodes"`
		Errors  []model.AppError `json:"errors"`
		Stats   fetchStats       `json:"stats"`
	}](t, rr)
	if !resp.Success {
		t.Fatalf("success=false")
	}
	if resp.Stats != (fetchStats{RawCount: 3, ParsedCount: 2, ErrorCount: 1}) {
		t.Fatalf("stats=%+v", resp.Stats)
	}
	if len(resp.Nodes) != 2 {
		t.Fatalf("nodes=%d, want=2", len(resp.Nodes))
	}
	if got := resp.Nodes[0]["name"]; got != "[A] HK 01" {
		t.Fatalf("name=%v, want=%q", got, "[A] HK 01")
	}
	if got := resp.Nodes[0]["type"]; got != "ss" {
		t.Fatalf("type=%v", got)
	}
	if resp.Errors[0].Line != 2 || resp.Errors[0].URL != up.URL+"/sub" {
		t.Fatalf("error=%+v", resp.Errors[0])
	}
}

func TestFetch_Validation(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	cases := []struct {
		name string
		body string
	}{
		{"missing url", `{}`},
		{"bad scheme", `{"url":"ftp://example.com/x"}`},
		{"unknown field", `{"url":"https://example.com","extra":1}`},
		{"two documents", `{"url":"https://example.com"}{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/fetch", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			resp := decodeBody[model.ErrorResponse](t, rr)
			if resp.Error.Code != "INVALID_ARGUMENT" {
				t.Fatalf("code=%q, want=%q", resp.Error.Code, "INVALID_ARGUMENT")
			}
		})
	}
}

func TestFetch_UpstreamError(t *testing.T) {
	up := upstream(t, map[string]string{}, nil)
	mux, _ := newTestMux(t, Options{})

	rr := postJSON(t, mux, "/api/fetch", map[string]any{"url": up.URL + "/missing"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if resp := decodeBody[model.ErrorResponse](t, rr); resp.Error.Code != "FETCH_FAILED" {
		t.Fatalf("code=%q", resp.Error.Code)
	}
}

func TestPreview_SourcesAndManual(t *testing.T) {
	var hits atomic.Int64
	up := upstream(t, map[string]string{"/a": ssHK + "\n"}, &hits)
	mux, _ := newTestMux(t, Options{})

	rr := postJSON(t, mux, "/api/preview", map[string]any{
		"subscriptions": []map[string]string{
			{"url": up.URL + "/a", "prefix": "A"},
			{"url": up.URL + "/a", "prefix": "A"},
			{"url": up.URL + "/gone"},
			{"url": ""},
		},
		"manualNodes": trojUS,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeBody[struct {
		Nodes  []map[string]any `json:"nodes"`
		Stats  previewStats     `json:"stats"`
		Errors []model.AppError `json:"errors"`
	}](t, rr)

	if hits.Load() != 2 {
		t.Fatalf("hits=%d, want=2 (duplicate source fetched once)", hits.Load())
	}
	if resp.Stats != (previewStats{NodeCount: 2, ErrorCount: 1}) {
		t.Fatalf("stats=%+v", resp.Stats)
	}
	if resp.Nodes[0]["_source"] != "A" || resp.Nodes[1]["_source"] != "manual" {
		t.Fatalf("sources=%v %v", resp.Nodes[0]["_source"], resp.Nodes[1]["_source"])
	}
	id0, _ := resp.Nodes[0]["_id"].(string)
	id1, _ := resp.Nodes[1]["_id"].(string)
	if len(id0) != 36 || id0 == id1 {
		t.Fatalf("ids=%q %q", id0, id1)
	}
	if resp.Errors[0].Stage != "fetch_sub" {
		t.Fatalf("error=%+v", resp.Errors[0])
	}
}

func TestGenerate_SubscribeDelete(t *testing.T) {
	up := upstream(t, map[string]string{"/a": ssHK + "\n" + trojUS + "\n"}, nil)
	mux, _ := newTestMux(t, Options{PublicBaseURL: "https://sub.example.com/"})

	rr := postJSON(t, mux, "/api/generate", map[string]any{
		"subscriptions": []map[string]string{{"url": up.URL + "/a"}},
		"options":       map[string]any{"selectedRulesets": []string{"telegram"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeBody[struct {
		Success      bool          `json:"success"`
		ID           string        `json:"id"`
		SubscribeURL string        `json:"subscribeUrl"`
		Stats        generateStats `json:"stats"`
		ExpiresAt    time.Time     `json:"expiresAt"`
	}](t, rr)
	if !resp.Success || len(resp.ID) != 32 {
		t.Fatalf("resp=%+v", resp)
	}
	if want := "https://sub.example.com/api/subscribe/" + resp.ID; resp.SubscribeURL != want {
		t.Fatalf("subscribeUrl=%q, want=%q", resp.SubscribeURL, want)
	}
	if resp.Stats.NodeCount != 2 || resp.Stats.GroupCount == 0 {
		t.Fatalf("stats=%+v", resp.Stats)
	}

	sub := httptest.NewRecorder()
	mux.ServeHTTP(sub, httptest.NewRequest(http.MethodGet, "/api/subscribe/"+resp.ID, nil))
	if sub.Code != http.StatusOK {
		t.Fatalf("subscribe status=%d body=%q", sub.Code, sub.Body.String())
	}
	h := sub.Header()
	if got := h.Get("Content-Type"); got != "text/yaml; charset=utf-8" {
		t.Fatalf("Content-Type=%q", got)
	}
	if got, want := h.Get("Content-Disposition"), `attachment; filename="clash-config-`+resp.ID+`.yaml"`; got != want {
		t.Fatalf("Content-Disposition=%q, want=%q", got, want)
	}
	if got := h.Get("Cache-Control"); got != "public, max-age=300" {
		t.Fatalf("Cache-Control=%q", got)
	}
	if got := h.Get("X-Subscription-Nodes"); got != "2" {
		t.Fatalf("X-Subscription-Nodes=%q", got)
	}
	if _, err := time.Parse(time.RFC3339, h.Get("X-Subscription-Expires")); err != nil {
		t.Fatalf("X-Subscription-Expires=%q: %v", h.Get("X-Subscription-Expires"), err)
	}

	var doc struct {
		Proxies []map[string]any `yaml:"proxies"`
		Groups  []map[string]any `yaml:"proxy-groups"`
		Rules   []string         `yaml:"rules"`
	}
	if err := yaml.Unmarshal(sub.Body.Bytes(), &doc); err != nil {
		t.Fatalf("subscribe body is not YAML: %v", err)
	}
	if len(doc.Proxies) != 2 {
		t.Fatalf("proxies=%d, want=2", len(doc.Proxies))
	}
	if last := doc.Rules[len(doc.Rules)-1]; last != "MATCH,🚀 手动选择" {
		t.Fatalf("last rule=%q", last)
	}
	hasTelegram := false
	for _, r := range doc.Rules {
		if strings.HasPrefix(r, "RULE-SET,telegram,") {
			hasTelegram = true
		}
		if strings.HasPrefix(r, "RULE-SET,ai-chat,") {
			t.Fatalf("unselected business group emitted: %q", r)
		}
	}
	if !hasTelegram {
		t.Fatalf("telegram rule set missing: %v", doc.Rules)
	}

	del := httptest.NewRecorder()
	mux.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/api/subscribe/"+resp.ID, nil))
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", del.Code)
	}
	again := httptest.NewRecorder()
	mux.ServeHTTP(again, httptest.NewRequest(http.MethodGet, "/api/subscribe/"+resp.ID, nil))
	if again.Code != http.StatusNotFound {
		t.Fatalf("status after delete=%d", again.Code)
	}
	if resp := decodeBody[model.ErrorResponse](t, again); resp.Error.Code != "NOT_FOUND" {
		t.Fatalf("code=%q", resp.Error.Code)
	}
}

func TestGenerate_EditedNodes(t *testing.T) {
	mux, st := newTestMux(t, Options{})

	rr := postJSON(t, mux, "/api/generate", map[string]any{
		"editedNodes": []map[string]any{
			{"_id": "x1", "name": "HK 01", "type": "ss", "server": "1.2.3.4", "port": 8388, "cipher": "aes-256-gcm", "password": "8388",
				"_override": map[string]any{"customName": "Renamed", "isResidential": true}},
			{"_id": "x2", "name": "Drop", "type": "trojan", "server": "t.example.com", "port": 443, "password": "pw",
				"_override": map[string]any{"excluded": true}},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeBody[struct {
		ID    string        `json:"id"`
		Stats generateStats `json:"stats"`
	}](t, rr)
	if resp.Stats.NodeCount != 1 {
		t.Fatalf("nodeCount=%d, want=1", resp.Stats.NodeCount)
	}

	rec, err := st.Get(t.Context(), resp.ID)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	b := rec.Nodes[0].Common()
	if b.Name != "Renamed" || !b.ForceResidential {
		t.Fatalf("stored node=%+v", b)
	}
	if ss, ok := rec.Nodes[0].(model.SS); !ok || ss.Password != "8388" {
		t.Fatalf("stored node=%#v", rec.Nodes[0])
	}
}

func TestGenerate_NoNodes(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	rr := postJSON(t, mux, "/api/generate", map[string]any{"manualNodes": badLine})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if resp := decodeBody[model.ErrorResponse](t, rr); resp.Error.Code != "NO_NODES" {
		t.Fatalf("code=%q, want=%q", resp.Error.Code, "NO_NODES")
	}
}

func TestGenerate_InvalidEditedNode(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	rr := postJSON(t, mux, "/api/generate", map[string]any{
		"editedNodes": []any{map[string]any{"name": "x", "type": "ss", "server": "h", "port": 70000, "password": "p"}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestSubscribeURL_FromForwardedHeaders(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	b, _ := json.Marshal(map[string]any{"manualNodes": ssHK})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(b))
	req.Host = "proxy.example.org"
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeBody[struct {
		SubscribeURL string `json:"subscribeUrl"`
	}](t, rr)
	if !strings.HasPrefix(resp.SubscribeURL, "https://proxy.example.org/api/subscribe/") {
		t.Fatalf("subscribeUrl=%q", resp.SubscribeURL)
	}
}

func TestRulesets(t *testing.T) {
	mux, _ := newTestMux(t, Options{})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rulesets", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	resp := decodeBody[struct {
		Rulesets []rulesetInfo `json:"rulesets"`
	}](t, rr)
	if len(resp.Rulesets) != 17 {
		t.Fatalf("rulesets=%d, want=17", len(resp.Rulesets))
	}
	if r := resp.Rulesets[0]; r.ID != "openai" || !r.Default {
		t.Fatalf("first=%+v", r)
	}
}
