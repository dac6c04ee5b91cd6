package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"

	"github.com/John-Robertt/subgen-go/internal/catalog"
	"github.com/John-Robertt/subgen-go/internal/compiler"
	"github.com/John-Robertt/subgen-go/internal/fetch"
	"github.com/John-Robertt/subgen-go/internal/log"
	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/render"
	"github.com/John-Robertt/subgen-go/internal/store"
	"github.com/John-Robertt/subgen-go/internal/sub"
	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

const maxBodyBytes = 8 << 20

type server struct {
	opt Options
}

type source struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix,omitempty"`
}

type fetchRequest struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
}

type fetchStats struct {
	RawCount    int `json:"rawCount"`
	ParsedCount int `json:"parsedCount"`
	ErrorCount  int `json:"errorCount"`
}

type fetchResponse struct {
	Success bool             `json:"success"`
	Nodes   []model.Proxy    `json:"nodes"`
	Errors  []model.AppError `json:"errors"`
	Stats   fetchStats       `json:"stats"`
}

type previewRequest struct {
	Subscriptions []source `json:"subscriptions"`
	ManualNodes   string   `json:"manualNodes"`
}

type previewStats struct {
	NodeCount  int `json:"nodeCount"`
	ErrorCount int `json:"errorCount"`
}

type previewResponse struct {
	Success bool             `json:"success"`
	Nodes   []editableNode   `json:"nodes"`
	Stats   previewStats     `json:"stats"`
	Errors  []model.AppError `json:"errors,omitempty"`
}

// generateOptions mirrors compiler.Options on the wire. Unset booleans
// default to true.
type generateOptions struct {
	GroupByCountry            *bool    `json:"groupByCountry"`
	DetectResidential         *bool    `json:"detectResidential"`
	CustomResidentialKeywords []string `json:"customResidentialKeywords"`
	SelectedRulesets          []string `json:"selectedRulesets"`
	IncludeBusinessGroups     *bool    `json:"includeBusinessGroups"`
}

func (g *generateOptions) toCompiler() compiler.Options {
	opt := compiler.DefaultOptions()
	if g == nil {
		return opt
	}
	if g.GroupByCountry != nil {
		opt.GroupByCountry = *g.GroupByCountry
	}
	if g.DetectResidential != nil {
		opt.DetectResidential = *g.DetectResidential
	}
	opt.ResidentialKeywords = lo.Compact(lo.Map(g.CustomResidentialKeywords, func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	opt.SelectedRulesets = lo.Uniq(lo.Compact(g.SelectedRulesets))
	opt.IncludeBusinessGroups = g.IncludeBusinessGroups
	return opt
}

type generateRequest struct {
	Subscriptions []source          `json:"subscriptions"`
	ManualNodes   string            `json:"manualNodes"`
	EditedNodes   []json.RawMessage `json:"editedNodes"`
	Options       *generateOptions  `json:"options"`
}

type generateStats struct {
	NodeCount  int `json:"nodeCount"`
	GroupCount int `json:"groupCount"`
	ErrorCount int `json:"errorCount"`
}

type generateResponse struct {
	Success      bool             `json:"success"`
	ID           string           `json:"id"`
	SubscribeURL string           `json:"subscribeUrl"`
	Stats        generateStats    `json:"stats"`
	Errors       []model.AppError `json:"errors,omitempty"`
	ExpiresAt    time.Time        `json:"expiresAt"`
}

type rulesetInfo struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Group       string `json:"groupName"`
	Description string `json:"description"`
	Default     bool   `json:"default"`
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}

// decodeJSON reads exactly one JSON value and rejects unknown fields.
func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return requestError("INVALID_ARGUMENT", "JSON body 解析失败", err.Error())
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return requestError("INVALID_ARGUMENT", "JSON body 不允许多段", "")
	} else if !errors.Is(err, io.EOF) {
		return requestError("INVALID_ARGUMENT", "JSON body 解析失败", err.Error())
	}
	return nil
}

func parseErrors(errs []*uri.ParseError) []model.AppError {
	out := make([]model.AppError, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.AppError)
	}
	return out
}

func (s *server) parse(text string, src source) sub.Result {
	res := sub.Parse(text, sub.Options{
		Prefix:    strings.TrimSpace(src.Prefix),
		SourceURL: src.URL,
		Workers:   s.opt.ParseWorkers,
	})
	metricsAddParsed(res.ParsedCount, len(res.Errors))
	return res
}

func validSourceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return requestError("INVALID_ARGUMENT", "订阅地址必须是 http/https URL", raw)
	}
	return nil
}

func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeErrorFromErr(w, requestError("INVALID_ARGUMENT", "缺少 url", ""))
		return
	}
	if err := validSourceURL(req.URL); err != nil {
		writeErrorFromErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opt.RequestTimeout)
	defer cancel()

	text, err := s.opt.Fetcher.Fetch(ctx, req.URL)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		writeErrorFromErr(w, apiError(http.StatusBadGateway, model.AppError{
			Code:    "FETCH_FAILED",
			Message: "订阅返回了空内容",
			Stage:   fetch.Stage,
			URL:     req.URL,
		}, nil))
		return
	}

	res := s.parse(text, source{URL: req.URL, Prefix: req.Prefix})
	log.Infoln("[Fetch] parsed %d/%d nodes, errors: %d", res.ParsedCount, res.RawCount, len(res.Errors))
	WriteJSON(w, http.StatusOK, fetchResponse{
		Success: true,
		Nodes:   lo.Ternary(res.Nodes == nil, []model.Proxy{}, res.Nodes),
		Errors:  parseErrors(res.Errors),
		Stats: fetchStats{
			RawCount:    res.RawCount,
			ParsedCount: res.ParsedCount,
			ErrorCount:  len(res.Errors),
		},
	})
}

type sourced struct {
	node   model.Proxy
	source string
}

// collect fetches every subscription and parses the manual text. A failing
// source becomes an error entry; it never fails the call.
func (s *server) collect(ctx context.Context, subs []source, manual string) ([]sourced, []model.AppError, error) {
	subs = lo.UniqBy(lo.Filter(subs, func(src source, _ int) bool {
		return strings.TrimSpace(src.URL) != ""
	}), func(src source) string { return strings.TrimSpace(src.URL) + "\x00" + src.Prefix })

	urls := make([]string, 0, len(subs))
	for i := range subs {
		subs[i].URL = strings.TrimSpace(subs[i].URL)
		if err := validSourceURL(subs[i].URL); err != nil {
			return nil, nil, err
		}
		urls = append(urls, subs[i].URL)
	}

	var nodes []sourced
	var errs []model.AppError
	for i, fr := range s.opt.Fetcher.FetchAll(ctx, urls, s.opt.FetchConcurrency) {
		if fr.Err != nil {
			if _, app, ok := asAppError(fr.Err); ok {
				errs = append(errs, app)
			} else {
				errs = append(errs, model.AppError{Code: "FETCH_FAILED", Message: fr.Err.Error(), Stage: fetch.Stage, URL: fr.URL})
			}
			continue
		}
		res := s.parse(fr.Body, subs[i])
		for _, p := range res.Nodes {
			nodes = append(nodes, sourced{node: p, source: subs[i].Prefix})
		}
		errs = append(errs, parseErrors(res.Errors)...)
	}

	if strings.TrimSpace(manual) != "" {
		res := s.parse(manual, source{})
		for _, p := range res.Nodes {
			nodes = append(nodes, sourced{node: p, source: "manual"})
		}
		errs = append(errs, parseErrors(res.Errors)...)
	}
	return nodes, errs, nil
}

func (s *server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorFromErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opt.RequestTimeout)
	defer cancel()

	nodes, errs, err := s.collect(ctx, req.Subscriptions, req.ManualNodes)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	out := make([]editableNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, editableNode{ID: uuid.Must(uuid.NewV4()).String(), Source: n.source, Proxy: n.node})
	}
	log.Infoln("[Preview] total nodes: %d, errors: %d", len(out), len(errs))
	WriteJSON(w, http.StatusOK, previewResponse{
		Success: true,
		Nodes:   out,
		Stats:   previewStats{NodeCount: len(out), ErrorCount: len(errs)},
		Errors:  errs,
	})
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorFromErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opt.RequestTimeout)
	defer cancel()

	var nodes []model.Proxy
	var errs []model.AppError
	if len(req.EditedNodes) > 0 {
		excluded := 0
		for i, raw := range req.EditedNodes {
			p, o, err := decodeEditedNode(raw)
			if err != nil {
				writeErrorFromErr(w, requestError("INVALID_ARGUMENT", fmt.Sprintf("editedNodes[%d] 不合法", i), err.Error()))
				return
			}
			p, ok := model.ApplyOverride(p, o)
			if !ok {
				excluded++
				continue
			}
			nodes = append(nodes, p)
		}
		if excluded > 0 {
			log.Infoln("[Generate] excluded %d nodes by user", excluded)
		}
	} else {
		got, e, err := s.collect(ctx, req.Subscriptions, req.ManualNodes)
		if err != nil {
			writeErrorFromErr(w, err)
			return
		}
		nodes = lo.Map(got, func(n sourced, _ int) model.Proxy { return n.node })
		errs = e
	}

	if len(nodes) == 0 {
		hint := ""
		if len(errs) > 0 {
			hint = errs[0].Message
		}
		writeErrorFromErr(w, apiError(http.StatusBadRequest, model.AppError{
			Code:    "NO_NODES",
			Message: "没有找到任何有效节点",
			Stage:   "validate_request",
			Hint:    hint,
		}, nil))
		return
	}

	copt := req.Options.toCompiler()
	res, err := s.generate(nodes, copt)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	rec := store.NewRecord(nodes, store.OptionsFrom(copt), s.opt.TTL, s.opt.Now())
	if err := s.opt.Store.Set(ctx, rec); err != nil {
		writeErrorFromErr(w, err)
		return
	}

	metrics.generated.inc()
	subscribeURL := s.baseURL(r) + "/api/subscribe/" + rec.ID
	log.Infoln("[Generate] created subscription %s with %d nodes", rec.ID, len(nodes))
	WriteJSON(w, http.StatusOK, generateResponse{
		Success:      true,
		ID:           rec.ID,
		SubscribeURL: subscribeURL,
		Stats: generateStats{
			NodeCount:  len(nodes),
			GroupCount: len(res.Config.ProxyGroups),
			ErrorCount: len(errs),
		},
		Errors:    errs,
		ExpiresAt: rec.ExpiresAt.UTC(),
	})
}

func (s *server) generate(nodes []model.Proxy, opt compiler.Options) (*compiler.Result, error) {
	opt.Base = s.opt.Base
	return compiler.Generate(nodes, s.opt.Catalog, opt)
}

func (s *server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.opt.Store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeErrorFromErr(w, notFound(id))
		return
	}
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	res, err := s.generate(rec.Nodes, rec.Options.Compiler())
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	body, err := render.Clash(res.Config)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/yaml; charset=utf-8")
	h.Set("Content-Disposition", contentDispositionAttachment("clash-config-"+id+".yaml"))
	h.Set("Cache-Control", "public, max-age=300")
	h.Set("X-Subscription-Nodes", strconv.Itoa(len(rec.Nodes)))
	h.Set("X-Subscription-Expires", rec.ExpiresAt.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	metrics.served.inc()
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, err := s.opt.Store.Delete(r.Context(), id)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	if !found {
		writeErrorFromErr(w, notFound(id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRulesets(w http.ResponseWriter, r *http.Request) {
	defaults := lo.SliceToMap(compiler.LegacyDefaultIDs, func(id string) (string, bool) { return id, true })
	out := lo.Map(s.opt.Catalog.All(), func(g catalog.Group, _ int) rulesetInfo {
		return rulesetInfo{ID: g.ID, Label: g.Label, Group: g.Name, Description: g.Description, Default: defaults[g.ID]}
	})
	w.Header().Set("Cache-Control", "public, max-age=3600")
	WriteJSON(w, http.StatusOK, map[string]any{"rulesets": out})
}

// baseURL is the scheme://host the client reached us on.
func (s *server) baseURL(r *http.Request) string {
	if b := strings.TrimRight(strings.TrimSpace(s.opt.PublicBaseURL), "/"); b != "" {
		return b
	}
	return deriveRequestBaseURL(r)
}

func deriveRequestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0]); p == "http" || p == "https" {
		scheme = p
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host
}

func contentDispositionAttachment(filename string) string {
	escaped := strings.ReplaceAll(filename, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("attachment; filename=\"%s\"", escaped)
}
