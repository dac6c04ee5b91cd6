package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/John-Robertt/subgen-go/internal/merge"
)

// mergeRequest is the link-passthrough form: both fields are newline
// separated text, as pasted.
type mergeRequest struct {
	Sources     string `json:"sources"`
	ManualNodes string `json:"manualNodes"`
}

type mergeResponse struct {
	Nodes []string `json:"nodes"`
}

func (s *server) runMerge(ctx context.Context, req mergeRequest) ([]string, error) {
	sources := merge.ParseSources(req.Sources)
	manual := merge.ParseManualNodes(req.ManualNodes)
	if len(sources) == 0 && len(manual) == 0 {
		return nil, requestError("INVALID_ARGUMENT", "请输入订阅地址或手动节点", "")
	}
	for _, src := range sources {
		if err := validSourceURL(src.URL); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opt.RequestTimeout)
	defer cancel()
	return merge.Sources(ctx, s.opt.Fetcher, sources, manual, s.opt.FetchConcurrency)
}

func (s *server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	nodes, err := s.runMerge(r.Context(), req)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	if nodes == nil {
		nodes = []string{}
	}
	WriteJSON(w, http.StatusOK, mergeResponse{Nodes: nodes})
}

// handleMergeSubscribe serves a merged link list from a self-contained
// query: data is base64 of a mergeRequest JSON object.
func (s *server) handleMergeSubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload := q.Get("data")
	if payload == "" {
		writeErrorFromErr(w, requestError("INVALID_ARGUMENT", "缺少 data 参数", ""))
		return
	}
	format := q.Get("format")
	if format == "" {
		format = "base64"
	}
	if format != "base64" && format != "plain" {
		writeErrorFromErr(w, requestError("INVALID_ARGUMENT", "format 只支持 base64/plain", format))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(strings.TrimSpace(payload))
	}
	if err != nil {
		writeErrorFromErr(w, requestError("INVALID_ARGUMENT", "data 参数解析失败", err.Error()))
		return
	}
	var req mergeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeErrorFromErr(w, requestError("INVALID_ARGUMENT", "data JSON 无效", err.Error()))
		return
	}

	nodes, err := s.runMerge(r.Context(), req)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}
	if format == "plain" {
		WriteText(w, http.StatusOK, strings.Join(nodes, "\n"))
		return
	}
	WriteText(w, http.StatusOK, merge.Encode(nodes))
}
