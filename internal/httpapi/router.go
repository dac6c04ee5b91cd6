package httpapi

import "net/http"

func NewMux() *http.ServeMux {
	return NewMuxWithOptions(Options{})
}

func NewMuxWithOptions(opt Options) *http.ServeMux {
	s := &server{opt: opt.withDefaults()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/rulesets", s.handleRulesets)
	mux.HandleFunc("POST /api/fetch", s.handleFetch)
	mux.HandleFunc("POST /api/preview", s.handlePreview)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/merge", s.handleMerge)
	mux.HandleFunc("GET /api/subscribe", s.handleMergeSubscribe)
	mux.HandleFunc("GET /api/subscribe/{id}", s.handleSubscribe)
	mux.HandleFunc("DELETE /api/subscribe/{id}", s.handleDelete)
	return mux
}
