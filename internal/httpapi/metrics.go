package httpapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// counterVec is a Prometheus-style counter keyed by label values.
type counterVec struct {
	name   string
	help   string
	labels []string

	mu   sync.Mutex
	vals map[string]uint64
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	return &counterVec{name: name, help: help, labels: labels, vals: make(map[string]uint64)}
}

func (c *counterVec) add(n uint64, values ...string) {
	for i, v := range values {
		if v = strings.TrimSpace(v); v == "" {
			v = "(unknown)"
		}
		values[i] = v
	}
	key := strings.Join(values, "\xff")

	c.mu.Lock()
	c.vals[key] += n
	c.mu.Unlock()
}

func (c *counterVec) inc(values ...string) { c.add(1, values...) }

func (c *counterVec) writeTo(b *strings.Builder) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.vals))
	for k := range c.vals {
		keys = append(keys, k)
	}
	snapshot := make(map[string]uint64, len(c.vals))
	for k, v := range c.vals {
		snapshot[k] = v
	}
	c.mu.Unlock()
	sort.Strings(keys)

	b.WriteString("# HELP " + c.name + " " + c.help + "\n")
	b.WriteString("# TYPE " + c.name + " counter\n")
	if len(c.labels) == 0 {
		b.WriteString(c.name + " " + strconv.FormatUint(snapshot[""], 10) + "\n")
		return
	}
	for _, k := range keys {
		b.WriteString(c.name)
		b.WriteString(promLabels(c.labels, strings.Split(k, "\xff")))
		b.WriteString(" " + strconv.FormatUint(snapshot[k], 10) + "\n")
	}
}

func promLabels(names, values []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, n := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(n + `="` + promLabelEscape(values[i]) + `"`)
	}
	b.WriteByte('}')
	return b.String()
}

// metricsStore holds the process-wide counters.
type metricsStore struct {
	requests    *counterVec
	byPattern   *counterVec
	appErrors   *counterVec
	parsedLines *counterVec
	generated   *counterVec
	served      *counterVec
}

func newMetricsStore() *metricsStore {
	return &metricsStore{
		requests:    newCounterVec("subgen_http_requests_total", "Total HTTP requests."),
		byPattern:   newCounterVec("subgen_http_requests_by_pattern_total", "HTTP requests by ServeMux pattern and status.", "pattern", "status"),
		appErrors:   newCounterVec("subgen_app_errors_total", "Application errors returned to clients.", "stage", "code"),
		parsedLines: newCounterVec("subgen_parsed_lines_total", "Subscription entries parsed, by result.", "result"),
		generated:   newCounterVec("subgen_subscriptions_generated_total", "Configs stored by /api/generate."),
		served:      newCounterVec("subgen_subscriptions_served_total", "Stored configs served by /api/subscribe/{id}."),
	}
}

func (m *metricsStore) all() []*counterVec {
	return []*counterVec{m.requests, m.byPattern, m.appErrors, m.parsedLines, m.generated, m.served}
}

var metrics = newMetricsStore()

func metricsIncRequest(pattern string, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	metrics.requests.inc()
	metrics.byPattern.inc(pattern, strconv.Itoa(status))
}

func metricsIncAppError(stage, code string) {
	metrics.appErrors.inc(stage, code)
}

func metricsAddParsed(ok, failed int) {
	if ok > 0 {
		metrics.parsedLines.add(uint64(ok), "ok")
	}
	if failed > 0 {
		metrics.parsedLines.add(uint64(failed), "error")
	}
}

// handleMetrics renders every counter plus the store gauge. The gauge is
// omitted when the store cannot report.
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	for _, c := range metrics.all() {
		c.writeTo(&b)
	}
	if st, err := s.opt.Store.Stats(r.Context()); err == nil {
		b.WriteString("# HELP subgen_store_records Stored subscriptions, expired ones included until swept.\n")
		b.WriteString("# TYPE subgen_store_records gauge\n")
		b.WriteString("subgen_store_records" + promLabels([]string{"driver"}, []string{st.Driver}))
		b.WriteString(" " + strconv.Itoa(st.Count) + "\n")
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteText(w, http.StatusOK, b.String())
}

func promLabelEscape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return strings.ReplaceAll(s, "\n", "\\n")
}
