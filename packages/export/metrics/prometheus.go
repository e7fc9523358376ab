package metrics

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// PrometheusExporter writes the summary in the Prometheus text exposition
// format, suitable for the node_exporter textfile collector.
type PrometheusExporter struct {
	writer   io.Writer
	filePath string
	labels   map[string]string
}

// PrometheusOption is a functional option for PrometheusExporter
type PrometheusOption func(*PrometheusExporter)

// WithPrometheusWriter sets the output writer for Prometheus metrics
func WithPrometheusWriter(w io.Writer) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.writer = w
	}
}

func WithPrometheusFile(path string) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.filePath = path
	}
}

// WithPrometheusLabels adds constant labels, such as the environment, to
// every sample.
func WithPrometheusLabels(labels map[string]string) PrometheusOption {
	return func(p *PrometheusExporter) {
		p.labels = labels
	}
}

func NewPrometheusExporter(opts ...PrometheusOption) *PrometheusExporter {
	p := &PrometheusExporter{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PrometheusExporter) Export(s *Summary) error {
	var buf bytes.Buffer
	p.writeMetrics(&buf, s)

	if p.filePath != "" {
		if err := os.WriteFile(p.filePath, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}
	if p.writer != nil {
		if _, err := p.writer.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

func (p *PrometheusExporter) writeMetrics(w io.Writer, s *Summary) {
	header := func(name, typ, help string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
	}

	header("parity_comparisons_total", "counter", "Comparisons performed")
	fmt.Fprintf(w, "parity_comparisons_total%s %d\n", p.labelSet(nil), s.Comparisons)
	header("parity_comparisons_different_total", "counter", "Comparisons whose responses differed")
	fmt.Fprintf(w, "parity_comparisons_different_total%s %d\n", p.labelSet(nil), s.Different)
	fmt.Fprintln(w)

	header("parity_requests_total", "counter", "Requests sent per implementation")
	for _, t := range s.Targets {
		fmt.Fprintf(w, "parity_requests_total%s %d\n", p.labelSet(map[string]string{"target": t.Name}), t.Requests)
	}
	header("parity_request_errors_total", "counter", "Requests that failed after all retries")
	for _, t := range s.Targets {
		fmt.Fprintf(w, "parity_request_errors_total%s %d\n", p.labelSet(map[string]string{"target": t.Name}), t.Errors)
	}
	header("parity_request_retries_total", "counter", "Retries sent per implementation")
	for _, t := range s.Targets {
		fmt.Fprintf(w, "parity_request_retries_total%s %d\n", p.labelSet(map[string]string{"target": t.Name}), t.Retries)
	}
	fmt.Fprintln(w)

	header("parity_request_duration_ms", "summary", "Request duration in milliseconds")
	for _, t := range s.Targets {
		for _, q := range []struct {
			quantile string
			value    float64
		}{{"0.5", t.P50Ms}, {"0.9", t.P90Ms}, {"0.95", t.P95Ms}, {"0.99", t.P99Ms}} {
			labels := map[string]string{"target": t.Name, "quantile": q.quantile}
			fmt.Fprintf(w, "parity_request_duration_ms%s %.3f\n", p.labelSet(labels), q.value)
		}
	}
	fmt.Fprintln(w)

	header("parity_responses_by_status_total", "counter", "Responses by HTTP status code")
	for _, t := range s.Targets {
		codes := make([]int, 0, len(t.StatusCodes))
		for code := range t.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			labels := map[string]string{"target": t.Name, "status": fmt.Sprint(code)}
			fmt.Fprintf(w, "parity_responses_by_status_total%s %d\n", p.labelSet(labels), t.StatusCodes[code])
		}
	}
}

// labelSet renders constant and extra labels sorted by name.
func (p *PrometheusExporter) labelSet(extra map[string]string) string {
	all := make(map[string]string, len(p.labels)+len(extra))
	for k, v := range p.labels {
		all[k] = v
	}
	for k, v := range extra {
		all[k] = v
	}
	if len(all) == 0 {
		return ""
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=\"%s\"", k, sanitizeLabel(all[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// sanitizeLabel makes a string safe for use as a Prometheus label value
func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
