package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Exporter writes a run summary somewhere.
type Exporter interface {
	Export(s *Summary) error
}

// JSONExporter exports metrics to JSON format
type JSONExporter struct {
	writer   io.Writer
	filePath string
	pretty   bool
	runID    string
}

// JSONOption is a functional option for JSONExporter
type JSONOption func(*JSONExporter)

// WithJSONWriter sets the output writer for JSON metrics
func WithJSONWriter(w io.Writer) JSONOption {
	return func(j *JSONExporter) {
		j.writer = w
	}
}

// WithJSONFile sets the output file for JSON metrics
func WithJSONFile(path string) JSONOption {
	return func(j *JSONExporter) {
		j.filePath = path
	}
}

// WithJSONPretty enables pretty-printed JSON output
func WithJSONPretty(pretty bool) JSONOption {
	return func(j *JSONExporter) {
		j.pretty = pretty
	}
}

// WithJSONRunID labels the output with the run it belongs to.
func WithJSONRunID(id string) JSONOption {
	return func(j *JSONExporter) {
		j.runID = id
	}
}

func NewJSONExporter(opts ...JSONOption) *JSONExporter {
	j := &JSONExporter{pretty: true}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

type jsonOutput struct {
	GeneratedAt string   `json:"generated_at"`
	RunID       string   `json:"run_id,omitempty"`
	Summary     *Summary `json:"summary"`
}

func (j *JSONExporter) Export(s *Summary) error {
	out := jsonOutput{
		GeneratedAt: time.Now().Format(time.RFC3339),
		RunID:       j.runID,
		Summary:     s,
	}

	var (
		data []byte
		err  error
	)
	if j.pretty {
		data, err = json.MarshalIndent(out, "", "  ")
	} else {
		data, err = json.Marshal(out)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	data = append(data, '\n')

	if j.filePath != "" {
		if err := os.WriteFile(j.filePath, data, 0644); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}
	if j.writer != nil {
		if _, err := j.writer.Write(data); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}
