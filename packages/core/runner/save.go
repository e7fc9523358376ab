package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/parity/packages/http"
)

// ResponsesDir is the directory under the output directory that saved
// responses are written to.
const ResponsesDir = "responses"

// SavedResponse is the on-disk form of one response.
type SavedResponse struct {
	StatusCode int               `json:"status_code"`
	Body       any               `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func NewSavedResponse(r *http.Response) *SavedResponse {
	return &SavedResponse{
		StatusCode: r.StatusCode,
		Body:       r.JSON,
		Headers:    r.Headers,
		Error:      r.Error,
	}
}

// ResponseFileBase returns the file name prefix for a request, e.g.
// "collections_bukhari_limit_50_page_2".
func ResponseFileBase(path string, params map[string]string) string {
	name := strings.Trim(strings.ReplaceAll(path, "/", "_"), "_")
	if len(params) == 0 {
		return name
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"_"+params[k])
	}
	return name + "_" + strings.Join(parts, "_")
}

// SaveResponses writes both responses of a request to
// <outputDir>/responses/<base>_api1.json and _api2.json.
func SaveResponses(outputDir, path string, params map[string]string, r1, r2 *http.Response) error {
	dir := filepath.Join(outputDir, ResponsesDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating responses directory: %w", err)
	}
	base := ResponseFileBase(path, params)
	for i, r := range []*http.Response{r1, r2} {
		data, err := json.MarshalIndent(NewSavedResponse(r), "", "  ")
		if err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
		file := filepath.Join(dir, fmt.Sprintf("%s_api%d.json", base, i+1))
		if err := os.WriteFile(file, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", file, err)
		}
	}
	return nil
}
