package runner

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
	"github.com/abdul-hamid-achik/parity/packages/db"
	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
	"github.com/abdul-hamid-achik/parity/packages/http"
	"github.com/abdul-hamid-achik/parity/packages/suite"
)

var sunnahRoutes = map[string]string{
	"/v1/collections":                               `{"total":3,"limit":2,"previous":null,"next":2,"data":[{"name":"bukhari","hasBooks":true,"hasChapters":true},{"name":"muslim","hasBooks":false,"hasChapters":false}]}`,
	"/v1/collections?page=2":                        `{"total":3,"limit":2,"previous":1,"next":null,"data":[{"name":"nasai","hasBooks":false,"hasChapters":false}]}`,
	"/v1/collections/bukhari":                       `{"name":"bukhari","collection":[{"lang":"en","title":"Sahih al-Bukhari"}]}`,
	"/v1/collections/muslim":                        `{"name":"muslim","collection":[{"lang":"en","title":"Sahih Muslim"}]}`,
	"/v1/collections/bukhari/books":                 `{"total":1,"limit":50,"data":[{"bookNumber":"1"}]}`,
	"/v1/collections/bukhari/books/1":               `{"bookNumber":"1","book":[{"lang":"en","name":"Revelation"}]}`,
	"/v1/collections/bukhari/books/1/chapters":      `{"total":1,"limit":50,"data":[{"chapterId":"1.00"}]}`,
	"/v1/collections/bukhari/books/1/chapters/1.00": `{"chapterId":"1.00","chapter":[{"lang":"en","chapterTitle":"How the Divine Revelation started"}]}`,
	"/v1/collections/bukhari/books/1/hadiths":       `{"total":1,"limit":50,"data":[{"hadithNumber":"1"}]}`,
	"/v1/collections/bukhari/hadiths/1":             `{"collection":"bukhari","hadithNumber":"1","hadith":[{"lang":"en","urn":10},{"lang":"ar","urn":20}]}`,
	"/v1/hadiths/10":                                `{"urn":10,"lang":"en"}`,
	"/v1/hadiths/20":                                `{"urn":20,"lang":"ar"}`,
}

// fakeAPI serves routes, with overrides taking precedence. Random
// hadiths differ on every call.
func fakeAPI(t *testing.T, overrides map[string]string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	var random atomic.Int64
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/hadiths/random" {
			fmt.Fprintf(w, `{"urn":%d}`, random.Add(1))
			return
		}

		key := r.URL.Path
		if page := r.URL.Query().Get("page"); page != "" {
			key += "?page=" + page
		}
		if body, ok := overrides[key]; ok {
			if body == "404" {
				w.WriteHeader(nethttp.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":{"code":404,"details":"not found"}}`))
				return
			}
			_, _ = w.Write([]byte(body))
			return
		}
		if body, ok := sunnahRoutes[key]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		w.WriteHeader(nethttp.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"details":"not found"}}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestRunner(t *testing.T, api1, api2 *httptest.Server, cfg *Config, opts ...Option) *Runner {
	t.Helper()
	client := http.NewClient(
		http.WithRetries(0),
		http.WithRequestDelay(0),
		http.WithBackoff(time.Millisecond, time.Millisecond, 1),
		http.WithJitter(0),
	)
	environment := &config.Environment{
		Name:     "test",
		APIImpl1: config.Target{BaseURL: api1.URL + "/v1", APIKey: "key-1"},
		APIImpl2: config.Target{BaseURL: api2.URL + "/v1", APIKey: "key-2"},
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = 2
	}
	if cfg.SampleSize == 0 {
		cfg.SampleSize = 5
	}
	return NewRunner(http.NewComparisonClient(client, environment), cfg, opts...)
}

func names(results []*CaseResult) []string {
	out := make([]string, len(results))
	for i, c := range results {
		out[i] = c.Name()
	}
	return out
}

func TestRunner_DefaultSuiteIdentical(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)

	r := newTestRunner(t, api1, api2, &Config{TestAllPages: true})
	result, err := r.Run(context.Background(), suite.Default())
	require.NoError(t, err)

	assert.Equal(t, "sunnah", result.Suite)
	assert.Equal(t, "test", result.Environment)
	assert.Len(t, result.ID, 36)
	assert.Equal(t, 15, result.Passed, names(result.Failures()))
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.InDelta(t, 100.0, result.PassRate(), 0.001)

	assert.Equal(t, []string{
		"collections",
		"collections?limit=2&page=2",
		"collections/bukhari",
		"collections/bukhari/books",
		"collections/bukhari/books/1",
		"collections/bukhari/books/1/chapters",
		"collections/bukhari/books/1/chapters/1.00",
		"collections/bukhari/books/1/hadiths",
		"collections/bukhari/hadiths/1",
		"hadiths/10",
		"hadiths/20",
		"collections/muslim",
		"collections/muslim/books",
		"hadiths/random",
		"hadiths/random",
		"hadiths/random",
	}, names(result.Results))

	skipped := result.Results[12]
	assert.True(t, skipped.Skipped)
	assert.Equal(t, "hasBooks is false", skipped.SkipReason)

	require.NotNil(t, result.Metrics)
	assert.Equal(t, int64(15), result.Metrics.Comparisons)
	assert.Equal(t, int64(15), result.Metrics.Target(Target1).Requests)
}

func TestRunner_ReportsDifferences(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, map[string]string{
		"/v1/collections/muslim": "404",
		"/v1/hadiths/20":         `{"urn":20,"lang":"en"}`,
		"/v1/collections?page=2": `{"total":3,"limit":2,"previous":1,"next":null,"data":[]}`,
	}, nil)

	r := newTestRunner(t, api1, api2, &Config{TestAllPages: true})
	result, err := r.Run(context.Background(), suite.Default())
	require.NoError(t, err)

	assert.Equal(t, 12, result.Passed)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, 0, result.Errors)

	failures := result.Failures()
	require.Len(t, failures, 3)

	assert.Equal(t, "collections?limit=2&page=2", failures[0].Name())
	assert.Contains(t, failures[0].Differences, "Data length differs: 1 vs 0")

	assert.Equal(t, "hadiths/20", failures[1].Name())
	assert.Equal(t, []string{`Response bodies differ: $.lang: "ar" vs "en"`}, failures[1].Differences)

	assert.Equal(t, "collections/muslim", failures[2].Name())
	assert.Equal(t, []string{"Status codes differ: 200 vs 404"}, failures[2].Differences)
	s1, s2 := failures[2].Status()
	assert.Equal(t, 200, s1)
	assert.Equal(t, 404, s2)
}

func TestRunner_RandomEndpointFailsOnError(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusInternalServerError)
	}))
	defer api2.Close()

	r := newTestRunner(t, api1, api2, &Config{NameFilter: "random-hadith"})
	result, err := r.Run(context.Background(), suite.Default())
	require.NoError(t, err)

	require.Len(t, result.Results, 3)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, []string{"API2 error: 500"}, result.Results[0].Differences)
}

func TestRunner_FilterFetchesAncestorsFromReferenceOnly(t *testing.T) {
	var hits1, hits2 atomic.Int64
	api1 := fakeAPI(t, nil, &hits1)
	api2 := fakeAPI(t, nil, &hits2)

	r := newTestRunner(t, api1, api2, &Config{NameFilter: "chapter"})
	result, err := r.Run(context.Background(), suite.Default())
	require.NoError(t, err)

	assert.Equal(t, []string{"collections/bukhari/books/1/chapters/1.00"}, names(result.Results))
	assert.Equal(t, int64(1), hits2.Load())
	// collections, books, chapters and the chapter itself
	assert.Equal(t, int64(4), hits1.Load())
}

func TestRunner_TagFilter(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)

	r := newTestRunner(t, api1, api2, &Config{TagsFilter: []string{"urn"}})
	result, err := r.Run(context.Background(), suite.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"hadiths/10", "hadiths/20"}, names(result.Results))
}

func TestRunner_SampleSize(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)

	r := newTestRunner(t, api1, api2, &Config{TagsFilter: []string{"urn"}, SampleSize: 1})
	result, err := r.Run(context.Background(), suite.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"hadiths/10"}, names(result.Results))
}

func TestRunner_Bail(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, map[string]string{"/v1/collections": "404"}, nil)

	r := newTestRunner(t, api1, api2, &Config{Bail: true, Concurrency: 1, TestAllPages: true})
	result, err := r.Run(context.Background(), suite.Default())
	require.NoError(t, err)

	assert.True(t, result.Bailed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "collections", result.Failures()[0].Name())
	// only random hadiths may have finished before the failure
	for _, c := range result.Results {
		if c.Passed {
			assert.Equal(t, "random-hadith", c.Endpoint)
		}
	}
}

func TestRunner_NetworkErrorCounted(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := httptest.NewServer(nethttp.NotFoundHandler())
	api2.Close()

	s := &suite.Suite{Name: "one", Endpoints: []*suite.Endpoint{{Name: "collections", Path: "collections"}}}
	r := newTestRunner(t, api1, api2, nil)
	result, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Errors)
	c := result.Results[0]
	assert.True(t, c.Errored())
	assert.Equal(t, "Status codes differ: 200 vs 0", c.Differences[0])
	assert.True(t, strings.HasPrefix(c.Differences[1], "API2 error: "))
}

func TestRunner_UnresolvedVariable(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)

	s := &suite.Suite{Endpoints: []*suite.Endpoint{{Name: "tenant", Path: "tenants/{{tenant}}"}}}
	r := newTestRunner(t, api1, api2, nil)
	result, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	c := result.Results[0]
	assert.Equal(t, []string{"unresolved variables: tenant"}, c.Differences)
	assert.False(t, c.Errored())
	assert.Nil(t, c.Response1)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Errors)

	r = newTestRunner(t, api1, api2, &Config{Variables: map[string]string{"tenant": "bukhari"}})
	s.Endpoints[0].Path = "collections/{{tenant}}"
	result, err = r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passed)
}

func TestRunner_IgnoreAndSchema(t *testing.T) {
	api1 := fakeAPI(t, map[string]string{"/v1/items": `{"id":1,"generatedAt":"a","tags":["x","y"]}`}, nil)
	api2 := fakeAPI(t, map[string]string{"/v1/items": `{"id":1,"generatedAt":"b","tags":["y","x"]}`}, nil)

	s := &suite.Suite{Endpoints: []*suite.Endpoint{{
		Name:        "items",
		Path:        "items",
		Ignore:      []string{"generatedAt"},
		IgnoreOrder: true,
		Schema:      map[string]any{"type": "object", "required": []any{"id", "name"}},
	}}}
	r := newTestRunner(t, api1, api2, nil)
	result, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	diffs := result.Results[0].Differences
	require.Len(t, diffs, 2)
	assert.True(t, strings.HasPrefix(diffs[0], "API1 schema: "))
	assert.True(t, strings.HasPrefix(diffs[1], "API2 schema: "))

	s.Endpoints[0].Schema = nil
	result, err = r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passed)
}

func TestRunner_SkipAndListener(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)

	var mu sync.Mutex
	var seen []string
	s := &suite.Suite{Endpoints: []*suite.Endpoint{
		{Name: "collections", Path: "collections"},
		{Name: "legacy", Path: "legacy", Skip: "removed upstream"},
	}}
	r := newTestRunner(t, api1, api2, nil, WithListener(func(c *CaseResult) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c.Endpoint)
	}))
	result, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Skipped)
	assert.ElementsMatch(t, []string{"collections", "legacy"}, seen)
	assert.Equal(t, "removed upstream", result.Results[1].SkipReason)
}

func TestRunner_StoreAndMetrics(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, map[string]string{"/v1/collections/muslim": "404"}, nil)

	store, err := db.Open(filepath.Join(t.TempDir(), "parity.db"))
	require.NoError(t, err)
	defer store.Close()

	recorder := metrics.NewRecorder()
	r := newTestRunner(t, api1, api2, &Config{TagsFilter: []string{"collections"}}, WithStore(store), WithMetrics(recorder))
	result, err := r.Run(context.Background(), suite.Default())
	require.NoError(t, err)

	run, err := store.Run(context.Background(), result.ID)
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.Equal(t, result.Total(), run.Total)
	assert.Equal(t, 1, run.Failed)

	rows, err := store.Results(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Len(t, rows, result.Total())

	failed, err := store.FailedEndpoints(context.Background(), db.FailureFilter{RunID: result.ID})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "collection", failed[0].Endpoint)

	assert.Equal(t, int64(result.Total()), recorder.Summary().Comparisons)
}

func TestRunner_SaveResponses(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)
	out := t.TempDir()

	s := &suite.Suite{Endpoints: []*suite.Endpoint{{Name: "collection", Path: "collections/bukhari", Params: map[string]string{"lang": "en"}}}}
	r := newTestRunner(t, api1, api2, &Config{SaveResponses: true, OutputDir: out})
	_, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, ResponsesDir, "collections_bukhari_lang_en_api1.json"))
	require.NoError(t, err)
	var saved SavedResponse
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, 200, saved.StatusCode)
	assert.Equal(t, "bukhari", saved.Body.(map[string]any)["name"])

	assert.FileExists(t, filepath.Join(out, ResponsesDir, "collections_bukhari_lang_en_api2.json"))
}

func TestRunner_Hooks(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)
	dir := t.TempDir()

	s := &suite.Suite{
		File:      filepath.Join(dir, "suite.yaml"),
		Hooks:     &suite.Hooks{Before: []string{"touch before.txt"}, After: []string{"touch after.txt"}},
		Endpoints: []*suite.Endpoint{{Name: "collections", Path: "collections"}},
	}
	r := newTestRunner(t, api1, api2, nil)
	_, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "before.txt"))
	assert.FileExists(t, filepath.Join(dir, "after.txt"))

	s.Hooks.Before = []string{"exit 3"}
	_, err = r.Run(context.Background(), s)
	assert.Error(t, err)
}

func TestRunner_HookEnvironment(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)
	dir := t.TempDir()

	s := &suite.Suite{
		Name:      "hooks",
		File:      filepath.Join(dir, "suite.yaml"),
		Hooks:     &suite.Hooks{After: []string{`echo "$PARITY_SUITE $PARITY_RUN_ID $PARITY_PASSED $PARITY_FAILED" > after.txt`}},
		Endpoints: []*suite.Endpoint{{Name: "collections", Path: "collections"}},
	}
	r := newTestRunner(t, api1, api2, nil)
	result, err := r.Run(context.Background(), s)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "after.txt"))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("hooks %s %d %d\n", result.ID, result.Passed, result.Failed), string(data))
}

func TestHookScript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.sh"), []byte("#!/bin/sh\n"), 0755))

	assert.Equal(t, filepath.Join(dir, "seed.sh")+" --fast", hookScript("./seed.sh --fast", dir))
	assert.Equal(t, filepath.Join(dir, "seed.sh"), hookScript("seed.sh", dir))
	assert.Equal(t, "echo hi", hookScript("echo hi", dir))
	assert.Equal(t, "/bin/true", hookScript("/bin/true", dir))
	assert.Equal(t, "missing.sh", hookScript("missing.sh", dir))
}

func TestRunner_ContextCancelled(t *testing.T) {
	api1 := fakeAPI(t, nil, nil)
	api2 := fakeAPI(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestRunner(t, api1, api2, nil)
	result, err := r.Run(ctx, suite.Default())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Empty(t, result.Results)
}

func TestWaitForService(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(nethttp.StatusOK)
	}))
	defer server.Close()

	err := WaitForService(context.Background(), WaitConfig{URL: server.URL, Timeout: 5 * time.Second, Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())

	err = WaitForService(context.Background(), WaitConfig{URL: server.URL, Status: 204, Timeout: 50 * time.Millisecond, Interval: 10 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got status 200")

	assert.NoError(t, WaitForService(context.Background(), WaitConfig{}, nil))
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name, pattern string
		want          bool
	}{
		{"collections", "", true},
		{"collections", "*", true},
		{"collections", "collections", true},
		{"collection", "collections", false},
		{"hadith-by-urn", "hadith*", true},
		{"hadith-by-urn", "*urn", true},
		{"hadith-by-urn", "*by*", true},
		{"hadith-by-urn", "h*by*n", true},
		{"aba", "ab*ba", false},
		{"books", "*urn", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPattern(tt.name, tt.pattern))
		})
	}
}

func TestResponseFileBase(t *testing.T) {
	assert.Equal(t, "collections", ResponseFileBase("/collections/", nil))
	assert.Equal(t, "collections_bukhari_books_limit_50_page_2", ResponseFileBase("collections/bukhari/books", map[string]string{"page": "2", "limit": "50"}))
}
