package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/parity/packages/core/runner"
	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
	"github.com/abdul-hamid-achik/parity/packages/http"
)

type recordingNotifier struct {
	calls []*RunSummary
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, s *RunSummary) error {
	r.calls = append(r.calls, s)
	return r.err
}

func (r *recordingNotifier) Name() string { return "recording" }

func summary(failed int) *RunSummary {
	return &RunSummary{Suite: "sunnah", Compared: 10, Equal: 10 - failed, Differing: failed}
}

func TestManager_Policies(t *testing.T) {
	tests := []struct {
		on      NotifyOn
		failed  int
		want    bool
		lastRun bool
	}{
		{NotifyAlways, 0, true, true},
		{NotifyAlways, 2, true, true},
		{NotifyFailure, 0, false, true},
		{NotifyFailure, 1, true, true},
		{NotifySuccess, 0, true, true},
		{NotifySuccess, 1, false, true},
		{NotifyRecovery, 0, false, true},
		{NotifyRecovery, 0, true, false},
		{NotifyRecovery, 3, true, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/failed=%d/last=%v", tt.on, tt.failed, tt.lastRun), func(t *testing.T) {
			rec := &recordingNotifier{}
			m := NewManager(tt.on, []Notifier{rec}, WithPreviousSuccess(tt.lastRun))
			sent, err := m.Notify(context.Background(), summary(tt.failed))
			require.NoError(t, err)
			assert.Equal(t, tt.want, sent)
			assert.Equal(t, tt.want, len(rec.calls) == 1)
		})
	}
}

func TestManager_RecoveryAcrossRuns(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(NotifyRecovery, nil)
	m.AddNotifier(rec)
	assert.Equal(t, 1, m.Len())

	_, _ = m.Notify(context.Background(), summary(1))
	_, _ = m.Notify(context.Background(), summary(0))
	_, _ = m.Notify(context.Background(), summary(0))

	require.Len(t, rec.calls, 2)
	assert.False(t, rec.calls[0].Recovered)
	assert.True(t, rec.calls[1].Recovered)
}

func TestManager_ReportsDeliveryError(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("boom")}
	m := NewManager(NotifyAlways, []Notifier{rec})
	sent, err := m.Notify(context.Background(), summary(0))
	assert.True(t, sent)
	assert.EqualError(t, err, "recording: boom")
}

func TestParseNotifyOn(t *testing.T) {
	on, err := ParseNotifyOn("")
	require.NoError(t, err)
	assert.Equal(t, NotifyFailure, on)

	on, err = ParseNotifyOn("recovery")
	require.NoError(t, err)
	assert.Equal(t, NotifyRecovery, on)

	_, err = ParseNotifyOn("sometimes")
	assert.Error(t, err)
}

func TestNewRunSummary(t *testing.T) {
	result := &runner.RunResult{
		ID: "abc", Suite: "sunnah", Environment: "dev", Duration: time.Second,
		Metrics: &metrics.Summary{Targets: []*metrics.TargetSummary{
			{Name: "apiImpl1", P95Ms: 120},
			{Name: "apiImpl2", P95Ms: 80.4},
		}},
	}
	for i := 0; i < 12; i++ {
		result.Results = append(result.Results, &runner.CaseResult{
			Endpoint:    "hadith",
			Path:        fmt.Sprintf("hadiths/%d", i),
			Differences: []string{"Status codes differ: 200 vs 500"},
			Response1:   &http.Response{StatusCode: 200},
			Response2:   &http.Response{StatusCode: 500},
		})
		result.Failed++
	}
	result.Results = append(result.Results, &runner.CaseResult{Endpoint: "collections", Path: "collections", Passed: true})
	result.Passed++

	s := NewRunSummary(result)
	assert.Equal(t, 13, s.Compared)
	assert.Equal(t, 12, s.Differing)
	assert.False(t, s.OK())
	assert.Len(t, s.Failures, maxFailedResults)
	assert.Equal(t, 2, s.More)
	assert.Equal(t, "hadiths/0", s.Failures[0].Name)
	assert.Equal(t, 200, s.Failures[0].Status1)
	assert.Equal(t, 500, s.Failures[0].Status2)
	assert.InDelta(t, 7.69, s.PassRate, 0.01)
	assert.Equal(t, 120*time.Millisecond, s.Latency["apiImpl1"])
}

func TestNewRunSummary_CaseError(t *testing.T) {
	result := &runner.RunResult{Suite: "sunnah"}
	result.Results = append(result.Results, &runner.CaseResult{
		Endpoint:    "books",
		Path:        "collections/bukhari/books",
		Error:       "unresolved variable collectionName",
		Differences: []string{"Status codes differ: 0 vs 0"},
	})
	result.Failed++

	s := NewRunSummary(result)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, []string{"unresolved variable collectionName", "Status codes differ: 0 vs 0"}, s.Failures[0].Differences)
	assert.Nil(t, s.Latency)
}

func TestRunSummary_Facts(t *testing.T) {
	s := summary(0)
	s.Errored = 1
	s.Environment = "staging"
	s.Latency = map[string]time.Duration{"apiImpl2": 80 * time.Millisecond, "apiImpl1": 120 * time.Millisecond}

	var labels []string
	for _, f := range s.facts() {
		labels = append(labels, f[0])
	}
	assert.Equal(t, []string{"Suite", "Compared", "Differing", "Pass Rate", "Duration", "Environment", "Request Errors", "apiImpl1 p95", "apiImpl2 p95"}, labels)
	assert.Equal(t, "All 10 comparison(s) match", s.title())
}

func webhook(t *testing.T, status int) (*httptest.Server, *[]byte) {
	t.Helper()
	var body []byte
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, nethttp.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &body
}

func TestSlackNotifier(t *testing.T) {
	server, body := webhook(t, nethttp.StatusOK)

	n := NewSlackNotifier(server.URL, WithSlackChannel("#parity"))
	assert.Equal(t, "slack", n.Name())

	s := summary(1)
	s.RunID = "run-1"
	s.Failures = []Failure{{Name: "hadiths/1", Status1: 200, Status2: 500, Differences: []string{"Status codes differ: 200 vs 500"}}}
	require.NoError(t, n.Notify(context.Background(), s))

	var msg slackMessage
	require.NoError(t, json.Unmarshal(*body, &msg))
	assert.Equal(t, "#parity", msg.Channel)
	assert.Equal(t, "parity", msg.Username)
	require.Len(t, msg.Attachments, 1)
	a := msg.Attachments[0]
	assert.Equal(t, "danger", a.Color)
	assert.Equal(t, ":x: 1 of 10 comparison(s) differ", a.Title)
	assert.Contains(t, a.Text, "`hadiths/1` (200 vs 500)")
	assert.Contains(t, a.Text, "Status codes differ: 200 vs 500")
	assert.Equal(t, "parity run run-1", a.Footer)
	assert.Equal(t, slackField{Title: "Suite", Value: "sunnah", Short: true}, a.Fields[0])
}

func TestSlackNotifier_Recovery(t *testing.T) {
	server, body := webhook(t, nethttp.StatusOK)

	s := summary(0)
	s.Recovered = true
	require.NoError(t, NewSlackNotifier(server.URL).Notify(context.Background(), s))

	var msg slackMessage
	require.NoError(t, json.Unmarshal(*body, &msg))
	assert.Equal(t, "good", msg.Attachments[0].Color)
	assert.Equal(t, ":tada: Implementations match again", msg.Attachments[0].Title)
	assert.Empty(t, msg.Attachments[0].Text)
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server, _ := webhook(t, nethttp.StatusForbidden)
	err := NewSlackNotifier(server.URL).Notify(context.Background(), summary(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack webhook returned status 403")
}

func TestTeamsNotifier(t *testing.T) {
	server, body := webhook(t, nethttp.StatusAccepted)

	n := NewTeamsNotifier(server.URL)
	assert.Equal(t, "teams", n.Name())

	s := summary(2)
	s.Environment = "staging"
	s.Failures = []Failure{{Name: "collections/bukhari", Status1: 200, Status2: 404}}
	s.More = 1
	require.NoError(t, n.Notify(context.Background(), s))

	var msg teamsMessage
	require.NoError(t, json.Unmarshal(*body, &msg))
	assert.Equal(t, "message", msg.Type)
	require.Len(t, msg.Attachments, 1)
	blocks := msg.Attachments[0].Content.Body
	assert.Equal(t, "✗ 2 of 10 comparison(s) differ", blocks[0].Text)
	assert.Equal(t, "attention", blocks[0].Color)
	assert.Equal(t, "FactSet", blocks[1].Type)
	assert.Contains(t, blocks[1].Facts, teamsFact{Title: "Environment", Value: "staging"})

	var texts []string
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, "- `collections/bukhari` (200 vs 404)")
	assert.Contains(t, joined, "- …and 1 more")
}

func TestTeamsNotifier_ErrorStatus(t *testing.T) {
	server, _ := webhook(t, nethttp.StatusBadRequest)
	err := NewTeamsNotifier(server.URL).Notify(context.Background(), summary(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teams webhook returned status 400")
}
