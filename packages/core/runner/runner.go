package runner

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/abdul-hamid-achik/parity/packages/capture"
	"github.com/abdul-hamid-achik/parity/packages/compare"
	"github.com/abdul-hamid-achik/parity/packages/core/env"
	"github.com/abdul-hamid-achik/parity/packages/db"
	"github.com/abdul-hamid-achik/parity/packages/export/metrics"
	"github.com/abdul-hamid-achik/parity/packages/http"
	"github.com/abdul-hamid-achik/parity/packages/schema"
	"github.com/abdul-hamid-achik/parity/packages/suite"
)

const (
	// DefaultConcurrency is the default number of comparisons in flight
	DefaultConcurrency = 5
	// DefaultLimit is the page size used when walking paginated endpoints
	DefaultLimit = 50

	// Target1 and Target2 label the two implementations in metrics.
	Target1 = "apiImpl1"
	Target2 = "apiImpl2"
)

type Config struct {
	NameFilter    string
	TagsFilter    []string
	Bail          bool
	Concurrency   int
	TestAllPages  bool
	DefaultLimit  int
	SampleSize    int
	SaveResponses bool
	OutputDir     string
	// Variables are bound for every endpoint of a suite, in addition to
	// the suite's own variables.
	Variables map[string]string
}

// Listener receives each case as soon as it is decided. Calls are
// serialized.
type Listener func(*CaseResult)

// Runner walks a suite and compares every endpoint between the two
// implementations of an environment.
type Runner struct {
	client   *http.ComparisonClient
	config   *Config
	logger   *log.Logger
	metrics  *metrics.Recorder
	store    *db.Client
	listener Listener
	resolver *env.Resolver
}

type Option func(*Runner)

func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics records request latencies and verdicts into m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithStore stores the run and every case in the history database.
func WithStore(s *db.Client) Option {
	return func(r *Runner) {
		r.store = s
	}
}

func WithListener(fn Listener) Option {
	return func(r *Runner) {
		r.listener = fn
	}
}

func NewRunner(client *http.ComparisonClient, cfg *Config, opts ...Option) *Runner {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &Runner{
		client:   client,
		config:   cfg,
		resolver: env.NewResolver(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.New()
		r.logger.SetLevel(log.PanicLevel)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewRecorder()
	}
	r.resolver.SetWarnFunc(r.logger.Debugf)
	return r
}

// Run compares every endpoint of s. The returned error is non-nil when
// the run could not start or ctx ended; a partial result is still
// returned in the latter case.
func (r *Runner) Run(ctx context.Context, s *suite.Suite) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		Suite:       s.Name,
		Environment: r.client.Env.Name,
		StartedAt:   start,
	}

	if s.Hooks != nil {
		if err := r.runHooks(ctx, "before", s.Hooks.Before, s.Dir(), r.hookEnv(s.Name, nil)); err != nil {
			return nil, err
		}
	}

	var stored *db.Run
	if r.store != nil {
		var err error
		stored, err = r.store.BeginRun(ctx, result.Environment, s.Name)
		if err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
		result.ID = stored.ID
	} else {
		result.ID = uuid.NewString()
	}

	st := r.newState(ctx, s, result.ID)
	defer st.cancel()

	scope := make(map[string]string, len(s.Variables)+len(r.config.Variables))
	maps.Copy(scope, r.config.Variables)
	maps.Copy(scope, s.Variables)

	r.logger.WithFields(log.Fields{
		"suite":       s.Name,
		"environment": result.Environment,
		"endpoints":   s.Count(),
	}).Info("starting run")

	st.endpoints(s.Endpoints, scope, nil)
	st.wg.Wait()

	sort.SliceStable(st.results, func(i, j int) bool {
		return before(st.results[i].order, st.results[j].order)
	})
	result.Results = st.results
	result.Bailed = st.bailed
	for _, c := range result.Results {
		switch {
		case c.Skipped:
			result.Skipped++
		case c.Passed:
			result.Passed++
		default:
			result.Failed++
			if c.Errored() {
				result.Errors++
			}
		}
	}
	result.Duration = time.Since(start)
	result.Metrics = r.metrics.Summary()

	if s.Hooks != nil {
		if err := r.runHooks(context.WithoutCancel(ctx), "after", s.Hooks.After, s.Dir(), r.hookEnv(s.Name, result)); err != nil {
			r.logger.WithError(err).Warn("after hook failed")
		}
	}

	if stored != nil {
		stored.Total, stored.Passed, stored.Failed, stored.Errors = result.Total(), result.Passed, result.Failed, result.Errors
		if err := r.store.FinishRun(context.WithoutCancel(ctx), stored); err != nil {
			r.logger.WithError(err).Warn("failed to finish run in history")
		}
	}

	r.logger.WithFields(log.Fields{
		"passed":   result.Passed,
		"failed":   result.Failed,
		"skipped":  result.Skipped,
		"duration": result.Duration,
	}).Info("run finished")

	return result, ctx.Err()
}

// state is the bookkeeping of one Run.
type state struct {
	*Runner
	ctx    context.Context
	cancel context.CancelFunc
	suite  *suite.Suite
	runID  string
	sem    chan struct{}
	wg     sync.WaitGroup

	selected map[*suite.Endpoint]bool
	needed   map[*suite.Endpoint]bool

	mu      sync.Mutex
	results []*CaseResult
	bailed  bool

	schemaMu sync.Mutex
	schemas  map[*suite.Endpoint]*schemaEntry
}

type schemaEntry struct {
	validator *schema.Validator
	err       error
}

func (r *Runner) newState(ctx context.Context, s *suite.Suite, runID string) *state {
	concurrency := r.config.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(ctx)
	st := &state{
		Runner:   r,
		ctx:      ctx,
		cancel:   cancel,
		suite:    s,
		runID:    runID,
		sem:      make(chan struct{}, concurrency),
		selected: map[*suite.Endpoint]bool{},
		needed:   map[*suite.Endpoint]bool{},
		schemas:  map[*suite.Endpoint]*schemaEntry{},
	}
	st.plan(s.Endpoints)
	return st
}

// plan marks the endpoints that pass the filters, and the ancestors that
// must be fetched to expand them.
func (st *state) plan(endpoints []*suite.Endpoint) bool {
	found := false
	for _, e := range endpoints {
		st.selected[e] = st.shouldRun(e)
		need := st.selected[e]
		for _, x := range e.Children {
			if st.plan(x.Endpoints) {
				need = true
			}
		}
		st.needed[e] = need
		found = found || need
	}
	return found
}

func (r *Runner) shouldRun(e *suite.Endpoint) bool {
	if r.config.NameFilter != "" && !matchesPattern(e.Name, r.config.NameFilter) {
		return false
	}
	if len(r.config.TagsFilter) > 0 && !hasAnyTag(e.Tags, r.config.TagsFilter) {
		return false
	}
	return true
}

func (st *state) endpoints(endpoints []*suite.Endpoint, scope map[string]string, key []int) {
	for i, e := range endpoints {
		if !st.needed[e] {
			continue
		}
		k := appendKey(key, i)
		st.wg.Add(1)
		go func() {
			defer st.wg.Done()
			st.endpoint(e, scope, k)
		}()
	}
}

func (st *state) endpoint(e *suite.Endpoint, scope map[string]string, key []int) {
	if st.ctx.Err() != nil {
		return
	}
	selected := st.selected[e]
	logger := st.logger.WithField("endpoint", e.Name)

	res := st.resolver.Clone()
	for k, v := range scope {
		res.SetVariable(k, v)
	}
	path := res.Resolve(e.Path)

	if e.Skip != "" {
		if selected {
			st.record(st.skipped(e, path, e.Skip, key))
		}
		return
	}
	if e.When != "" && scope[e.When] == "false" {
		if selected {
			st.record(st.skipped(e, path, e.When+" is false", key))
		}
		return
	}

	params := res.ResolveAll(e.Params)
	if missing := unresolved(res, e); len(missing) > 0 {
		if selected {
			msg := "unresolved variables: " + strings.Join(missing, ", ")
			st.record(&CaseResult{
				Endpoint:    e.Name,
				Path:        path,
				Params:      params,
				Tags:        e.Tags,
				Differences: []string{msg},
				order:       appendKey(key, 0, 0, 0),
			})
		}
		logger.Warnf("skipping %s: unresolved variables %v", e.Path, missing)
		return
	}

	var ref *http.Response
	if selected {
		ref = st.cases(e, path, params, key)
	} else {
		ref = st.fetch(path, params)
	}
	if len(e.Children) == 0 || ref == nil || !ref.IsSuccess() {
		return
	}

	ex := capture.NewExtractor(ref)
	for xi, x := range e.Children {
		bindings, skipped := ex.Expand(x, st.config.SampleSize)
		if skipped > 0 {
			logger.Warnf("%d item(s) of %s missing %q, skipping", skipped, x.Each, x.Value)
		}
		if len(bindings) == 0 {
			logger.Warnf("no %s found in %s for %s", x.As, path, x.Each)
			continue
		}
		logger.Infof("expanding %d %s(s) from %s", len(bindings), x.As, path)
		for bi, b := range bindings {
			child := make(map[string]string, len(scope)+len(b))
			maps.Copy(child, scope)
			maps.Copy(child, b)
			st.endpoints(x.Endpoints, child, appendKey(key, 1+xi, bi))
		}
	}
}

// cases compares every repetition and page of e and returns the first
// reference response.
func (st *state) cases(e *suite.Endpoint, path string, params map[string]string, key []int) *http.Response {
	var ref *http.Response
	for rep := 0; rep < e.Repeats(); rep++ {
		c := st.compareCase(e, path, params)
		if c == nil {
			return ref
		}
		c.order = appendKey(key, 0, 1, rep)
		st.record(c)
		if ref == nil {
			ref = c.Response1
		}
	}

	if !e.Paginated || !st.config.TestAllPages || ref == nil || !ref.IsSuccess() {
		return ref
	}
	total, ok := capture.NewExtractor(ref).Int("total")
	if !ok {
		return ref
	}
	limit := st.config.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	pages := int((total + int64(limit) - 1) / int64(limit))

	for page := 2; page <= pages; page++ {
		if st.ctx.Err() != nil {
			break
		}
		p := make(map[string]string, len(params)+2)
		maps.Copy(p, params)
		p["page"] = strconv.Itoa(page)
		p["limit"] = strconv.Itoa(limit)

		st.logger.WithField("endpoint", e.Name).Infof("comparing %s page %d/%d", path, page, pages)
		c := st.compareCase(e, path, p)
		if c == nil {
			break
		}
		c.order = appendKey(key, 0, page, 0)
		st.record(c)
	}
	return ref
}

// compareCase requests path from both implementations and judges the
// pair. It returns nil when the run was cancelled.
func (st *state) compareCase(e *suite.Endpoint, path string, params map[string]string) *CaseResult {
	if !st.acquire() {
		return nil
	}
	start := time.Now()
	r1, r2, err := st.client.CompareGet(st.ctx, path, params)
	st.release()

	c := &CaseResult{
		Endpoint: e.Name,
		Path:     path,
		Params:   params,
		Tags:     e.Tags,
		Duration: time.Since(start),
	}
	if err != nil {
		if st.ctx.Err() != nil {
			return nil
		}
		c.Error = err.Error()
		c.Differences = []string{err.Error()}
		return c
	}

	c.Response1, c.Response2 = r1, r2
	st.metrics.RecordRequest(Target1, r1.StatusCode, r1.Duration, r1.Attempts, r1.Error != "")
	st.metrics.RecordRequest(Target2, r2.StatusCode, r2.Duration, r2.Attempts, r2.Error != "")

	verdict := st.judge(e, r1, r2)
	c.Passed = verdict.Equal
	c.Differences = verdict.Differences
	st.metrics.RecordComparison(c.Passed)

	if st.config.SaveResponses {
		if err := SaveResponses(st.config.OutputDir, path, params, r1, r2); err != nil {
			st.logger.WithError(err).Warn("failed to save responses")
		}
	}

	logger := st.logger.WithFields(log.Fields{
		"endpoint": e.Name,
		"path":     c.Name(),
		"status1":  r1.StatusCode,
		"status2":  r2.StatusCode,
	})
	if c.Passed {
		logger.Info("responses match")
	} else {
		logger.WithField("differences", len(c.Differences)).Warn("responses differ")
	}
	return c
}

func (st *state) judge(e *suite.Endpoint, r1, r2 *http.Response) compare.Result {
	opts := compare.Options{IgnorePaths: e.Ignore, IgnoreArrayOrder: e.IgnoreOrder}
	a, b := r1.Observed(), r2.Observed()

	var v compare.Result
	switch {
	case e.Mode() == suite.ModeStatus:
		v = compare.CompareSuccess(a, b)
	case e.Paginated:
		v = compare.ComparePaginated(a, b, opts)
	default:
		v = compare.CompareObserved(a, b, opts)
	}

	if e.Schema == nil {
		return v
	}
	validator, err := st.schema(e)
	if err != nil {
		v.Equal = false
		v.Differences = append(v.Differences, fmt.Sprintf("Schema error: %v", err))
		return v
	}
	for i, resp := range []*http.Response{r1, r2} {
		if !resp.IsSuccess() {
			continue
		}
		for _, msg := range validator.Validate(resp.Body) {
			v.Equal = false
			v.Differences = append(v.Differences, fmt.Sprintf("API%d schema: %s", i+1, msg))
		}
	}
	return v
}

func (st *state) schema(e *suite.Endpoint) (*schema.Validator, error) {
	st.schemaMu.Lock()
	defer st.schemaMu.Unlock()
	entry, ok := st.schemas[e]
	if !ok {
		v, err := schema.Load(e.Schema, st.suite.Dir())
		entry = &schemaEntry{validator: v, err: err}
		st.schemas[e] = entry
	}
	return entry.validator, entry.err
}

// fetch requests path from apiImpl1 only, for endpoints that are filtered
// out but whose children are not.
func (st *state) fetch(path string, params map[string]string) *http.Response {
	if !st.acquire() {
		return nil
	}
	defer st.release()

	resp, err := st.client.Client.Get(st.ctx, st.client.Env.APIImpl1, path, params)
	if err != nil {
		return nil
	}
	st.metrics.RecordRequest(Target1, resp.StatusCode, resp.Duration, resp.Attempts, resp.Error != "")
	return resp
}

func (st *state) skipped(e *suite.Endpoint, path, reason string, key []int) *CaseResult {
	return &CaseResult{
		Endpoint:   e.Name,
		Path:       path,
		Tags:       e.Tags,
		Skipped:    true,
		SkipReason: reason,
		order:      appendKey(key, 0, 0, 0),
	}
}

// record keeps c, streams it to the listener and the store, and stops
// the run on the first failure when bailing.
func (st *state) record(c *CaseResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.bailed {
		return
	}
	if c.Differences == nil {
		c.Differences = []string{}
	}
	st.results = append(st.results, c)
	if st.listener != nil {
		st.listener(c)
	}

	if st.store != nil && !c.Skipped {
		s1, s2 := c.Status()
		row := &db.Result{
			RunID:       st.runID,
			Endpoint:    c.Endpoint,
			Path:        c.Path,
			Params:      c.ParamString(),
			Equal:       c.Passed,
			Status1:     s1,
			Status2:     s2,
			Differences: c.Differences,
		}
		if c.Response1 != nil {
			row.Duration1Ms = float64(c.Response1.Duration.Microseconds()) / 1000
		}
		if c.Response2 != nil {
			row.Duration2Ms = float64(c.Response2.Duration.Microseconds()) / 1000
		}
		if err := st.store.RecordResult(context.WithoutCancel(st.ctx), row); err != nil {
			st.logger.WithError(err).Warn("failed to record result")
		}
	}

	if st.config.Bail && !c.Passed && !c.Skipped {
		st.bailed = true
		st.cancel()
	}
}

func (st *state) acquire() bool {
	select {
	case st.sem <- struct{}{}:
		if st.ctx.Err() != nil {
			<-st.sem
			return false
		}
		return true
	case <-st.ctx.Done():
		return false
	}
}

func (st *state) release() {
	<-st.sem
}

func unresolved(res *env.Resolver, e *suite.Endpoint) []string {
	seen := map[string]bool{}
	var names []string
	templates := []string{e.Path}
	for _, v := range e.Params {
		templates = append(templates, v)
	}
	for _, t := range templates {
		for _, name := range res.Unresolved(t) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func appendKey(key []int, parts ...int) []int {
	out := make([]int, 0, len(key)+len(parts))
	out = append(out, key...)
	return append(out, parts...)
}

// matchesPattern matches name against a pattern where * stands for any
// run of characters.
func matchesPattern(name, pattern string) bool {
	if pattern == "" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return name == pattern
	}
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	rest := name[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	return strings.HasSuffix(rest, parts[len(parts)-1])
}

func hasAnyTag(tags []string, filters []string) bool {
	for _, filter := range filters {
		for _, tag := range tags {
			if tag == filter {
				return true
			}
		}
	}
	return false
}
