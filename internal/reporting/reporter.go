package reporting

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrRunNotFound   = errors.New("test run not found")
	ErrSuiteNotFound = errors.New("test suite not found")
	ErrTestNotFound  = errors.New("test not found")
)

type suiteRecord struct {
	id    string
	name  string
	tests []*Test
}

type runRecord struct {
	id        string
	name      string
	user      string
	status    Status
	createdAt time.Time
	startedAt *time.Time
	endedAt   *time.Time
	suites    []*suiteRecord
	tests     map[string]*Test
}

// Reporter keeps run, suite and test results in memory
type Reporter struct {
	mu        sync.RWMutex
	runs      map[string]*runRecord
	publisher EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Reporter
type Option func(*Reporter)

// WithPublisher forwards lifecycle events to p
func WithPublisher(p EventPublisher) Option {
	return func(r *Reporter) {
		r.publisher = p
	}
}

// WithLogger sets the logger used for publish failures
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

// NewReporter creates an empty reporter
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{
		runs:   make(map[string]*runRecord),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateTestRun registers a new run and returns its id
func (r *Reporter) CreateTestRun(name, user string) string {
	id := uuid.New().String()

	r.mu.Lock()
	r.runs[id] = &runRecord{
		id:        id,
		name:      name,
		user:      user,
		status:    StatusCreated,
		createdAt: r.now(),
		tests:     make(map[string]*Test),
	}
	r.mu.Unlock()

	return id
}

// StartTestRun marks the run as running
func (r *Reporter) StartTestRun(runID string) error {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	now := r.now()
	run.status = StatusRunning
	run.startedAt = &now
	r.mu.Unlock()

	r.publish(Event{Kind: EventRunStarted, RunID: runID, Timestamp: now})
	return nil
}

// EndTestRun marks the run as finished
func (r *Reporter) EndTestRun(runID string) error {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	now := r.now()
	run.status = StatusEnded
	run.endedAt = &now
	summary := run.summary()
	r.mu.Unlock()

	payload, _ := json.Marshal(summary)
	r.publish(Event{Kind: EventRunEnded, RunID: runID, Timestamp: now, Payload: payload})
	return nil
}

// CreateTestSuite registers a suite inside a run and returns its id
func (r *Reporter) CreateTestSuite(runID, name string) (string, error) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	id := uuid.New().String()
	run.suites = append(run.suites, &suiteRecord{id: id, name: name})
	r.mu.Unlock()

	r.publish(Event{Kind: EventSuiteCreated, RunID: runID, SuiteID: id, Timestamp: r.now()})
	return id, nil
}

// CreateTest registers a test case inside a suite and returns its id
func (r *Reporter) CreateTest(runID, suiteID, name, location string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	suite := run.suite(suiteID)
	if suite == nil {
		return "", fmt.Errorf("%w: %s", ErrSuiteNotFound, suiteID)
	}

	rec := &Test{
		ID:       uuid.New().String(),
		SuiteID:  suiteID,
		Name:     name,
		Location: location,
		Status:   StatusCreated,
	}
	suite.tests = append(suite.tests, rec)
	run.tests[rec.ID] = rec

	return rec.ID, nil
}

// StartTest marks a test as running
func (r *Reporter) StartTest(runID, testID string) error {
	r.mu.Lock()
	rec, err := r.test(runID, testID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	now := r.now()
	rec.Status = StatusRunning
	rec.StartedAt = &now
	suiteID := rec.SuiteID
	r.mu.Unlock()

	r.publish(Event{Kind: EventTestStarted, RunID: runID, SuiteID: suiteID, TestID: testID, Timestamp: now})
	return nil
}

// EndTest records the outcome of a test
func (r *Reporter) EndTest(runID, testID string, success bool, stdout string, additionalFiles []string, errMsg, stackTrace string) error {
	r.mu.Lock()
	rec, err := r.test(runID, testID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	now := r.now()
	rec.Status = StatusFailed
	if success {
		rec.Status = StatusPassed
	}
	rec.EndedAt = &now
	rec.Stdout = stdout
	rec.AdditionalFiles = append([]string(nil), additionalFiles...)
	rec.ErrorMessage = errMsg
	rec.StackTrace = stackTrace
	snapshot := *rec
	r.mu.Unlock()

	payload, _ := json.Marshal(snapshot)
	r.publish(Event{Kind: EventTestEnded, RunID: runID, SuiteID: snapshot.SuiteID, TestID: testID, Timestamp: now, Payload: payload})
	return nil
}

// Summary counts the outcomes of a run
func (r *Reporter) Summary(runID string) (Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.summary(), nil
}

// Run returns a snapshot of a run
func (r *Reporter) Run(runID string) (*TestRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.snapshot(), nil
}

// Runs returns snapshots of every run, oldest first
func (r *Reporter) Runs() []*TestRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TestRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Tests returns the tests of a run in creation order
func (r *Reporter) Tests(runID string) ([]Test, error) {
	run, err := r.Run(runID)
	if err != nil {
		return nil, err
	}
	tests := make([]Test, 0)
	for _, s := range run.Suites {
		tests = append(tests, s.Tests...)
	}
	return tests, nil
}

// test must be called with the lock held
func (r *Reporter) test(runID, testID string) (*Test, error) {
	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec, ok := run.tests[testID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}
	return rec, nil
}

func (r *Reporter) publish(event Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishEvent(event); err != nil {
		r.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("failed to publish event")
	}
}

func (run *runRecord) suite(id string) *suiteRecord {
	for _, s := range run.suites {
		if s.id == id {
			return s
		}
	}
	return nil
}

func (run *runRecord) summary() Summary {
	var s Summary
	for _, rec := range run.tests {
		s.Total++
		switch rec.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

func (run *runRecord) snapshot() *TestRun {
	out := &TestRun{
		ID:        run.id,
		Name:      run.name,
		User:      run.user,
		Status:    run.status,
		CreatedAt: run.createdAt,
		StartedAt: run.startedAt,
		EndedAt:   run.endedAt,
		Suites:    make([]TestSuite, 0, len(run.suites)),
		Summary:   run.summary(),
	}
	for _, s := range run.suites {
		suite := TestSuite{ID: s.id, Name: s.name, Tests: make([]Test, 0, len(s.tests))}
		for _, t := range s.tests {
			test := *t
			test.AdditionalFiles = append([]string(nil), t.AdditionalFiles...)
			suite.Tests = append(suite.Tests, test)
		}
		out.Suites = append(out.Suites, suite)
	}
	return out
}
