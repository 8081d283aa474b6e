// Package mock provides an in-memory search platform for tests.
package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/dupreaper/internal/dedup"
	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

// ErrTransport simulates a failed network call.
var ErrTransport = errors.New("mock transport error")

// Job scripts the lifecycle of a submitted search.
type Job struct {
	// States are returned by successive status checks; the last one repeats.
	States []models.JobStatus
	// Message is reported alongside a Failed state.
	Message string
	// StatusErrs makes the first N status checks fail with ErrTransport.
	StatusErrs int
	// SubmitErr makes Submit fail before a handle exists.
	SubmitErr error
	// Deleted is the count reported for a finished job. When DeletedFunc is
	// set it takes precedence.
	Deleted     int64
	DeletedFunc func(query string) int64
	CountErr    error
	// CountErrFor makes ResultCount fail with ErrTransport until this long
	// after its first call.
	CountErrFor time.Duration
	// Records are returned by Extract.
	Records    []models.Candidate
	ExtractErr error
}

// Match selects the scripted job for a submitted query.
type Match func(query string) bool

// Contains matches queries containing s.
func Contains(s string) Match {
	return func(q string) bool { return strings.Contains(q, s) }
}

// IsDeletion matches deletion queries.
func IsDeletion() Match { return Contains("| delete") }

// IsDiscovery matches discovery queries.
func IsDiscovery() Match {
	return func(q string) bool { return !strings.Contains(q, "| delete") }
}

// CountPredicates returns the number of per-event predicates in a deletion query.
func CountPredicates(query string) int64 {
	return int64(strings.Count(query, "(eventID="))
}

type rule struct {
	match Match
	job   Job
}

type jobState struct {
	query    string
	job      Job
	checks   int
	terminal bool

	firstCount time.Time
	counts     int
}

// Platform implements dedup.JobClient and dedup.ResultExtractor with scripted
// jobs. Unmatched queries run once and finish Done, deleting every predicate.
type Platform struct {
	// OnSubmit is called after each successful submission.
	OnSubmit func(query string)

	mu        sync.Mutex
	rules     []rule
	jobs      map[string]*jobState
	submitted []string
	seq       int
	inFlight  int
	peak      int
}

func NewPlatform() *Platform {
	return &Platform{jobs: make(map[string]*jobState)}
}

// On registers job for queries matching m. The first matching rule wins.
func (p *Platform) On(m Match, job Job) *Platform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, rule{match: m, job: job})
	return p
}

func (p *Platform) Submit(ctx context.Context, query string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	job := p.lookup(query)
	if job.SubmitErr != nil {
		p.mu.Unlock()
		return "", job.SubmitErr
	}
	p.seq++
	sid := fmt.Sprintf("mock-%d", p.seq)
	p.jobs[sid] = &jobState{query: query, job: job}
	p.submitted = append(p.submitted, query)
	p.inFlight++
	p.peak = max(p.peak, p.inFlight)
	hook := p.OnSubmit
	p.mu.Unlock()

	if hook != nil {
		hook(query)
	}
	return sid, nil
}

func (p *Platform) Status(_ context.Context, sid string) (models.JobState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	js, ok := p.jobs[sid]
	if !ok {
		return models.JobState{}, fmt.Errorf("unknown sid %s", sid)
	}
	js.checks++
	if js.checks <= js.job.StatusErrs {
		return models.JobState{}, ErrTransport
	}

	states := js.job.States
	if len(states) == 0 {
		states = []models.JobStatus{models.JobStatusDone}
	}
	idx := min(js.checks-js.job.StatusErrs-1, len(states)-1)
	st := models.JobState{Status: states[idx], Progress: float64(idx+1) / float64(len(states))}
	if st.Status == models.JobStatusFailed {
		st.Message = js.job.Message
	}
	if st.Status.IsTerminal() && !js.terminal {
		js.terminal = true
		p.inFlight--
	}
	return st, nil
}

func (p *Platform) ResultCount(_ context.Context, sid string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	js, ok := p.jobs[sid]
	if !ok {
		return 0, fmt.Errorf("unknown sid %s", sid)
	}
	js.counts++
	if js.firstCount.IsZero() {
		js.firstCount = time.Now()
	}
	if js.job.CountErr != nil {
		return 0, js.job.CountErr
	}
	if time.Since(js.firstCount) < js.job.CountErrFor {
		return 0, ErrTransport
	}
	if js.job.DeletedFunc != nil {
		return js.job.DeletedFunc(js.query), nil
	}
	return js.job.Deleted, nil
}

func (p *Platform) Extract(_ context.Context, sid string) ([]models.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	js, ok := p.jobs[sid]
	if !ok {
		return nil, fmt.Errorf("unknown sid %s", sid)
	}
	if js.job.ExtractErr != nil {
		return nil, js.job.ExtractErr
	}
	out := make([]models.Candidate, len(js.job.Records))
	copy(out, js.job.Records)
	return out, nil
}

// Submitted returns every successfully submitted query in submission order.
func (p *Platform) Submitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.submitted))
	copy(out, p.submitted)
	return out
}

// PeakInFlight is the largest number of submitted jobs observed at once
// before reaching a terminal state.
func (p *Platform) PeakInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Checks returns how many status checks were made for sid.
// CountCalls reports how many times ResultCount was called for sid.
func (p *Platform) CountCalls(sid string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if js, ok := p.jobs[sid]; ok {
		return js.counts
	}
	return 0
}

func (p *Platform) Checks(sid string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if js, ok := p.jobs[sid]; ok {
		return js.checks
	}
	return 0
}

func (p *Platform) lookup(query string) Job {
	for _, r := range p.rules {
		if r.match(query) {
			return r.job
		}
	}
	return Job{
		States:      []models.JobStatus{models.JobStatusRunning, models.JobStatusDone},
		DeletedFunc: CountPredicates,
	}
}

var (
	_ dedup.JobClient       = (*Platform)(nil)
	_ dedup.ResultExtractor = (*Platform)(nil)
)
