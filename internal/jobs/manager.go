package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Belfering/QuantNexus-sub009/pkg/engine"
	"github.com/Belfering/QuantNexus-sub009/pkg/optimize"
	"github.com/Belfering/QuantNexus-sub009/pkg/series"
)

// Submission errors
var (
	ErrTooManyJobs = errors.New("active job limit reached")
	ErrJobNotFound = errors.New("job not found")
)

// Config bounds the orchestrator's resource usage
type Config struct {
	Workers       int `mapstructure:"workers"`
	MaxBranches   int `mapstructure:"max_branches"`
	MaxActiveJobs int `mapstructure:"max_active_jobs"`
}

// DefaultConfig returns conservative orchestration limits
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		MaxBranches:   5000,
		MaxActiveJobs: 2,
	}
}

type job struct {
	mu sync.RWMutex

	id          uuid.UUID
	status      Status
	progress    Progress
	errMsg      string
	submittedAt time.Time
	startedAt   *time.Time
	completedAt *time.Time
	results     []BranchResult

	cancel context.CancelFunc
}

// Manager owns all optimization jobs. Each job runs its branch
// combinations on a bounded worker pool over one shared read-only
// series cache; branches fail independently and every result, passing
// or failing, is retained.
type Manager struct {
	provider series.Provider
	config   Config

	mu   sync.RWMutex
	jobs map[uuid.UUID]*job
}

// NewManager builds a job manager over a series provider
func NewManager(provider series.Provider, config Config) *Manager {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Manager{
		provider: provider,
		config:   config,
		jobs:     make(map[uuid.UUID]*job),
	}
}

// Submit validates a request, enumerates its branch combinations and
// starts the run loop. The full product size is computed before any
// branch runs; oversized sweeps and over-capacity submissions are
// rejected here rather than discovered mid-run.
func (m *Manager) Submit(req *Request) (uuid.UUID, error) {
	if req == nil || req.Tree == nil {
		jobsRejected.Inc()
		return uuid.Nil, fmt.Errorf("missing strategy tree")
	}
	if err := req.Tree.Validate(); err != nil {
		jobsRejected.Inc()
		return uuid.Nil, err
	}

	combos, err := optimize.Enumerate(req.Ranges, req.Choices, m.config.MaxBranches)
	if err != nil {
		jobsRejected.Inc()
		return uuid.Nil, err
	}

	m.mu.Lock()
	running := 0
	for _, j := range m.jobs {
		j.mu.RLock()
		if !j.status.Terminal() {
			running++
		}
		j.mu.RUnlock()
	}
	if m.config.MaxActiveJobs > 0 && running >= m.config.MaxActiveJobs {
		m.mu.Unlock()
		jobsRejected.Inc()
		return uuid.Nil, fmt.Errorf("%w: %d running", ErrTooManyJobs, running)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:          uuid.New(),
		status:      StatusIdle,
		progress:    Progress{Total: len(combos)},
		submittedAt: time.Now(),
		cancel:      cancel,
	}
	m.jobs[j.id] = j
	m.mu.Unlock()

	jobsSubmitted.Inc()
	log.Info().
		Str("job_id", j.id.String()).
		Int("branches", len(combos)).
		Msg("Optimization job submitted")

	go m.run(ctx, j, req, combos)
	return j.id, nil
}

// run is the owning loop of one job; only it moves the job between
// lifecycle states.
func (m *Manager) run(ctx context.Context, j *job, req *Request, combos []optimize.BranchCombination) {
	activeJobs.Inc()
	defer activeJobs.Dec()

	now := time.Now()
	j.mu.Lock()
	j.status = StatusRunning
	j.startedAt = &now
	j.mu.Unlock()

	finish := func(status Status, errMsg string) {
		done := time.Now()
		j.mu.Lock()
		j.status = status
		j.errMsg = errMsg
		j.completedAt = &done
		j.mu.Unlock()
		log.Info().
			Str("job_id", j.id.String()).
			Str("status", string(status)).
			Int("results", len(j.results)).
			Msg("Optimization job finished")
	}

	tickers := requestTickers(req)
	cache, err := series.NewCache(m.provider, tickers)
	if err != nil {
		finish(StatusError, err.Error())
		return
	}

	windows, err := optimize.BuildWindows(req.Split, cache.Days())
	if err != nil {
		finish(StatusError, err.Error())
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.config.Workers)

	for _, combo := range combos {
		// Cancellation is cooperative and checked between branches;
		// a cancelled branch leaves no result behind.
		if ctx.Err() != nil {
			break
		}
		combo := combo
		group.Go(func() error {
			result, ok := m.runBranch(groupCtx, cache, req, windows, combo)
			if !ok {
				return nil
			}
			j.mu.Lock()
			j.results = append(j.results, result)
			j.progress.Completed++
			j.mu.Unlock()
			branchesCompleted.Inc()
			if result.ErrorMessage != "" {
				branchErrors.Inc()
			}
			return nil
		})
	}
	_ = group.Wait()

	if ctx.Err() != nil {
		finish(StatusCancelled, "")
		return
	}
	finish(StatusComplete, "")
}

// runBranch executes one combination end to end. A panic or error in
// one branch becomes that branch's error result and never disturbs the
// others. ok is false only when the branch was abandoned by
// cancellation and must leave no trace.
func (m *Manager) runBranch(ctx context.Context, cache *series.Cache, req *Request, windows []optimize.Window, combo optimize.BranchCombination) (result BranchResult, ok bool) {
	result = BranchResult{BranchID: combo.ID, Label: combo.Label}
	ok = true

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("branch", combo.ID).
				Interface("panic", r).
				Msg("Branch backtest panicked")
			result.ISMetrics = nil
			result.OOSMetrics = nil
			result.ErrorMessage = fmt.Sprintf("branch panicked: %v", r)
		}
	}()

	applied, err := optimize.Apply(req.Tree, combo, req.Ranges)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, true
	}

	runner := engine.NewRunner(cache, applied, req.Run)
	simulation, err := runner.Run(ctx, 0, cache.Days())
	if err != nil {
		if ctx.Err() != nil {
			return BranchResult{}, false
		}
		result.ErrorMessage = err.Error()
		return result, true
	}

	isMetrics, oosMetrics := windowMetrics(simulation, windows)
	result.ISMetrics = isMetrics
	result.OOSMetrics = oosMetrics

	passed, failures := optimize.CheckAll(req.Requirements, isMetrics, applied.Tickers())
	result.Passed = passed
	result.FailedRequirements = failures
	return result, true
}

// windowMetrics computes IS and OOS metrics per split window and
// averages across windows (walk-forward produces several). Windows
// address calendar day indices while day records lag by one (record i
// carries the return realized into day i+1), so a window [a,b) maps to
// records [a-1,b-1); adjacent IS/OOS ranges then tile without dropping
// the seam record.
func windowMetrics(simulation *engine.Result, windows []optimize.Window) (*engine.Metrics, *engine.Metrics) {
	var isAll, oosAll []*engine.Metrics
	for _, w := range windows {
		if is, err := engine.CalculateMetrics(simulation, recordStart(w.ISStart), recordEnd(w.ISEnd, simulation)); err == nil {
			isAll = append(isAll, is)
		}
		if w.HasOOS() {
			if oos, err := engine.CalculateMetrics(simulation, recordStart(w.OOSStart), recordEnd(w.OOSEnd, simulation)); err == nil {
				oosAll = append(oosAll, oos)
			}
		}
	}
	return engine.AverageMetrics(isAll), engine.AverageMetrics(oosAll)
}

func recordStart(dayStart int) int {
	start := dayStart - 1
	if start < 0 {
		start = 0
	}
	return start
}

func recordEnd(dayEnd int, simulation *engine.Result) int {
	end := dayEnd - 1
	if end > len(simulation.Days) {
		end = len(simulation.Days)
	}
	return end
}

// requestTickers collects every ticker a request touches: the tree's
// own references, all substitution candidates, and the benchmark
func requestTickers(req *Request) []string {
	set := make(map[string]struct{})
	for _, t := range req.Tree.Tickers() {
		set[t] = struct{}{}
	}
	for _, choice := range req.Choices {
		for _, t := range choice.Tickers {
			set[t] = struct{}{}
		}
	}
	if req.Run.Benchmark != "" {
		set[req.Run.Benchmark] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// Get returns a snapshot of a job without its results
func (m *Manager) Get(id uuid.UUID) (*Snapshot, error) {
	j, err := m.find(id)
	if err != nil {
		return nil, err
	}
	return j.snapshot(false), nil
}

// Results returns a snapshot including every accumulated branch result
func (m *Manager) Results(id uuid.UUID) (*Snapshot, error) {
	j, err := m.find(id)
	if err != nil {
		return nil, err
	}
	return j.snapshot(true), nil
}

// Jobs lists snapshots of every known job, without results
func (m *Manager) Jobs() []*Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Snapshot, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.snapshot(false))
	}
	return out
}

// Cancel requests a best-effort stop. In-flight branches finish or are
// abandoned; no partial result is recorded as success.
func (m *Manager) Cancel(id uuid.UUID) error {
	j, err := m.find(id)
	if err != nil {
		return err
	}
	j.mu.RLock()
	terminal := j.status.Terminal()
	j.mu.RUnlock()
	if terminal {
		return nil
	}
	j.cancel()
	log.Info().Str("job_id", id.String()).Msg("Job cancellation requested")
	return nil
}

func (m *Manager) find(id uuid.UUID) (*job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j, nil
}

func (j *job) snapshot(withResults bool) *Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := &Snapshot{
		ID:          j.id,
		Status:      j.status,
		Progress:    j.progress,
		Error:       j.errMsg,
		SubmittedAt: j.submittedAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
	if withResults {
		snap.Results = make([]BranchResult, len(j.results))
		copy(snap.Results, j.results)
	}
	return snap
}
