// Package executor runs a validated plan as a DAG. Steps become
// eligible when every dependency has a durably recorded success; a
// scheduler goroutine launches eligible steps through a weighted
// semaphore and collects completions from a channel. Failures retry
// with exponential backoff up to the configured bound, then block all
// transitive dependents.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/murmurhq/murmur/internal/arggen"
	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/events"
	"github.com/murmurhq/murmur/internal/fault"
	"github.com/murmurhq/murmur/internal/history"
	"github.com/murmurhq/murmur/internal/plan"
)

// Config for the executor.
type Config struct {
	Store        *history.Store
	Catalog      *catalog.Catalog
	ArgGen       *arggen.Generator
	Bus          *events.Bus
	StepTimeout  time.Duration
	MaxRetries   int // extra attempts after the first failure
	MaxParallel  int
	RetryBackoff time.Duration // base backoff, doubled per attempt
	Logger       *slog.Logger
}

// Executor executes plans.
type Executor struct {
	store   *history.Store
	catalog *catalog.Catalog
	arggen  *arggen.Generator
	bus     *events.Bus

	stepTimeout  time.Duration
	maxRetries   int
	maxParallel  int
	retryBackoff time.Duration
	log          *slog.Logger
}

// New creates an executor.
func New(cfg Config) *Executor {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = time.Minute
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		store:        cfg.Store,
		catalog:      cfg.Catalog,
		arggen:       cfg.ArgGen,
		bus:          cfg.Bus,
		stepTimeout:  cfg.StepTimeout,
		maxRetries:   cfg.MaxRetries,
		maxParallel:  cfg.MaxParallel,
		retryBackoff: cfg.RetryBackoff,
		log:          log,
	}
}

// completion is one step reaching a terminal status.
type completion struct {
	index  int
	status plan.Status
	result *history.StepResult
}

// Execute runs one plan revision to quiescence: every step ends
// Success, Failed, Blocked, or Cancelled. Step statuses are mutated in
// place. The returned error is nil when every step succeeded;
// otherwise it describes the first failure class encountered.
// Cancellation of ctx marks unstarted steps Cancelled and returns
// ctx's error.
func (e *Executor) Execute(ctx context.Context, runID uuid.UUID, revision int, p *plan.Plan) error {
	sem := semaphore.NewWeighted(int64(e.maxParallel))
	done := make(chan completion, len(p.Steps))

	// Latest recorded attempt per step, for dependency context.
	results := make(map[int]*history.StepResult)

	running := 0
	var firstErr error

	for !p.AllTerminal() {
		launched := e.launchEligible(ctx, runID, revision, p, results, sem, done)
		running += launched

		if running == 0 {
			// Nothing in flight and nothing became eligible: the
			// remaining pending steps are unreachable. That cannot
			// happen with a validated plan unless cancellation raced;
			// mark them cancelled so the loop terminates.
			for _, s := range p.Steps {
				if !s.Status.IsTerminal() {
					s.Status = plan.StatusCancelled
				}
			}
			break
		}

		select {
		case c := <-done:
			running--
			p.Steps[c.index].Status = c.status
			if c.result != nil {
				results[c.index] = c.result
			}

			switch c.status {
			case plan.StatusFailed:
				e.blockDependents(p, c.index)
				if firstErr == nil && c.result != nil {
					firstErr = errors.New(c.result.Error)
				}
			case plan.StatusCancelled:
				e.cancelDependents(p, c.index)
				if firstErr == nil {
					firstErr = ctx.Err()
				}
			}

		case <-ctx.Done():
			// Let in-flight steps finish recording, then sweep.
			for running > 0 {
				c := <-done
				running--
				p.Steps[c.index].Status = c.status
				if c.result != nil {
					results[c.index] = c.result
				}
			}
			for _, s := range p.Steps {
				if !s.Status.IsTerminal() {
					s.Status = plan.StatusCancelled
				}
			}
			return ctx.Err()
		}
	}

	if firstErr != nil {
		return firstErr
	}
	if !p.Succeeded() {
		return fmt.Errorf("plan did not complete cleanly")
	}
	return nil
}

// launchEligible promotes pending steps whose dependencies have all
// recorded success and starts a worker for each. Returns the number of
// workers launched.
func (e *Executor) launchEligible(ctx context.Context, runID uuid.UUID, revision int, p *plan.Plan,
	results map[int]*history.StepResult, sem *semaphore.Weighted, done chan completion) int {

	launched := 0
	for _, s := range p.Steps {
		if s.Status != plan.StatusPending || !e.depsSatisfied(p, s) {
			continue
		}
		s.Status = plan.StatusEligible

		// Snapshot dependency results before the worker starts so the
		// scheduler's map is never read concurrently.
		snapshot := make(map[int]*history.StepResult, len(s.DependsOn))
		for i, r := range results {
			snapshot[i] = r
		}

		s.Status = plan.StatusRunning
		launched++
		go e.runStep(ctx, runID, revision, p, s, snapshot, sem, done)
	}
	return launched
}

func (e *Executor) depsSatisfied(p *plan.Plan, s *plan.Step) bool {
	for _, dep := range s.DependsOn {
		if p.Steps[dep].Status != plan.StatusSuccess {
			return false
		}
	}
	return true
}

// runStep attempts one step until success, exhaustion, or
// cancellation. Every attempt is recorded durably before the
// completion is sent, so dependents never become eligible on an
// unrecorded result.
func (e *Executor) runStep(ctx context.Context, runID uuid.UUID, revision int, p *plan.Plan,
	step *plan.Step, deps map[int]*history.StepResult, sem *semaphore.Weighted, done chan completion) {

	if err := sem.Acquire(ctx, 1); err != nil {
		done <- completion{index: step.Index, status: plan.StatusCancelled}
		return
	}
	defer sem.Release(1)

	tool, err := e.catalog.Get(step.ToolName)
	if err != nil {
		// Unknown tool in a validated plan is a programming error, but
		// record it as a failure rather than panicking mid-run.
		rec := e.record(runID, revision, step, 1, "", err, nil)
		done <- completion{index: step.Index, status: plan.StatusFailed, result: rec}
		return
	}

	var lastFailure *history.StepResult
	var lastErr error

	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		if attempt > 1 {
			backoff := e.retryBackoff << (attempt - 2)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				rec := e.record(runID, revision, step, attempt, "", &fault.CancellationError{StepIndex: step.Index}, nil)
				done <- completion{index: step.Index, status: plan.StatusCancelled, result: rec}
				return
			}
		}

		result, err := e.attempt(ctx, runID, p, step, tool, deps, lastFailure, attempt)
		rec := e.record(runID, revision, step, attempt, step.ToolName, err, result)

		if err == nil {
			e.publishResult(step, rec, true)
			done <- completion{index: step.Index, status: plan.StatusSuccess, result: rec}
			return
		}

		e.publishResult(step, rec, false)

		var ce *fault.CancellationError
		if errors.As(err, &ce) || ctx.Err() != nil {
			done <- completion{index: step.Index, status: plan.StatusCancelled, result: rec}
			return
		}
		if !fault.Retryable(err) {
			done <- completion{index: step.Index, status: plan.StatusFailed, result: rec}
			return
		}

		lastFailure = rec
		lastErr = err
		e.log.Debug("step attempt failed",
			"run", runID, "step", step.Index, "tool", step.ToolName,
			"attempt", attempt, "error", err)
	}

	exhausted := &fault.ExhaustedRetriesError{
		StepIndex: step.Index,
		Tool:      step.ToolName,
		Attempts:  e.maxRetries + 1,
		Last:      lastErr,
	}
	rec := e.record(runID, revision, step, e.maxRetries+2, step.ToolName, exhausted, nil)
	done <- completion{index: step.Index, status: plan.StatusFailed, result: rec}
}

// attempt generates arguments and invokes the tool once under the
// per-step timeout.
func (e *Executor) attempt(ctx context.Context, runID uuid.UUID, p *plan.Plan,
	step *plan.Step, tool *catalog.Tool, deps map[int]*history.StepResult,
	lastFailure *history.StepResult, attempt int) (*catalog.Result, error) {

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	args, err := e.arggen.Generate(stepCtx, &arggen.Request{
		Plan:        p,
		Step:        step,
		Tool:        tool,
		Results:     deps,
		LastFailure: lastFailure,
	})
	if err != nil {
		return nil, err
	}

	e.bus.Publish(events.Event{
		Source: events.SourcePipeline,
		Kind:   events.KindArgs,
		Data: map[string]any{
			"run_id":  runID.String(),
			"step":    step.Index,
			"tool":    step.ToolName,
			"attempt": attempt,
			"args":    args,
		},
	})

	result, err := tool.Invoke(stepCtx, args)
	if err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, &fault.TimeoutError{StepIndex: step.Index, Tool: step.ToolName}
		}
		if ctx.Err() != nil {
			return result, &fault.CancellationError{StepIndex: step.Index}
		}
		return result, err
	}
	return result, nil
}

// record durably appends the attempt outcome and returns the row.
// Storage failure is logged but does not change the step outcome.
func (e *Executor) record(runID uuid.UUID, revision int, step *plan.Step, attempt int,
	toolName string, invokeErr error, result *catalog.Result) *history.StepResult {

	if toolName == "" {
		toolName = step.ToolName
	}
	rec := &history.StepResult{
		RunID:     runID,
		Revision:  revision,
		StepIndex: step.Index,
		Attempt:   attempt,
		ToolName:  toolName,
		Timestamp: time.Now().UTC(),
	}
	if invokeErr == nil {
		rec.Success = true
		if result != nil {
			rec.Data = result.Data
			rec.Advice = result.Advice
		}
	} else {
		rec.Error = invokeErr.Error()
		if result != nil {
			rec.Advice = result.Advice
		}
	}

	if err := e.store.Append(rec); err != nil {
		e.log.Error("failed to record step result",
			"run", runID, "step", step.Index, "error", err)
	}
	return rec
}

func (e *Executor) publishResult(step *plan.Step, rec *history.StepResult, success bool) {
	e.bus.Publish(events.Event{
		Source: events.SourcePipeline,
		Kind:   events.KindToolResult,
		Data: map[string]any{
			"run_id":  rec.RunID.String(),
			"step":    step.Index,
			"tool":    step.ToolName,
			"attempt": rec.Attempt,
			"success": success,
			"error":   rec.Error,
		},
	})
}

// blockDependents marks every transitive dependent of index Blocked.
func (e *Executor) blockDependents(p *plan.Plan, index int) {
	e.markDependents(p, index, plan.StatusBlocked)
}

// cancelDependents marks every transitive dependent of index
// Cancelled.
func (e *Executor) cancelDependents(p *plan.Plan, index int) {
	e.markDependents(p, index, plan.StatusCancelled)
}

func (e *Executor) markDependents(p *plan.Plan, index int, status plan.Status) {
	for _, dep := range p.Dependents(index) {
		s := p.Steps[dep]
		if s.Status == plan.StatusPending || s.Status == plan.StatusEligible {
			s.Status = status
			e.markDependents(p, dep, status)
		}
	}
}
