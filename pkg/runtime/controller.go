package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/radrun/pkg/providers"
	"github.com/ormasoftchile/radrun/pkg/schema"
)

// Collaborators bundles the external capabilities a controller drives.
// SSH and database connections are stateful, so they are created per run.
type Collaborators struct {
	NewSSH      func() providers.SSHClient
	NewDatabase func() providers.Database
	Tool        providers.RadiusTool
	HTTP        providers.HTTPClient
}

// Controller is the top-level state machine of one execution:
// NotStarted → Running → {Completed | Failed | Aborted}. One controller
// instance runs one scenario at a time; concurrent runs need independent
// instances.
type Controller struct {
	store   Store
	collab  Collaborators
	emitter EventEmitter
	// BaseDir is the artifacts root; each run gets <BaseDir>/<execution-id>/.
	BaseDir string

	mu          sync.Mutex
	running     bool
	aborted     bool
	executionID string
	cancel      context.CancelFunc
}

// NewController creates a controller. emitter may be nil.
func NewController(store Store, collab Collaborators, emitter EventEmitter) *Controller {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &Controller{
		store:   store,
		collab:  collab,
		emitter: emitter,
		BaseDir: filepath.Join(".radrun", "runs"),
	}
}

// loopFrame tracks one active loop span during interpretation.
type loopFrame struct {
	start     int // index of the loop_start marker
	remaining int // passes still owed, including the current one
}

// Start creates the execution record, runs the preamble and then the steps
// in order, and finalizes on every terminal path. It returns the execution
// id and any setup or finalization error; step and preamble failures are
// reflected in the terminal status, not the returned error.
func (c *Controller) Start(ctx context.Context, scenario *schema.Scenario, profile *schema.Profile) (string, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return "", errors.New("controller already has a running execution")
	}
	c.running = true
	c.aborted = false
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.executionID = ""
		c.cancel = nil
		c.mu.Unlock()
	}()

	// Steps reach the executor only after domain validation; the per-kind
	// helpers rely on their config block being present.
	if errs := schema.ValidateDomain(scenario); len(errs) > 0 {
		return "", fmt.Errorf("scenario validation: %w", errs[0])
	}
	markers, err := schema.BuildMarkerTable(scenario.Steps)
	if err != nil {
		return "", fmt.Errorf("scenario markers: %w", err)
	}

	// The run directory and trace writer come first: a setup failure must
	// not leave a Running record behind with no run to finalize it.
	execID := uuid.NewString()
	runDir := filepath.Join(c.BaseDir, execID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	trace, err := NewTraceWriter(filepath.Join(runDir, "trace.jsonl"))
	if err != nil {
		return "", fmt.Errorf("create trace writer: %w", err)
	}
	defer trace.Close()

	record := &ExecutionRecord{
		ID:           execID,
		ScenarioName: scenario.Meta.Name,
		ProfileName:  profile.Name,
		Status:       StatusRunning,
		StartedAt:    time.Now(),
	}
	if err := c.store.CreateExecution(ctx, record); err != nil {
		return "", fmt.Errorf("create execution record: %w", err)
	}

	logs := NewLogAggregator(execID, c.store, trace, c.emitter)
	logs.AddSecrets(profile.Radius.Secret, profile.SSH.Password)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.executionID = execID
	c.cancel = cancel
	c.mu.Unlock()

	c.emitter.Emit(EventStarted, execID, map[string]any{"scenario": scenario.Meta.Name})
	fmt.Printf("▶ Execution %s: %s against %s\n", execID, scenario.Meta.Name, profile.Name)

	executor := NewStepExecutor(c.collab.Tool, c.collab.NewDatabase(), c.collab.HTTP, logs)
	defer executor.Close()

	rc := &RunContext{ExecutionID: execID, Scenario: scenario, Profile: profile}
	summary := &RunSummary{ExecutionID: execID}

	failed := false
	if len(profile.Preamble) > 0 {
		runner := NewPreambleRunner(c.collab.NewSSH(), logs)
		outcome := runner.Run(runCtx, profile.Preamble, profile)
		if !outcome.Success {
			failed = true
			summary.Error = outcome.Error
			fmt.Printf("  ✗ Preamble failed: %s\n", outcome.Error)
		}
	}

	if !failed && !c.isAborted() {
		failed = c.runSteps(runCtx, scenario.Steps, markers, executor, rc, logs, summary)
	}

	return execID, c.finalize(ctx, record, summary, logs, failed)
}

// runSteps interprets the step list with a program counter and the marker
// jump table. Returns true when a step failed. Cancellation is observed at
// every step boundary.
func (c *Controller) runSteps(ctx context.Context, steps []schema.Step, markers schema.MarkerTable, executor *StepExecutor, rc *RunContext, logs *LogAggregator, summary *RunSummary) bool {
	var frames []loopFrame

	pc := 0
	for pc < len(steps) {
		if c.isAborted() || ctx.Err() != nil {
			logs.Append(LogEntry{Level: LevelWarn, Message: fmt.Sprintf("abort observed before step %d; remaining steps skipped", pc+1)})
			return false
		}

		step := steps[pc]
		switch step.Kind {
		case schema.StepLoopStart:
			frames = append(frames, loopFrame{start: pc, remaining: step.Loop.Count})
			logs.Append(LogEntry{Level: LevelDebug, StepID: step.ID, Message: fmt.Sprintf("loop: %d pass(es)", step.Loop.Count)})
			pc++

		case schema.StepLoopEnd:
			top := &frames[len(frames)-1]
			top.remaining--
			if top.remaining > 0 {
				logs.Append(LogEntry{Level: LevelDebug, StepID: step.ID, Message: fmt.Sprintf("loop: %d pass(es) remaining", top.remaining)})
				pc = top.start + 1
			} else {
				logs.Append(LogEntry{Level: LevelDebug, StepID: step.ID, Message: "loop finished"})
				frames = frames[:len(frames)-1]
				pc++
			}

		case schema.StepConditionalStart:
			matched, err := c.evalCondition(step.Conditional.Condition, rc.Scenario.Variables)
			if err != nil {
				logs.Append(LogEntry{Level: LevelError, StepID: step.ID, Message: fmt.Sprintf("[%s] condition: %v", KindConfiguration, err)})
				summary.StepsFailed++
				summary.StepsTotal++
				summary.FailedStepID = step.ID
				summary.Error = err.Error()
				return true
			}
			if matched {
				logs.Append(LogEntry{Level: LevelDebug, StepID: step.ID, Message: "condition true, entering span"})
				pc++
			} else {
				end := markers[pc]
				skipped := end - pc - 1
				logs.Append(LogEntry{Level: LevelDebug, StepID: step.ID, Message: fmt.Sprintf("condition false, skipping %d step(s)", skipped)})
				summary.StepsSkipped += skipped
				pc = end + 1
			}

		case schema.StepConditionalEnd:
			pc++

		default:
			title := step.Title
			if title == "" {
				title = step.Kind
			}
			fmt.Printf("▶ Step %d/%d: %s [%s]\n", pc+1, len(steps), title, step.ID)

			outcome := executor.Execute(ctx, step, rc)
			summary.StepsTotal++
			if !outcome.Success {
				summary.StepsFailed++
				summary.FailedStepID = step.ID
				summary.Error = outcome.Error
				fmt.Printf("  ✗ Step %q failed: %s\n", step.ID, outcome.Error)
				return true
			}
			summary.StepsPassed++
			fmt.Printf("  ✓ Step %q passed\n", step.ID)
			pc++
		}
	}
	return false
}

// evalCondition evaluates a conditional marker expression over the scenario
// variables using expr-lang.
func (c *Controller) evalCondition(exprStr string, vars []schema.Variable) (bool, error) {
	env := make(map[string]interface{}, len(vars))
	for i := range vars {
		env[vars[i].Name] = generate(&vars[i])
	}
	program, err := expr.Compile(exprStr, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", exprStr, output)
	}
	return result, nil
}

// finalize derives the terminal status, updates the record, writes the
// summary and manifest, and flushes the log batch. Attempted on every
// terminal path; a finalization error is surfaced to the caller but does
// not alter already-applied in-memory state.
func (c *Controller) finalize(ctx context.Context, record *ExecutionRecord, summary *RunSummary, logs *LogAggregator, failed bool) error {
	// Finalization must proceed even when the run context was cancelled by
	// an abort.
	ctx = context.WithoutCancel(ctx)

	status := StatusCompleted
	switch {
	case c.isAborted():
		// Abort supersedes a pending Failed determination.
		status = StatusAborted
	case failed:
		status = StatusFailed
	}

	ended := time.Now()
	record.Status = status
	record.EndedAt = &ended
	summary.Status = status

	var errs []error
	if err := c.store.FinishExecution(ctx, record.ID, status, ended); err != nil {
		errs = append(errs, fmt.Errorf("finish execution record: %w", err))
	}
	if err := c.store.CreateSummary(ctx, summary); err != nil {
		errs = append(errs, fmt.Errorf("create result summary: %w", err))
	}
	if err := logs.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.writeManifest(record, summary); err != nil {
		errs = append(errs, err)
	}

	event := EventCompleted
	switch status {
	case StatusFailed:
		event = EventFailed
	case StatusAborted:
		event = EventAborted
	}
	c.emitter.Emit(event, record.ID, map[string]any{"status": string(status)})
	fmt.Printf("■ Execution %s: %s (%d passed, %d failed, %d skipped)\n",
		record.ID, status, summary.StepsPassed, summary.StepsFailed, summary.StepsSkipped)

	return errors.Join(errs...)
}

// writeManifest writes run.yaml to the run's artifact directory.
func (c *Controller) writeManifest(record *ExecutionRecord, summary *RunSummary) error {
	m := &RunManifest{
		ExecutionID: record.ID,
		Scenario:    record.ScenarioName,
		Profile:     record.ProfileName,
		Status:      record.Status,
		StartedAt:   record.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:     record.EndedAt.UTC().Format(time.RFC3339),
		StepsTotal:  summary.StepsTotal,
		StepsPassed: summary.StepsPassed,
		StepsFailed: summary.StepsFailed,
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(c.BaseDir, record.ID, "run.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Abort requests cooperative cancellation of the given execution. The flag
// is observed at step and preamble-command boundaries; the in-flight
// collaborator call is cancelled via context and may still run to its own
// completion or timeout.
func (c *Controller) Abort(executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.executionID != executionID {
		return fmt.Errorf("no running execution %s", executionID)
	}
	c.aborted = true
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// AbortCurrent aborts whatever execution is in flight, if any. Returns
// whether an abort was issued.
func (c *Controller) AbortCurrent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.aborted = true
	if c.cancel != nil {
		c.cancel()
	}
	return true
}

// IsRunning reports whether an execution is in flight.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}
