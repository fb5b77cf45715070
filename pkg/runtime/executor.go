package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ormasoftchile/radrun/pkg/assertions"
	"github.com/ormasoftchile/radrun/pkg/providers"
	"github.com/ormasoftchile/radrun/pkg/schema"
)

// RunContext carries the immutable inputs of one run to the step executor.
type RunContext struct {
	ExecutionID string
	Scenario    *schema.Scenario
	Profile     *schema.Profile
}

// StepExecutor executes one scenario step of a given kind, delegating to the
// matching collaborator. Every step detail field that may contain a
// placeholder is passed through the resolver first.
type StepExecutor struct {
	resolver Resolver
	tool     providers.RadiusTool
	db       providers.Database
	http     providers.HTTPClient
	logs     *LogAggregator

	dbConnected bool
}

// NewStepExecutor wires the executor to its collaborators and log sink.
func NewStepExecutor(tool providers.RadiusTool, db providers.Database, http providers.HTTPClient, logs *LogAggregator) *StepExecutor {
	return &StepExecutor{tool: tool, db: db, http: http, logs: logs}
}

// Execute runs a single step based on its kind.
func (ex *StepExecutor) Execute(ctx context.Context, step schema.Step, rc *RunContext) StepOutcome {
	outcome := StepOutcome{StepID: step.ID, StartedAt: time.Now()}

	switch step.Kind {
	case schema.StepRadius:
		ex.executeRadiusStep(ctx, step, rc, &outcome)
	case schema.StepSQL:
		ex.executeSQLStep(ctx, step, rc, &outcome)
	case schema.StepAPICall:
		ex.executeAPIStep(ctx, step, rc, &outcome)
	case schema.StepDelay:
		ex.executeDelayStep(ctx, step, rc, &outcome)
	case schema.StepLogMessage:
		ex.executeLogStep(step, rc, &outcome)
	case schema.StepLoopStart, schema.StepLoopEnd, schema.StepConditionalStart, schema.StepConditionalEnd:
		// Control flow is the controller's job; the marker itself always
		// succeeds.
		outcome.Success = true
	default:
		ex.fail(&outcome, KindConfiguration, fmt.Sprintf("unknown step kind %q", step.Kind))
	}

	outcome.EndedAt = time.Now()
	return outcome
}

// fail marks the outcome failed and emits the mandatory ERROR entry.
func (ex *StepExecutor) fail(outcome *StepOutcome, kind ErrorKind, msg string) {
	outcome.Success = false
	outcome.Kind = kind
	outcome.Error = msg
	ex.logs.Append(LogEntry{
		Level:   LevelError,
		StepID:  outcome.StepID,
		Message: fmt.Sprintf("[%s] %s", kind, msg),
	})
}

// buildPacket materializes the step's packet: template lookup or inline
// attributes, with every value passed through the resolver.
func (ex *StepExecutor) buildPacket(step schema.Step, rc *RunContext) (*providers.Packet, error) {
	cfg := step.Radius

	code := cfg.Code
	attrs := cfg.Attributes
	if cfg.Packet != "" {
		tpl := rc.Scenario.Packet(cfg.Packet)
		if tpl == nil {
			return nil, fmt.Errorf("packet template %q not found", cfg.Packet)
		}
		code = tpl.Code
		attrs = tpl.Attributes
	}

	resolved := make([]schema.Attribute, len(attrs))
	for i, a := range attrs {
		resolved[i] = schema.Attribute{
			Name:  a.Name,
			Value: ex.resolver.Resolve(a.Value, rc.Scenario.Variables),
		}
	}

	port := rc.Profile.AuthPort()
	if cfg.Port == "acct" {
		port = rc.Profile.AcctPort()
	}

	return &providers.Packet{Code: code, Attributes: resolved, Port: port}, nil
}

// executeRadiusStep drives one RADIUS exchange and checks declared reply
// expectations.
func (ex *StepExecutor) executeRadiusStep(ctx context.Context, step schema.Step, rc *RunContext, outcome *StepOutcome) {
	packet, err := ex.buildPacket(step, rc)
	if err != nil {
		ex.fail(outcome, KindConfiguration, err.Error())
		return
	}

	if step.Radius.Timeout != "" {
		if d, err := time.ParseDuration(step.Radius.Timeout); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	result, err := ex.tool.Exchange(ctx, packet, rc.Profile)
	if err != nil {
		ex.fail(outcome, KindConnection, fmt.Sprintf("radius exchange: %v", err))
		return
	}

	ex.logs.Append(LogEntry{Level: LevelSent, StepID: step.ID, Message: fmt.Sprintf("%s to %s:%d", packet.Code, rc.Profile.Host, packet.Port), Detail: result.Sent})
	if result.Received != "" {
		ex.logs.Append(LogEntry{Level: LevelRecv, StepID: step.ID, Message: "reply received", Detail: result.Received})
	}

	if result.ExitCode != 0 {
		ex.fail(outcome, KindValidation, fmt.Sprintf("radius tool exited with code %d", result.ExitCode))
		return
	}

	allPassed := true
	for name, want := range step.Radius.ExpectAttributes {
		r := assertions.EvalReplyAttribute(result.Received, name, ex.resolver.Resolve(want, rc.Scenario.Variables))
		outcome.Assertions = append(outcome.Assertions, r)
		if !r.Passed {
			allPassed = false
		}
	}
	if !allPassed {
		ex.fail(outcome, KindValidation, "one or more reply attribute expectations failed")
		return
	}

	outcome.Success = true
}

// executeSQLStep runs the verification query and checks the declared
// column/value expectation against the first result row.
func (ex *StepExecutor) executeSQLStep(ctx context.Context, step schema.Step, rc *RunContext, outcome *StepOutcome) {
	if !ex.dbConnected {
		if err := ex.db.Connect(ctx, rc.Profile.Database); err != nil {
			ex.fail(outcome, KindConnection, fmt.Sprintf("database connect: %v", err))
			return
		}
		ex.dbConnected = true
	}

	query := ex.resolver.Resolve(step.SQL.Query, rc.Scenario.Variables)
	ex.logs.Append(LogEntry{Level: LevelDebug, StepID: step.ID, Message: "executing query", Detail: query})

	result, err := ex.db.Query(ctx, query)
	if err != nil {
		ex.fail(outcome, KindConnection, fmt.Sprintf("query: %v", err))
		return
	}
	ex.logs.Append(LogEntry{Level: LevelInfo, StepID: step.ID, Message: fmt.Sprintf("query returned %d row(s)", len(result.Rows))})

	if step.SQL.ExpectColumn != "" {
		var first map[string]string
		if len(result.Rows) > 0 {
			first = result.Rows[0]
		}
		want := ex.resolver.Resolve(step.SQL.ExpectValue, rc.Scenario.Variables)
		r := assertions.EvalColumnValue(first, step.SQL.ExpectColumn, want)
		outcome.Assertions = append(outcome.Assertions, r)
		if !r.Passed {
			ex.fail(outcome, KindValidation, r.Message)
			return
		}
	}

	outcome.Success = true
}

// executeAPIStep performs one HTTP call and checks the declared status/body
// expectations.
func (ex *StepExecutor) executeAPIStep(ctx context.Context, step schema.Step, rc *RunContext, outcome *StepOutcome) {
	cfg := step.API
	req := &providers.HTTPRequest{
		URL:    ex.resolver.Resolve(cfg.URL, rc.Scenario.Variables),
		Method: cfg.Method,
		Body:   ex.resolver.Resolve(cfg.Body, rc.Scenario.Variables),
	}
	if len(cfg.Headers) > 0 {
		req.Headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			req.Headers[k] = ex.resolver.Resolve(v, rc.Scenario.Variables)
		}
	}

	ex.logs.Append(LogEntry{Level: LevelDebug, StepID: step.ID, Message: fmt.Sprintf("%s %s", orDefault(req.Method, "GET"), req.URL)})

	result, err := ex.http.Do(ctx, req)
	if err != nil {
		ex.fail(outcome, KindConnection, fmt.Sprintf("http request: %v", err))
		return
	}
	ex.logs.Append(LogEntry{Level: LevelInfo, StepID: step.ID, Message: fmt.Sprintf("status %d", result.Status), Detail: result.Body})

	allPassed := true
	if cfg.ExpectStatus != 0 {
		r := assertions.EvalStatus(result.Status, cfg.ExpectStatus)
		outcome.Assertions = append(outcome.Assertions, r)
		allPassed = allPassed && r.Passed
	}
	if cfg.ExpectBody != "" {
		r := assertions.EvalBodyContains(result.Body, ex.resolver.Resolve(cfg.ExpectBody, rc.Scenario.Variables))
		outcome.Assertions = append(outcome.Assertions, r)
		allPassed = allPassed && r.Passed
	}
	if !allPassed {
		ex.fail(outcome, KindValidation, "one or more response expectations failed")
		return
	}

	outcome.Success = true
}

// executeDelayStep suspends the current run only, for the resolved duration
// in milliseconds.
func (ex *StepExecutor) executeDelayStep(ctx context.Context, step schema.Step, rc *RunContext, outcome *StepOutcome) {
	raw := ex.resolver.Resolve(step.Delay.Ms, rc.Scenario.Variables)
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		ex.fail(outcome, KindConfiguration, fmt.Sprintf("invalid delay duration %q", raw))
		return
	}

	ex.logs.Append(LogEntry{Level: LevelInfo, StepID: step.ID, Message: fmt.Sprintf("waiting %dms", ms)})
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		outcome.Success = true
	case <-ctx.Done():
		ex.fail(outcome, KindCancellation, "delay interrupted")
	}
}

// executeLogStep resolves and appends an informational entry. Always
// succeeds.
func (ex *StepExecutor) executeLogStep(step schema.Step, rc *RunContext, outcome *StepOutcome) {
	msg := ex.resolver.Resolve(step.Log.Message, rc.Scenario.Variables)
	ex.logs.Append(LogEntry{Level: LevelInfo, StepID: step.ID, Message: msg})
	outcome.Success = true
}

// Close releases the lazily opened database connection, if any.
func (ex *StepExecutor) Close() error {
	if ex.dbConnected {
		ex.dbConnected = false
		return ex.db.Close()
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
