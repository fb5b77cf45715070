package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].radius")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a scenario file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Scenario, []*ValidationError) {
	sc, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return sc, Validate(sc)
}

// Validate runs the semantic and domain phases on an already-loaded scenario.
func Validate(sc *Scenario) []*ValidationError {
	var allErrors []*ValidationError
	allErrors = append(allErrors, validateSemantic(sc)...)
	allErrors = append(allErrors, ValidateDomain(sc)...)
	return allErrors
}

// validateSemantic validates the scenario against the generated JSON Schema.
func validateSemantic(sc *Scenario) []*ValidationError {
	data, err := json.Marshal(sc)
	if err != nil {
		return []*ValidationError{semanticErr(fmt.Sprintf("marshal for schema validation: %v", err))}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{semanticErr(fmt.Sprintf("generate schema: %v", err))}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{semanticErr(fmt.Sprintf("unmarshal schema: %v", err))}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("scenario-v1.json", schemaDoc); err != nil {
		return []*ValidationError{semanticErr(fmt.Sprintf("add schema resource: %v", err))}
	}
	sch, err := c.Compile("scenario-v1.json")
	if err != nil {
		return []*ValidationError{semanticErr(fmt.Sprintf("compile schema: %v", err))}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{semanticErr(fmt.Sprintf("unmarshal document: %v", err))}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, semanticErr(err.Error()))
		}
		return errs
	}
	return nil
}

func semanticErr(msg string) *ValidationError {
	return &ValidationError{Phase: "semantic", Message: msg, Severity: "error"}
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation:
// unique step ids and variable names, kind-specific required config, packet
// references, and balanced loop/conditional markers.
func ValidateDomain(sc *Scenario) []*ValidationError {
	var errs []*ValidationError

	domainErr := func(path, msg string) {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  msg,
			Severity: "error",
		})
	}

	seenVars := make(map[string]bool)
	for i, v := range sc.Variables {
		path := fmt.Sprintf("variables[%d]", i)
		if seenVars[v.Name] {
			domainErr(path, fmt.Sprintf("duplicate variable name %q", v.Name))
		}
		seenVars[v.Name] = true
		switch v.Kind {
		case VarStatic:
			// empty value is allowed (substitutes the empty string)
		case VarList:
			if len(v.Values) == 0 {
				domainErr(path, fmt.Sprintf("list variable %q has no values", v.Name))
			}
		case VarRandomString:
			if v.Length < 0 {
				domainErr(path, fmt.Sprintf("random_string variable %q has negative length", v.Name))
			}
		case VarRandomNumber:
			if v.Max != 0 && v.Max < v.Min {
				domainErr(path, fmt.Sprintf("random_number variable %q has max < min", v.Name))
			}
		}
	}

	seenPackets := make(map[string]bool)
	for i, p := range sc.Packets {
		path := fmt.Sprintf("packets[%d]", i)
		if seenPackets[p.Name] {
			domainErr(path, fmt.Sprintf("duplicate packet template %q", p.Name))
		}
		seenPackets[p.Name] = true
		if len(p.Attributes) == 0 {
			domainErr(path, fmt.Sprintf("packet template %q has no attributes", p.Name))
		}
	}

	seenSteps := make(map[string]bool)
	for i, s := range sc.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if s.ID != "" {
			if seenSteps[s.ID] {
				domainErr(path, fmt.Sprintf("duplicate step id %q", s.ID))
			}
			seenSteps[s.ID] = true
		}
		errs = append(errs, validateStepConfig(path, s, sc)...)
	}

	if _, err := BuildMarkerTable(sc.Steps); err != nil {
		domainErr("steps", err.Error())
	}

	return errs
}

// validateStepConfig checks that the kind-specific config block matching the
// step kind is present and well-formed.
func validateStepConfig(path string, s Step, sc *Scenario) []*ValidationError {
	var errs []*ValidationError
	domainErr := func(msg string) {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  msg,
			Severity: "error",
		})
	}

	switch s.Kind {
	case StepRadius:
		if s.Radius == nil {
			domainErr("radius step has no radius config")
			break
		}
		if s.Radius.Packet == "" && len(s.Radius.Attributes) == 0 {
			domainErr("radius step declares neither a packet reference nor inline attributes")
		}
		if s.Radius.Packet != "" && sc.Packet(s.Radius.Packet) == nil {
			domainErr(fmt.Sprintf("radius step references unknown packet template %q", s.Radius.Packet))
		}
		if s.Radius.Packet == "" && s.Radius.Code == "" {
			domainErr("inline radius step must declare a packet code")
		}
	case StepSQL:
		if s.SQL == nil || s.SQL.Query == "" {
			domainErr("sql step has no query")
			break
		}
		if (s.SQL.ExpectColumn == "") != (s.SQL.ExpectValue == "") {
			domainErr("expect_column and expect_value must be declared together")
		}
	case StepAPICall:
		if s.API == nil || s.API.URL == "" {
			domainErr("api_call step has no url")
		}
	case StepDelay:
		if s.Delay == nil || s.Delay.Ms == "" {
			domainErr("delay step has no duration")
		}
	case StepLogMessage:
		if s.Log == nil || s.Log.Message == "" {
			domainErr("log_message step has no message")
		}
	case StepLoopStart:
		if s.Loop == nil || s.Loop.Count < 1 {
			domainErr("loop_start requires count >= 1")
		}
	case StepConditionalStart:
		if s.Conditional == nil || strings.TrimSpace(s.Conditional.Condition) == "" {
			domainErr("conditional_start requires a condition")
			break
		}
		env := make(map[string]interface{})
		for _, v := range sc.Variables {
			env[v.Name] = ""
		}
		if _, err := expr.Compile(s.Conditional.Condition, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables()); err != nil {
			domainErr(fmt.Sprintf("condition does not compile: %v", err))
		}
	case StepLoopEnd, StepConditionalEnd:
		// pairing is checked by BuildMarkerTable
	default:
		domainErr(fmt.Sprintf("unknown step kind %q", s.Kind))
	}
	return errs
}

// markerKind identifies which opener a closer must match.
type markerKind int

const (
	markerLoop markerKind = iota
	markerConditional
)

// MarkerTable maps the index of each loop/conditional marker to the index of
// its partner. Built once per scenario; the controller uses it as a jump
// table during execution.
type MarkerTable map[int]int

// BuildMarkerTable pairs loop_start/loop_end and conditional_start/
// conditional_end markers. Markers must be balanced and properly nested;
// crossing spans are rejected.
func BuildMarkerTable(steps []Step) (MarkerTable, error) {
	table := make(MarkerTable)
	type open struct {
		kind  markerKind
		index int
	}
	var stack []open

	for i, s := range steps {
		switch s.Kind {
		case StepLoopStart:
			stack = append(stack, open{markerLoop, i})
		case StepConditionalStart:
			stack = append(stack, open{markerConditional, i})
		case StepLoopEnd, StepConditionalEnd:
			want := markerLoop
			if s.Kind == StepConditionalEnd {
				want = markerConditional
			}
			if len(stack) == 0 {
				return nil, fmt.Errorf("step %d: %s without matching start marker", i, s.Kind)
			}
			top := stack[len(stack)-1]
			if top.kind != want {
				return nil, fmt.Errorf("step %d: %s closes a %s span opened at step %d", i, s.Kind, markerName(top.kind), top.index)
			}
			stack = stack[:len(stack)-1]
			table[top.index] = i
			table[i] = top.index
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return nil, fmt.Errorf("step %d: %s marker is never closed", top.index, markerName(top.kind))
	}
	return table, nil
}

func markerName(k markerKind) string {
	if k == markerLoop {
		return "loop"
	}
	return "conditional"
}
