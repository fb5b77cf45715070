// Package schema defines the Go struct types for scenario and server-profile
// YAML documents and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Variable generation kinds.
const (
	VarStatic       = "static"
	VarRandomString = "random_string"
	VarRandomNumber = "random_number"
	VarList         = "list"
)

// Step kinds.
const (
	StepRadius           = "radius"
	StepSQL              = "sql"
	StepAPICall          = "api_call"
	StepDelay            = "delay"
	StepLogMessage       = "log_message"
	StepLoopStart        = "loop_start"
	StepLoopEnd          = "loop_end"
	StepConditionalStart = "conditional_start"
	StepConditionalEnd   = "conditional_end"
)

// Scenario is the top-level document describing one test run: an ordered
// sequence of steps plus declared variables and packet templates.
// A scenario is immutable while an execution is in flight.
type Scenario struct {
	APIVersion string           `yaml:"apiVersion" json:"apiVersion" jsonschema:"required,enum=scenario/v1"`
	Meta       Meta             `yaml:"meta"       json:"meta"       jsonschema:"required"`
	Variables  []Variable       `yaml:"variables,omitempty" json:"variables,omitempty"`
	Packets    []PacketTemplate `yaml:"packets,omitempty"   json:"packets,omitempty"`
	Steps      []Step           `yaml:"steps"      json:"steps"      jsonschema:"required"`
}

// Meta contains scenario metadata.
type Meta struct {
	Name        string   `yaml:"name"                  json:"name" jsonschema:"required"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"        json:"tags,omitempty"`
}

// Variable declares a named value substituted into step fields via ${name}.
//
// Generation kinds:
//   - static        — Value is substituted verbatim
//   - list          — first entry of Values is substituted verbatim
//   - random_string — a fresh alphanumeric token of Length runes per resolution
//   - random_number — a fresh integer in [Min, Max] per resolution
type Variable struct {
	Name   string   `yaml:"name"             json:"name" jsonschema:"required"`
	Kind   string   `yaml:"kind"             json:"kind" jsonschema:"required,enum=static,enum=random_string,enum=random_number,enum=list"`
	Value  string   `yaml:"value,omitempty"  json:"value,omitempty"`
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`
	Length int      `yaml:"length,omitempty" json:"length,omitempty"`
	Min    int64    `yaml:"min,omitempty"    json:"min,omitempty"`
	Max    int64    `yaml:"max,omitempty"    json:"max,omitempty"`
}

// PacketTemplate is a named RADIUS packet definition that radius steps can
// reference instead of declaring attributes inline.
type PacketTemplate struct {
	Name       string      `yaml:"name"       json:"name" jsonschema:"required"`
	Code       string      `yaml:"code"       json:"code" jsonschema:"required"` // e.g. Access-Request, Accounting-Request
	Attributes []Attribute `yaml:"attributes" json:"attributes"`
}

// Attribute is one RADIUS attribute-value pair. Values may contain ${name}
// placeholders.
type Attribute struct {
	Name  string `yaml:"name"  json:"name"  jsonschema:"required"`
	Value string `yaml:"value" json:"value" jsonschema:"required"`
}

// Step is one unit of work within a scenario. Exactly one kind-specific
// config block must be set, matching Kind.
type Step struct {
	ID    string `yaml:"id,omitempty" json:"id,omitempty"`
	Kind  string `yaml:"kind"         json:"kind" jsonschema:"required,enum=radius,enum=sql,enum=api_call,enum=delay,enum=log_message,enum=loop_start,enum=loop_end,enum=conditional_start,enum=conditional_end"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`

	Radius      *RadiusStepConfig      `yaml:"radius,omitempty"      json:"radius,omitempty"`
	SQL         *SQLStepConfig         `yaml:"sql,omitempty"         json:"sql,omitempty"`
	API         *APIStepConfig         `yaml:"api,omitempty"         json:"api,omitempty"`
	Delay       *DelayStepConfig       `yaml:"delay,omitempty"       json:"delay,omitempty"`
	Log         *LogStepConfig         `yaml:"log,omitempty"         json:"log,omitempty"`
	Loop        *LoopStepConfig        `yaml:"loop,omitempty"        json:"loop,omitempty"`
	Conditional *ConditionalStepConfig `yaml:"conditional,omitempty" json:"conditional,omitempty"`
}

// RadiusStepConfig drives one RADIUS exchange. Either Packet references a
// template declared under packets:, or Attributes declares the packet inline.
type RadiusStepConfig struct {
	Packet     string      `yaml:"packet,omitempty"     json:"packet,omitempty"`
	Code       string      `yaml:"code,omitempty"       json:"code,omitempty"`
	Attributes []Attribute `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	// Port selects the target port on the profile: "auth" (default) or "acct".
	Port string `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"enum=auth,enum=acct"`
	// ExpectAttributes asserts name=value pairs on the received reply.
	ExpectAttributes map[string]string `yaml:"expect_attributes,omitempty" json:"expect_attributes,omitempty"`
	Timeout          string            `yaml:"timeout,omitempty"           json:"timeout,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m)$"`
}

// SQLStepConfig runs a query against the target database and optionally
// asserts a column value on the first result row.
type SQLStepConfig struct {
	Query        string `yaml:"query"                   json:"query" jsonschema:"required"`
	ExpectColumn string `yaml:"expect_column,omitempty" json:"expect_column,omitempty"`
	ExpectValue  string `yaml:"expect_value,omitempty"  json:"expect_value,omitempty"`
}

// APIStepConfig performs one HTTP request.
type APIStepConfig struct {
	URL          string            `yaml:"url"                     json:"url" jsonschema:"required"`
	Method       string            `yaml:"method,omitempty"        json:"method,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"       json:"headers,omitempty"`
	Body         string            `yaml:"body,omitempty"          json:"body,omitempty"`
	ExpectStatus int               `yaml:"expect_status,omitempty" json:"expect_status,omitempty"`
	ExpectBody   string            `yaml:"expect_body,omitempty"   json:"expect_body,omitempty"` // substring match
}

// DelayStepConfig suspends the run for a duration in milliseconds. The value
// may contain ${name} placeholders.
type DelayStepConfig struct {
	Ms string `yaml:"ms" json:"ms" jsonschema:"required"`
}

// LogStepConfig appends an informational entry to the run log.
type LogStepConfig struct {
	Message string `yaml:"message" json:"message" jsonschema:"required"`
}

// LoopStepConfig configures a loop_start marker. The span up to the matching
// loop_end executes Count times.
type LoopStepConfig struct {
	Count int `yaml:"count" json:"count" jsonschema:"required,minimum=1"`
}

// ConditionalStepConfig configures a conditional_start marker. The span up to
// the matching conditional_end executes only when Condition evaluates true
// over the scenario variables (expr-lang syntax).
type ConditionalStepConfig struct {
	Condition string `yaml:"condition" json:"condition" jsonschema:"required"`
}

// LoadFile reads and parses a scenario YAML file.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a scenario from an io.Reader with strict unknown-field rejection.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &sc, nil
}

// Packet returns the packet template with the given name, or nil.
func (s *Scenario) Packet(name string) *PacketTemplate {
	for i := range s.Packets {
		if s.Packets[i].Name == name {
			return &s.Packets[i]
		}
	}
	return nil
}
