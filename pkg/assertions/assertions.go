// Package assertions evaluates the declared expectations of preamble
// commands and scenario steps: output substrings, SQL column values, HTTP
// statuses and RADIUS reply attributes.
package assertions

import (
	"fmt"
	"regexp"
	"strings"
)

// Result is the outcome of evaluating a single expectation.
type Result struct {
	Type     string `json:"type"` // output_contains, column_value, http_status, body_contains, reply_attribute
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message"`
}

// EvalOutputContains checks that the expected substring appears in the
// combined stdout/stderr of a preamble command.
func EvalOutputContains(stdout, stderr, expected string) *Result {
	passed := strings.Contains(stdout, expected) || strings.Contains(stderr, expected)
	msg := fmt.Sprintf("output contains %q", expected)
	if !passed {
		msg = fmt.Sprintf("output does not contain %q", expected)
	}
	return &Result{
		Type:     "output_contains",
		Expected: expected,
		Actual:   truncate(stdout+stderr, 200),
		Passed:   passed,
		Message:  msg,
	}
}

// EvalColumnValue checks the named column of the first result row against
// the expected value.
func EvalColumnValue(firstRow map[string]string, column, expected string) *Result {
	if firstRow == nil {
		return &Result{
			Type:     "column_value",
			Expected: expected,
			Passed:   false,
			Message:  "query returned no rows",
		}
	}
	actual, ok := firstRow[column]
	if !ok {
		return &Result{
			Type:     "column_value",
			Expected: expected,
			Passed:   false,
			Message:  fmt.Sprintf("column %q not present in result row", column),
		}
	}
	passed := actual == expected
	msg := fmt.Sprintf("column %q = %q", column, actual)
	if !passed {
		msg = fmt.Sprintf("column %q = %q, want %q", column, actual, expected)
	}
	return &Result{
		Type:     "column_value",
		Expected: expected,
		Actual:   actual,
		Passed:   passed,
		Message:  msg,
	}
}

// EvalStatus checks an HTTP status code.
func EvalStatus(actual, expected int) *Result {
	passed := actual == expected
	msg := fmt.Sprintf("status %d", actual)
	if !passed {
		msg = fmt.Sprintf("status %d, want %d", actual, expected)
	}
	return &Result{
		Type:     "http_status",
		Expected: fmt.Sprintf("%d", expected),
		Actual:   fmt.Sprintf("%d", actual),
		Passed:   passed,
		Message:  msg,
	}
}

// EvalBodyContains checks an HTTP response body for a substring.
func EvalBodyContains(body, expected string) *Result {
	passed := strings.Contains(body, expected)
	msg := fmt.Sprintf("body contains %q", expected)
	if !passed {
		msg = fmt.Sprintf("body does not contain %q", expected)
	}
	return &Result{
		Type:     "body_contains",
		Expected: expected,
		Actual:   truncate(body, 200),
		Passed:   passed,
		Message:  msg,
	}
}

// replyAttrRe matches one "Name = Value" attribute line in a received packet
// representation. Values may or may not be quoted.
var replyAttrRe = regexp.MustCompile(`(?m)^\s*([A-Za-z0-9-]+)\s*=\s*"?([^"\r\n]*)"?\s*$`)

// EvalReplyAttribute checks that the received packet representation carries
// the attribute with the expected value.
func EvalReplyAttribute(received, name, expected string) *Result {
	actual, found := "", false
	for _, m := range replyAttrRe.FindAllStringSubmatch(received, -1) {
		if m[1] == name {
			actual = strings.TrimSpace(m[2])
			found = true
			break
		}
	}
	if !found {
		return &Result{
			Type:     "reply_attribute",
			Expected: expected,
			Passed:   false,
			Message:  fmt.Sprintf("reply has no attribute %q", name),
		}
	}
	passed := actual == expected
	msg := fmt.Sprintf("reply %s = %q", name, actual)
	if !passed {
		msg = fmt.Sprintf("reply %s = %q, want %q", name, actual, expected)
	}
	return &Result{
		Type:     "reply_attribute",
		Expected: expected,
		Actual:   actual,
		Passed:   passed,
		Message:  msg,
	}
}

// truncate limits a string for display in assertion results.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
