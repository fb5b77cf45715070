package runtime

import (
	"regexp"
	"strconv"
	"testing"

	"github.com/ormasoftchile/radrun/pkg/schema"
)

func TestResolveStaticAndList(t *testing.T) {
	vars := []schema.Variable{
		{Name: "imsi", Kind: schema.VarStatic, Value: "001010000000011"},
		{Name: "apn", Kind: schema.VarList, Values: []string{"internet", "ims"}},
	}

	var r Resolver
	got := r.Resolve("User-Name = ${imsi}@${apn}", vars)
	want := "User-Name = 001010000000011@internet"
	if got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolveMissingVariablePassesThrough(t *testing.T) {
	vars := []schema.Variable{
		{Name: "imsi", Kind: schema.VarStatic, Value: "0011"},
	}

	var r Resolver
	got := r.Resolve("${imsi} and ${undeclared}", vars)
	want := "0011 and ${undeclared}"
	if got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolveNoVariables(t *testing.T) {
	var r Resolver
	in := "plain text with ${anything}"
	if got := r.Resolve(in, nil); got != in {
		t.Errorf("Resolve() = %q, want unchanged input", got)
	}
}

func TestResolveRandomString(t *testing.T) {
	vars := []schema.Variable{
		{Name: "session", Kind: schema.VarRandomString, Length: 12},
	}

	var r Resolver
	token := r.Resolve("${session}", vars)
	if len(token) != 12 {
		t.Fatalf("token length = %d, want 12", len(token))
	}
	if !regexp.MustCompile(`^[A-Za-z0-9]+$`).MatchString(token) {
		t.Errorf("token %q contains non-alphanumeric characters", token)
	}

	// Default length when none declared.
	short := r.Resolve("${session}", []schema.Variable{{Name: "session", Kind: schema.VarRandomString}})
	if len(short) != defaultRandomLength {
		t.Errorf("default token length = %d, want %d", len(short), defaultRandomLength)
	}
}

func TestResolveRandomNumberWithinBounds(t *testing.T) {
	vars := []schema.Variable{
		{Name: "port", Kind: schema.VarRandomNumber, Min: 1000, Max: 1010},
	}

	var r Resolver
	for i := 0; i < 50; i++ {
		raw := r.Resolve("${port}", vars)
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if n < 1000 || n > 1010 {
			t.Fatalf("value %d outside [1000, 1010]", n)
		}
	}
}

func TestResolveRandomRegeneratesPerCall(t *testing.T) {
	vars := []schema.Variable{
		{Name: "tok", Kind: schema.VarRandomString, Length: 16},
	}

	var r Resolver
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[r.Resolve("${tok}", vars)] = true
	}
	// 10 draws from a 62^16 space; a collision means the generator is broken.
	if len(seen) < 2 {
		t.Errorf("random_string produced the same value on every call")
	}
}
