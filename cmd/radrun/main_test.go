package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

const labProfile = `
name: lab
host: 127.0.0.1
radius:
  secret: testing123
`

// setRunFlags points the run command's flag variables at a throwaway
// profile, database and artifacts directory, restoring them afterwards.
func setRunFlags(t *testing.T, dir string) {
	t.Helper()
	origProfile, origDB, origBase := runProfile, runDB, runBaseDir
	t.Cleanup(func() { runProfile, runDB, runBaseDir = origProfile, origDB, origBase })
	runProfile = writeFile(t, filepath.Join(dir, "profile.yaml"), labProfile)
	runDB = filepath.Join(dir, "radrun.db")
	runBaseDir = filepath.Join(dir, "runs")
}

func TestRunCommandSucceedsOnCompletedRun(t *testing.T) {
	dir := t.TempDir()
	setRunFlags(t, dir)
	scenario := writeFile(t, filepath.Join(dir, "ok.yaml"), `
apiVersion: scenario/v1
meta:
  name: ok
steps:
  - id: s1
    kind: log_message
    log:
      message: "ready"
`)
	if err := runRun(runCmd, []string{scenario}); err != nil {
		t.Fatalf("runRun: %v", err)
	}
}

func TestRunCommandFailsOnFailedRun(t *testing.T) {
	dir := t.TempDir()
	setRunFlags(t, dir)
	// The duration resolves to a non-number, so the delay step fails at
	// runtime and the execution finishes Failed.
	scenario := writeFile(t, filepath.Join(dir, "bad.yaml"), `
apiVersion: scenario/v1
meta:
  name: bad-delay
steps:
  - id: d1
    kind: delay
    delay:
      ms: "abc"
`)
	err := runRun(runCmd, []string{scenario})
	if err == nil {
		t.Fatal("runRun returned nil for a Failed run")
	}
	if !strings.Contains(err.Error(), "Failed") {
		t.Errorf("error = %v, want the terminal status surfaced", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"),
		"# comment\n\nRADRUN_TEST_NEW=\"from-file\"\nRADRUN_TEST_KEEP=overwritten\nnot a pair\n")
	t.Chdir(dir)
	t.Setenv("RADRUN_TEST_NEW", "")
	t.Setenv("RADRUN_TEST_KEEP", "keep")

	loadDotEnv()

	if got := os.Getenv("RADRUN_TEST_NEW"); got != "from-file" {
		t.Errorf("RADRUN_TEST_NEW = %q, want %q", got, "from-file")
	}
	if got := os.Getenv("RADRUN_TEST_KEEP"); got != "keep" {
		t.Errorf("RADRUN_TEST_KEEP = %q, want %q (existing value must win)", got, "keep")
	}
}
