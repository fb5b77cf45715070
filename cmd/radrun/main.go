package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/radrun/pkg/providers"
	"github.com/ormasoftchile/radrun/pkg/runtime"
	"github.com/ormasoftchile/radrun/pkg/schema"
	"github.com/ormasoftchile/radrun/pkg/serve"
	"github.com/ormasoftchile/radrun/pkg/store"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv applies KEY=VALUE pairs from a .env file in the working
// directory. Blanks and # comments are skipped, values may be quoted, and
// variables already present in the environment win.
func loadDotEnv() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if key != "" && os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "radrun",
	Short: "RADIUS test scenario runner",
	Long:  "radrun — declarative RADIUS test scenarios against a lab server: SSH preamble, packet exchanges, database and API verification.",
}

// --- validate ---

var validateProfileFlag string

var validateCmd = &cobra.Command{
	Use:   "validate [scenario.yaml]",
	Short: "Validate a scenario YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	scenario, errs := schema.ValidateFile(filePath)
	if len(errs) > 0 {
		var errors []*schema.ValidationError
		var warnings []*schema.ValidationError
		for _, e := range errs {
			if e.Severity == "warning" {
				warnings = append(warnings, e)
			} else {
				errors = append(errors, e)
			}
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
			if w.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
			}
		}
		if len(errors) > 0 {
			fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errors))
			for i, e := range errors {
				fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
				if e.Path != "" {
					fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
				}
			}
			return fmt.Errorf("validation failed with %d error(s)", len(errors))
		}
	}

	if validateProfileFlag != "" {
		if _, err := schema.LoadProfileFile(validateProfileFlag); err != nil {
			return fmt.Errorf("profile: %w", err)
		}
		fmt.Printf("✓ profile %s is valid\n", validateProfileFlag)
	}

	fmt.Printf("✓ %s is valid (%d steps)\n", scenario.Meta.Name, len(scenario.Steps))
	return nil
}

// --- run ---

var (
	runProfile   string
	runDB        string
	runRadclient string
	runBaseDir   string
	runRetries   int
)

var runCmd = &cobra.Command{
	Use:   "run [scenario.yaml]",
	Short: "Execute a scenario against a server profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	scenario, errs := schema.ValidateFile(args[0])
	if hasValidationErrors(errs) {
		fmt.Fprintf(os.Stderr, "Validation failed:\n")
		for _, e := range errs {
			if e.Severity != "warning" {
				fmt.Fprintf(os.Stderr, "  [%s] %s\n", e.Phase, e.Message)
			}
		}
		return fmt.Errorf("scenario validation failed")
	}
	printValidationWarnings(errs)

	profile, err := schema.LoadProfileFile(runProfile)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	db, err := store.Open(runDB)
	if err != nil {
		return err
	}
	defer db.Close()

	collab := runtime.Collaborators{
		NewSSH:      func() providers.SSHClient { return providers.NewCryptoSSHClient() },
		NewDatabase: func() providers.Database { return providers.NewPgxDatabase() },
		Tool:        &providers.RadclientTool{Path: runRadclient, Retries: runRetries},
		HTTP:        providers.NewStdHTTPClient(),
	}
	controller := runtime.NewController(db, collab, nil)
	if runBaseDir != "" {
		controller.BaseDir = runBaseDir
	}

	// Ctrl-C requests a cooperative abort; a second Ctrl-C kills the process.
	ctx := context.Background()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
		case <-done:
			return
		}
		fmt.Fprintln(os.Stderr, "abort requested, finishing current step…")
		// The id is not known here yet on a fast signal; poll briefly.
		for i := 0; i < 100; i++ {
			if controller.AbortCurrent() {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		<-sigCh
		os.Exit(130)
	}()

	execID, err := controller.Start(ctx, scenario, profile)
	if err != nil {
		return err
	}
	fmt.Printf("artifacts: %s/%s\n", controller.BaseDir, execID)

	// A run that did not complete must be visible in the exit status.
	rec, err := db.GetExecution(ctx, execID)
	if err != nil {
		return err
	}
	if rec.Status != runtime.StatusCompleted {
		return fmt.Errorf("execution %s finished %s", execID, rec.Status)
	}
	return nil
}

// --- runs ---

var runsDB string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded executions",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	db, err := store.Open(runsDB)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.ListExecutions(cmd.Context())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no executions recorded")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-12s  %-10s  %s\n", "ID", "SCENARIO", "PROFILE", "STATUS", "STARTED")
	for _, r := range records {
		fmt.Printf("%-36s  %-20s  %-12s  %-10s  %s\n",
			r.ID, truncateCol(r.ScenarioName, 20), truncateCol(r.ProfileName, 12),
			r.Status, r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func truncateCol(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// --- logs ---

var logsDB string

var logsCmd = &cobra.Command{
	Use:   "logs [execution-id]",
	Short: "Print the persisted log batch of one execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
	db, err := store.Open(logsDB)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.GetLogs(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, e := range entries {
		step := ""
		if e.StepID != "" {
			step = " [" + e.StepID + "]"
		}
		fmt.Printf("%s %-8s%s %s\n", e.Timestamp.Local().Format("15:04:05.000"), e.Level, step, e.Message)
		if e.Detail != "" {
			for _, line := range strings.Split(strings.TrimRight(e.Detail, "\n"), "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
	}
	return nil
}

// --- serve ---

var (
	serveAddr string
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the live view: WebSocket event stream and run history API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	db, err := store.Open(serveDB)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := serve.NewHub()
	srv := serve.NewServer(hub, db)
	fmt.Printf("listening on %s\n", serveAddr)
	return srv.ListenAndServe(ctx, serveAddr)
}

// --- schema ---

var schemaOut string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the scenario JSON Schema (for editor integration)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		if schemaOut != "" {
			return os.WriteFile(schemaOut, data, 0644)
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("radrun %s (%s)\n", version, commit)
	},
}

// --- helpers ---

func hasValidationErrors(errs []*schema.ValidationError) bool {
	for _, e := range errs {
		if e.Severity != "warning" {
			return true
		}
	}
	return false
}

func printValidationWarnings(errs []*schema.ValidationError) {
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
		}
	}
}

func init() {
	validateCmd.Flags().StringVar(&validateProfileFlag, "profile", "", "also validate a profile YAML file")

	runCmd.Flags().StringVar(&runProfile, "profile", "profile.yaml", "server profile YAML file")
	runCmd.Flags().StringVar(&runDB, "db", ".radrun/radrun.db", "execution history database")
	runCmd.Flags().StringVar(&runRadclient, "radclient", "", "path to the radclient binary (default: $PATH lookup)")
	runCmd.Flags().StringVar(&runBaseDir, "artifacts", "", "artifacts directory (default .radrun/runs)")
	runCmd.Flags().IntVar(&runRetries, "retries", 0, "radclient retry count per exchange")

	runsCmd.Flags().StringVar(&runsDB, "db", ".radrun/radrun.db", "execution history database")
	logsCmd.Flags().StringVar(&logsDB, "db", ".radrun/radrun.db", "execution history database")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8642", "listen address")
	serveCmd.Flags().StringVar(&serveDB, "db", ".radrun/radrun.db", "execution history database")

	schemaCmd.Flags().StringVar(&schemaOut, "out", "", "write the schema to a file instead of stdout")

	rootCmd.AddCommand(validateCmd, runCmd, runsCmd, logsCmd, serveCmd, schemaCmd, versionCmd)
}
