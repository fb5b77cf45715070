package runtime

import (
	"context"
	"fmt"

	"github.com/ormasoftchile/radrun/pkg/assertions"
	"github.com/ormasoftchile/radrun/pkg/providers"
	"github.com/ormasoftchile/radrun/pkg/schema"
)

// PreambleRunner executes the profile's SSH preparation commands before any
// scenario step, over one shared session. The session is torn down on every
// exit path. The first command failure halts the remaining commands.
type PreambleRunner struct {
	ssh  providers.SSHClient
	logs *LogAggregator
}

// NewPreambleRunner wires the runner to its SSH collaborator and log sink.
func NewPreambleRunner(ssh providers.SSHClient, logs *LogAggregator) *PreambleRunner {
	return &PreambleRunner{ssh: ssh, logs: logs}
}

// Run opens one SSH session, iterates the commands in declared order, and
// closes the session regardless of outcome. Disabled commands are skipped
// and logged as skipped. Cancellation is observed between commands.
func (pr *PreambleRunner) Run(ctx context.Context, commands []schema.PreambleCommand, profile *schema.Profile) PreambleOutcome {
	if err := pr.ssh.Connect(ctx, profile); err != nil {
		msg := fmt.Sprintf("ssh connect to %s failed: %v", profile.Host, err)
		pr.logs.Append(LogEntry{Level: LevelSSHFail, Message: msg})
		return PreambleOutcome{Kind: KindConnection, Error: msg}
	}
	defer pr.ssh.Close()

	outcome := PreambleOutcome{}
	for i, cmd := range commands {
		select {
		case <-ctx.Done():
			msg := fmt.Sprintf("preamble aborted before command %d", i+1)
			pr.logs.Append(LogEntry{Level: LevelWarn, Message: msg})
			outcome.Kind = KindCancellation
			outcome.Error = msg
			return outcome
		default:
		}

		if !cmd.IsEnabled() {
			outcome.Skipped++
			pr.logs.Append(LogEntry{
				Level:   LevelInfo,
				Message: fmt.Sprintf("preamble command %d skipped (disabled): %s", i+1, cmd.Command),
			})
			continue
		}

		pr.logs.Append(LogEntry{Level: LevelSSHCmd, Message: cmd.Command})

		result, err := pr.ssh.Run(ctx, cmd.Command)
		if err != nil {
			msg := fmt.Sprintf("preamble command %d failed: %v", i+1, err)
			pr.logs.Append(LogEntry{Level: LevelSSHFail, Message: msg})
			outcome.Kind = KindConnection
			outcome.Error = msg
			return outcome
		}
		outcome.CommandsRun++

		pr.logs.Append(LogEntry{
			Level:   LevelSSHOut,
			Message: fmt.Sprintf("exit %d", result.ExitCode),
			Detail:  result.Stdout + result.Stderr,
		})

		if result.ExitCode != 0 {
			msg := fmt.Sprintf("preamble command %d exited with code %d", i+1, result.ExitCode)
			pr.logs.Append(LogEntry{Level: LevelSSHFail, Message: msg})
			outcome.Kind = KindValidation
			outcome.Error = msg
			return outcome
		}

		if cmd.ExpectOutput != "" {
			check := assertions.EvalOutputContains(result.Stdout, result.Stderr, cmd.ExpectOutput)
			if !check.Passed {
				msg := fmt.Sprintf("preamble command %d: %s", i+1, check.Message)
				pr.logs.Append(LogEntry{Level: LevelSSHFail, Message: msg})
				outcome.Kind = KindValidation
				outcome.Error = msg
				return outcome
			}
		}
	}

	outcome.Success = true
	return outcome
}
