package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ormasoftchile/radrun/pkg/schema"
)

// RadclientTool drives RADIUS exchanges through the FreeRADIUS radclient
// binary. The packet attributes are written on stdin, one "Name = Value"
// pair per line; -x output is parsed back into sent/received packet
// representations.
type RadclientTool struct {
	// Path to the radclient binary. Empty means "radclient" on PATH.
	Path string
	// Retries passed as -r. Zero means radclient's default.
	Retries int
}

// command maps a packet code to the radclient request type argument.
func radclientCommand(code string) (string, error) {
	switch code {
	case "Access-Request":
		return "auth", nil
	case "Accounting-Request":
		return "acct", nil
	case "Status-Server":
		return "status", nil
	case "Disconnect-Request":
		return "disconnect", nil
	case "CoA-Request":
		return "coa", nil
	}
	return "", fmt.Errorf("unsupported packet code %q", code)
}

// Exchange sends one packet and waits for the reply.
func (t *RadclientTool) Exchange(ctx context.Context, packet *Packet, profile *schema.Profile) (*ToolResult, error) {
	reqType, err := radclientCommand(packet.Code)
	if err != nil {
		return nil, err
	}

	bin := t.Path
	if bin == "" {
		bin = "radclient"
	}

	args := []string{"-x"}
	if t.Retries > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", t.Retries))
	}
	args = append(args,
		fmt.Sprintf("%s:%d", profile.Host, packet.Port),
		reqType,
		profile.Radius.Secret,
	)

	var stdin bytes.Buffer
	for _, a := range packet.Attributes {
		fmt.Fprintf(&stdin, "%s = %q\n", a.Name, a.Value)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = &stdin

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execute %q: %w", bin, err)
		}
	}

	raw := out.String()
	sent, received := parseRadclientOutput(raw)

	return &ToolResult{
		Sent:      sent,
		Received:  received,
		RawOutput: raw,
		ExitCode:  exitCode,
		Duration:  duration,
	}, nil
}

// parseRadclientOutput extracts the sent and received packet blocks from -x
// output. A block starts at a "Sent ..." or "Received ..." line and extends
// over the indented attribute lines that follow it.
func parseRadclientOutput(raw string) (sent, received string) {
	var cur *strings.Builder
	var sentB, recvB strings.Builder

	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "Sent "):
			cur = &sentB
		case strings.HasPrefix(line, "Received "):
			cur = &recvB
		case !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " "):
			cur = nil
		}
		if cur != nil {
			if cur.Len() > 0 {
				cur.WriteByte('\n')
			}
			cur.WriteString(strings.TrimRight(line, "\r"))
		}
	}
	return sentB.String(), recvB.String()
}
