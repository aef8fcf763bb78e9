// Package builtin provides the stock tools and skills shipped with agentloop.
package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/user/agentloop/internal/tool"
)

const (
	defaultCommandTimeout = 120 * time.Second
	maxCommandOutput      = 30000
)

type bashParams struct {
	Command        string `json:"command" jsonschema:"description=The command to execute"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" jsonschema:"description=Timeout in seconds (default 120)"`
}

// Bash runs shell commands on the host. A non-zero exit is reported to the
// model together with the combined output.
func Bash() tool.Tool {
	return tool.Func("bash", "Execute a bash command on the host machine", func(ctx context.Context, p bashParams) (any, error) {
		if p.Command == "" {
			return nil, fmt.Errorf("command is required")
		}
		timeout := defaultCommandTimeout
		if p.TimeoutSeconds > 0 {
			timeout = time.Duration(p.TimeoutSeconds) * time.Second
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, "bash", "-c", p.Command).CombinedOutput()
		text := truncate(string(out), maxCommandOutput)
		if err != nil {
			return nil, fmt.Errorf("command failed: %w\nOutput: %s", err, text)
		}
		return text, nil
	})
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n\n[Content truncated]"
}
