package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/hoverquill/server/internal/copilot/model"
)

// ToolTerminalCommand is the name the model uses to request a shell command.
const ToolTerminalCommand = "terminal_command"

const defaultCommandTimeout = 30 * time.Second

// allowedCommands restricts execution to the base command of the first token.
// The model only ever runs commands from this list; anything else is refused
// before confirmation reaches the shell.
var allowedCommands = map[string]bool{
	"ls": true, "dir": true, "pwd": true, "echo": true, "cat": true,
	"head": true, "tail": true, "grep": true, "find": true,
	"date": true, "whoami": true, "uptime": true, "df": true, "du": true,
	"free": true, "ps": true, "top": true,
	"uname": true, "hostname": true, "ping": true, "ip": true,
	"ifconfig": true, "netstat": true, "curl": true, "wget": true,
	"python": true, "pip": true, "pnpm": true, "npm": true, "node": true,
	"git": true, "fish": true, "bash": true, "sh": true, "zsh": true,
}

var allowedShells = map[string]bool{
	"bash": true, "sh": true, "fish": true, "zsh": true,
}

// NewTerminalCommandTool executes allowlisted shell commands after user
// confirmation, reporting stdout/stderr as a fenced block.
func NewTerminalCommandTool() *Tool {
	return &Tool{
		Info: &schema.ToolInfo{
			Name: ToolTerminalCommand,
			Desc: "Execute terminal commands safely. Can run common shell commands like ls, cat, grep, and git.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"command": {
					Type:     "string",
					Desc:     "The terminal command to execute",
					Required: true,
				},
				"working_dir": {
					Type: "string",
					Desc: "Optional working directory (use ~ for home directory)",
				},
				"timeout": {
					Type: "number",
					Desc: "Maximum execution time in seconds",
				},
				"shell_type": {
					Type: "string",
					Desc: "Specific shell to use",
					Enum: []string{"bash", "fish", "zsh", "sh"},
				},
			}),
		},
		Execute: runTerminalCommand,
	}
}

func runTerminalCommand(ctx context.Context, args map[string]any) model.ToolResult {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return model.ToolResult{
			Status:  model.ToolStatusError,
			Message: "Command must be a non-empty string",
		}
	}

	workingDir, err := resolveWorkingDir(args["working_dir"])
	if err != nil {
		return model.ToolResult{Status: model.ToolStatusError, Message: err.Error()}
	}

	if base, ok := commandAllowed(command); !ok {
		return model.ToolResult{
			Status:  model.ToolStatusError,
			Message: fmt.Sprintf("Command '%s' is not allowed for security reasons", base),
		}
	}

	shell := resolveShell(args["shell_type"])
	timeout := resolveTimeout(args["timeout"])

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	cmd.Dir = workingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	report := formatCommandReport(workingDir, shell, command, stdout.String(), stderr.String())

	if runCtx.Err() == context.DeadlineExceeded {
		return model.ToolResult{
			Status:  model.ToolStatusError,
			Message: fmt.Sprintf("Command timed out after %d seconds", int(timeout.Seconds())),
			Data:    report,
		}
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return model.ToolResult{Status: model.ToolStatusSuccess, Data: report}
	case errors.As(runErr, &exitErr):
		return model.ToolResult{
			Status:  model.ToolStatusError,
			Message: fmt.Sprintf("Command failed with exit code %d", exitErr.ExitCode()),
			Data:    report,
		}
	default:
		return model.ToolResult{
			Status:  model.ToolStatusError,
			Message: fmt.Sprintf("Failed to execute command: %v", runErr),
		}
	}
}

// commandAllowed checks the base name of the first token against the
// allowlist. Pipes and chaining still run under the shell, so the first
// token is the gate.
func commandAllowed(command string) (string, bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", false
	}
	base := filepath.Base(fields[0])
	return base, allowedCommands[base]
}

func resolveWorkingDir(raw any) (string, error) {
	dir, _ := raw.(string)
	dir = strings.TrimSpace(dir)

	switch dir {
	case "":
		return os.Getwd()
	case "~", "$HOME":
		return os.UserHomeDir()
	}
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, dir[2:])
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("Working directory '%s' does not exist", dir)
	}
	return dir, nil
}

func resolveShell(raw any) string {
	if name, _ := raw.(string); allowedShells[name] {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func resolveTimeout(raw any) time.Duration {
	var seconds float64
	switch v := raw.(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	}
	if seconds <= 0 {
		return defaultCommandTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}

func formatCommandReport(workingDir, shell, command, stdout, stderr string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory: %s\nShell: %s\nCommand: %s\n\n", workingDir, filepath.Base(shell), command)

	if out := strings.TrimSpace(stdout); out != "" {
		fmt.Fprintf(&b, "```\n%s\n```", out)
	} else {
		b.WriteString("(Command executed with no output)")
	}
	if errOut := strings.TrimSpace(stderr); errOut != "" {
		fmt.Fprintf(&b, "\n\nErrors:\n```\n%s\n```", errOut)
	}
	return b.String()
}
