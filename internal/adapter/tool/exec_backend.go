package tool

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ShellOutput is the captured result of one command.
type ShellOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ShellBackend runs a shell command line in a working directory.
// A non-zero exit status is reported in ShellOutput, not as an error.
type ShellBackend interface {
	Run(ctx context.Context, command, workDir string) (ShellOutput, error)
}

// LocalShell runs commands with sh -c on the host.
type LocalShell struct{}

func (LocalShell) Run(ctx context.Context, command, workDir string) (ShellOutput, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	// Children that inherit the pipes must not keep Run blocked after a kill.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := ShellOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}
