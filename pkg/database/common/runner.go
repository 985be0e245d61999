package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command is one native tool invocation
type Command struct {
	Name string
	Args []string
	// Env entries are appended to the process environment
	Env []string
	// Stdin, when set, is a file streamed to the process
	Stdin string
}

// String renders the command line with password arguments masked
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if strings.HasPrefix(a, "--password=") {
			a = "--password=****"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result carries the captured output of a finished command
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Message is the trimmed stderr, falling back to stdout
func (r Result) Message() string {
	if msg := strings.TrimSpace(string(r.Stderr)); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(r.Stdout))
}

// Runner executes native tools
type Runner interface {
	// Run executes c and waits. A non-zero exit returns an *ExitError.
	Run(ctx context.Context, c Command) (Result, error)
	// LookPath probes for a binary
	LookPath(name string) (string, error)
}

// ExitError reports a non-zero exit status
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements Runner
func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if c.Stdin != "" {
		f, err := os.Open(c.Stdin)
		if err != nil {
			return Result{}, err
		}
		defer f.Close()
		cmd.Stdin = f
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Command: c.Name, Code: res.ExitCode, Stderr: res.Message()}
	}
	return res, err
}

// LookPath implements Runner
func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
