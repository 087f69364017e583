// Package cmdagent runs an external command as a pipeline agent.
//
// The command receives a JSON document on stdin:
//
//	{"role": "fact_checker", "item": {"id": "...", "kind": "...", "payload": {...}, ...}}
//
// and must print one JSON outcome on stdout:
//
//	{"action": "checked", "data_updates": {...}, "confidence": 0.9,
//	 "quality_score": 0.85, "needs_revision": false, "reasoning": "..."}
//
// A non-zero exit, empty or malformed stdout, oversized output or a timeout
// is reported as an error, which the orchestrator records as an agent failure.
package cmdagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxOutput is the maximum number of bytes read from stdout or stderr (10MB)
	DefaultMaxOutput = 10 * 1024 * 1024

	// DefaultConfidence is assumed when the command omits "confidence".
	DefaultConfidence = 0.8

	waitDelay = 500 * time.Millisecond
)

// Config describes how to run one agent command.
type Config struct {
	Role        blackboard.Role
	Command     []string
	Timeout     time.Duration // zero means only the caller's deadline applies
	Environment []string      // KEY=VALUE pairs added to the inherited environment
	WorkDir     string
	MaxOutput   int // zero means DefaultMaxOutput
}

// Input is the document written to the command's stdin.
type Input struct {
	Role blackboard.Role      `json:"role"`
	Item *blackboard.Snapshot `json:"item"`
}

// output mirrors blackboard.Outcome but keeps confidence optional.
type output struct {
	Action        string             `json:"action"`
	DataUpdates   blackboard.Payload `json:"data_updates"`
	Confidence    *float64           `json:"confidence"`
	QualityScore  *float64           `json:"quality_score"`
	NeedsRevision bool               `json:"needs_revision"`
	Reasoning     string             `json:"reasoning"`
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("process exited with code %d", e.Code)
	}
	return fmt.Sprintf("process exited with code %d: %s", e.Code, e.Stderr)
}

// Agent implements blackboard.Agent by running a subprocess per call.
type Agent struct {
	cfg    Config
	logger zerolog.Logger
}

// New validates cfg and returns an Agent.
func New(cfg Config, logger zerolog.Logger) (*Agent, error) {
	if cfg.Role == "" {
		return nil, fmt.Errorf("agent role cannot be empty")
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("agent '%s': command array is empty", cfg.Role)
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	return &Agent{
		cfg:    cfg,
		logger: logger.With().Str("role", string(cfg.Role)).Logger(),
	}, nil
}

// Process runs the command once for snap.
func (a *Agent) Process(ctx context.Context, snap *blackboard.Snapshot) (*blackboard.Outcome, error) {
	input, err := json.Marshal(&Input{Role: a.cfg.Role, Item: snap})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent input: %w", err)
	}

	start := time.Now()
	stdout, stderr, err := a.run(ctx, input)
	duration := time.Since(start)
	if err != nil {
		a.logger.Debug().
			Str("item_id", snap.ID).
			Dur("duration", duration).
			Str("stderr", truncate(stderr, 200)).
			Err(err).
			Msg("agent command failed")
		return nil, err
	}

	outcome, err := parseOutput(stdout)
	if err != nil {
		a.logger.Debug().
			Str("item_id", snap.ID).
			Str("stdout", truncate(stdout, 200)).
			Err(err).
			Msg("agent output rejected")
		return nil, fmt.Errorf("failed to parse agent output: %w", err)
	}

	a.logger.Debug().
		Str("item_id", snap.ID).
		Dur("duration", duration).
		Msg("agent command completed")
	return outcome, nil
}

// run executes the command with input on stdin and bounded output capture.
func (a *Agent) run(ctx context.Context, input []byte) (string, string, error) {
	execCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, a.cfg.Command[0], a.cfg.Command[1:]...)
	cmd.Dir = a.cfg.WorkDir
	if len(a.cfg.Environment) > 0 {
		cmd.Env = append(os.Environ(), a.cfg.Environment...)
	}
	cmd.Stdin = bytes.NewReader(input)
	// children of a killed shell can hold the pipes open
	cmd.WaitDelay = waitDelay

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	stdoutW := &limitedWriter{w: stdoutBuf, limit: a.cfg.MaxOutput}
	stderrW := &limitedWriter{w: stderrBuf, limit: a.cfg.MaxOutput}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err := cmd.Run()
	stdout, stderr := stdoutBuf.String(), stderrBuf.String()

	if execCtx.Err() != nil {
		return stdout, stderr, fmt.Errorf("agent command interrupted: %w", execCtx.Err())
	}
	if stdoutW.truncated || stderrW.truncated {
		return stdout, stderr, fmt.Errorf("agent output exceeded %d byte limit", a.cfg.MaxOutput)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout, stderr, &ExitError{Code: exitErr.ExitCode(), Stderr: truncate(strings.TrimSpace(stderr), 500)}
		}
		return stdout, stderr, fmt.Errorf("failed to run agent command: %w", err)
	}
	return stdout, stderr, nil
}

// parseOutput unmarshals and validates the command's stdout JSON.
func parseOutput(stdout string) (*blackboard.Outcome, error) {
	if strings.TrimSpace(stdout) == "" {
		return nil, fmt.Errorf("agent produced no output on stdout")
	}

	var out output
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	confidence := DefaultConfidence
	if out.Confidence != nil {
		confidence = *out.Confidence
	}

	outcome := &blackboard.Outcome{
		Action:        out.Action,
		DataUpdates:   out.DataUpdates,
		Confidence:    confidence,
		QualityScore:  out.QualityScore,
		NeedsRevision: out.NeedsRevision,
		Reasoning:     out.Reasoning,
	}
	if err := outcome.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return outcome, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		lw.truncated = true
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
		lw.truncated = true
	}

	n, err := lw.w.Write(toWrite)
	lw.written += n
	if err != nil {
		return n, err
	}
	// Report the full length so the process doesn't see a short write.
	return len(p), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ blackboard.Agent = (*Agent)(nil)
