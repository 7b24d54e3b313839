package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/caseloom/caseloom/internal/config"
)

// CLIProvider shells out to a local model command such as gemini or ollama.
// The prompt travels over stdin rather than argv so prompt content never
// meets shell quoting.
type CLIProvider struct {
	command string
	args    []string
	model   string
}

// NewCLIProvider validates the configured command and returns the provider.
func NewCLIProvider(cfg config.LLMConfig) (*CLIProvider, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("cli llm provider requires a command")
	}
	return &CLIProvider{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		model:   cfg.Model,
	}, nil
}

func (p *CLIProvider) Name() string { return "cli" }

// Generate runs one invocation of the configured command. The context
// deadline kills the child process; a response larger than maxResponseBytes
// is an error, not a truncation.
func (p *CLIProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	args := append([]string(nil), p.args...)
	if model != "" {
		args = append(args, "-m", model)
	}

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open llm stdout: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llm command %s: %w", p.command, err)
	}

	out, readErr := io.ReadAll(io.LimitReader(stdout, maxResponseBytes+1))
	// Drain anything past the cap so an over-talkative child can exit.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("llm command interrupted: %w", ctxErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("llm command failed: %w (stderr: %s)", waitErr, firstLines(stderr.String(), 512))
	}
	if readErr != nil {
		return nil, fmt.Errorf("read llm output: %w", readErr)
	}
	if len(out) > maxResponseBytes {
		return nil, fmt.Errorf("llm output exceeds %d bytes", maxResponseBytes)
	}

	return &GenerateResponse{
		Text:     strings.TrimSpace(string(out)),
		Model:    model,
		Duration: time.Since(start),
	}, nil
}

// firstLines trims diagnostic text for error messages.
func firstLines(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
