package toolkit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultExecTimeout bounds one script run.
	DefaultExecTimeout = 90 * time.Second

	execOutputMax = 800
	execCodeMax   = 1000
	scriptName    = "runner.py"
)

// Executor runs model-written Python scripts inside a scratch directory.
// Downloaded files land in the same directory, so scripts reference them
// by bare filename. Output is captured and the last non-empty stdout
// line is treated as the answer.
type Executor struct {
	workDir string
	python  string
	timeout time.Duration
	logger  zerolog.Logger
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	WorkDir    string // scratch directory, created if missing
	PythonPath string // default "python3"
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// ExecResult is the structured outcome of one script run.
type ExecResult struct {
	CodeExecuted  string         `json:"code_executed"`
	Stdout        string         `json:"stdout"`
	Stderr        string         `json:"stderr"`
	ReturnCode    int            `json:"return_code"`
	Answer        string         `json:"answer,omitempty"`
	IsImageOutput bool           `json:"is_image_output,omitempty"`
	ErrorAnalysis *ErrorAnalysis `json:"error_analysis,omitempty"`
	Duration      time.Duration  `json:"duration_ms"`
}

// ErrorAnalysis gives the model an actionable reading of a failed run.
type ErrorAnalysis struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	Line       int    `json:"line,omitempty"`
	Suggestion string `json:"suggestion"`
}

// NewExecutor creates an executor rooted at cfg.WorkDir.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	workDir := cfg.WorkDir
	if workDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		workDir = filepath.Join(home, ".quizora", "workdir")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	python := cfg.PythonPath
	if python == "" {
		python = "python3"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}

	return &Executor{
		workDir: workDir,
		python:  python,
		timeout: timeout,
		logger:  cfg.Logger,
	}, nil
}

// WorkDir returns the scratch directory shared with the downloader.
func (e *Executor) WorkDir() string {
	return e.workDir
}

var riskyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`os\.system`),
	regexp.MustCompile(`subprocess\.(call|popen|run)`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`__import__`),
}

// Run writes code to the scratch directory and executes it. A non-zero
// exit or a timeout is reported in the result, not as an error; the
// returned error covers only setup failures.
func (e *Executor) Run(ctx context.Context, code string) (*ExecResult, error) {
	lowered := strings.ToLower(code)
	for _, re := range riskyPatterns {
		if re.MatchString(lowered) {
			e.logger.Warn().Str("pattern", re.String()).Msg("Risky pattern in submitted code")
		}
	}

	scriptPath := filepath.Join(e.workDir, scriptName)
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.python, scriptName)
	cmd.Dir = e.workDir
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + e.workDir,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &ExecResult{
		CodeExecuted: truncateWithMarker(code, execCodeMax),
		Stdout:       truncateWithMarker(stdout.String(), execOutputMax),
		Stderr:       truncateWithMarker(stderr.String(), execOutputMax),
		Duration:     duration,
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.ReturnCode = -1
		result.Stderr = fmt.Sprintf("Execution timed out after %s", e.timeout)
		result.ErrorAnalysis = &ErrorAnalysis{
			Type:       "timeout",
			Suggestion: "Optimize the logic, reduce data size, or simplify the computation",
		}
		e.logger.Warn().Dur("timeout", e.timeout).Msg("Script execution timed out")
		return result, nil
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to run %s: %w", e.python, runErr)
		}
	}

	result.Answer = lastNonEmptyLine(stdout.String())
	result.IsImageOutput = looksLikeImage(result.Answer)

	if result.ReturnCode != 0 {
		result.ErrorAnalysis = analyzeScriptError(stderr.String())
		e.logger.Debug().
			Int("return_code", result.ReturnCode).
			Str("error_type", result.ErrorAnalysis.Type).
			Msg("Script execution failed")
	} else {
		e.logger.Debug().
			Dur("duration", duration).
			Bool("image_output", result.IsImageOutput).
			Msg("Script executed")
	}

	return result, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// looksLikeImage detects a base64 PNG or data URI printed as the answer.
func looksLikeImage(answer string) bool {
	if len(answer) < 500 {
		return false
	}
	return strings.HasPrefix(answer, "iVBORw0KG") || strings.HasPrefix(answer, "data:image")
}

func truncateWithMarker(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}

var (
	missingModuleRe = regexp.MustCompile(`(?i)no module named ['"]?([\w_.]+)`)
	undefinedNameRe = regexp.MustCompile(`name ['"]?([\w_]+)['"]? is not defined`)
	missingKeyRe    = regexp.MustCompile(`(?i)keyerror:? ['"]?([^'"\n]+)`)
	errorLineRe     = regexp.MustCompile(`line (\d+)`)
)

// analyzeScriptError maps a Python traceback into a typed hint.
func analyzeScriptError(stderr string) *ErrorAnalysis {
	out := &ErrorAnalysis{
		Type:       "runtime_error",
		Suggestion: "Inspect the error and fix the code logic",
	}
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "importerror"), strings.Contains(lower, "modulenotfounderror"):
		out.Type = "import_error"
		out.Suggestion = "Use only the preinstalled packages or solve without the missing one"
		if m := missingModuleRe.FindStringSubmatch(stderr); m != nil {
			out.Message = fmt.Sprintf("Missing module: %s", m[1])
		}
	case strings.Contains(lower, "syntaxerror"):
		out.Type = "syntax_error"
		out.Suggestion = "Fix the Python syntax (colons, brackets, quotes)"
	case strings.Contains(lower, "nameerror"):
		out.Type = "name_error"
		if m := undefinedNameRe.FindStringSubmatch(stderr); m != nil {
			out.Message = fmt.Sprintf("Undefined name: %s", m[1])
			out.Suggestion = fmt.Sprintf("Define %q before use", m[1])
		}
	case strings.Contains(lower, "typeerror"):
		out.Type = "type_error"
		out.Suggestion = "Check the variable types used in operations"
	case strings.Contains(lower, "keyerror"):
		out.Type = "key_error"
		out.Suggestion = "Inspect dictionary keys before accessing them"
		if m := missingKeyRe.FindStringSubmatch(stderr); m != nil {
			out.Message = fmt.Sprintf("Missing key: %s", m[1])
		}
	case strings.Contains(lower, "filenotfounderror"):
		out.Type = "file_not_found"
		out.Suggestion = "Download the file first; it is referenced by bare filename"
	}

	if m := errorLineRe.FindStringSubmatch(stderr); m != nil {
		if line, err := strconv.Atoi(m[1]); err == nil {
			out.Line = line
		}
	}

	if out.Message == "" {
		lines := strings.Split(strings.TrimSpace(stderr), "\n")
		if len(lines) > 0 && lines[len(lines)-1] != "" {
			out.Message = truncateString(lines[len(lines)-1], 200)
		}
	}

	return out
}
