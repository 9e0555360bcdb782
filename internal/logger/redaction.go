package logger

import (
	"io"
	"regexp"
)

// defaultPatterns covers the credentials this process actually handles:
// provider API keys from the pool, bearer auth, and the quiz submission
// secret as it appears in config or payload dumps.
var defaultPatterns = []*regexp.Regexp{
	// OpenAI / Anthropic keys
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

	// Google API keys
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{30,}`),

	// Bearer tokens
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

	// Passwords and auth tokens
	regexp.MustCompile(`password["\s:=]+[^\s"]+`),
	regexp.MustCompile(`pwd["\s:=]+[^\s"]+`),
	regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),

	// AWS keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

	// Generic secrets, including the quiz submission secret
	regexp.MustCompile(`api_key["\s:=]+[^\s",}]+`),
	regexp.MustCompile(`secret["\s:=]+[^\s",}]+`),
}

// Redactor scrubs credentials out of log output before it reaches a sink.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the default pattern set.
func NewRedactor() *Redactor {
	patterns := make([]*regexp.Regexp, len(defaultPatterns))
	copy(patterns, defaultPatterns)
	return &Redactor{patterns: patterns}
}

// AddPattern compiles and appends a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every pattern match in s with a placeholder.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	return w.writer.Write([]byte(redacted))
}
