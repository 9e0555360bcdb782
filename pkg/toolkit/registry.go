// Package toolkit implements the fixed tool catalog and its registry. The
// registry validates arguments against each tool's JSON schema before
// dispatch and enforces a bounded-time contract on every handler; failures
// come back as observations, never as process faults.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/quizora/quizora/internal/observability"
)

// DefaultTimeout bounds a tool execution when the caller gives none.
const DefaultTimeout = 60 * time.Second

// maxOutputChars caps the observation payload fed back to the model.
const maxOutputChars = 50000

// Parameter defines one argument of a tool.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for tool execution.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition declares a tool's contract and its handler.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Invocation is a validated tool call request.
type Invocation struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ObservationKind classifies how a tool invocation concluded.
type ObservationKind string

const (
	ObservationOK        ObservationKind = "ok"
	ObservationNotFound  ObservationKind = "not_found"
	ObservationInvalid   ObservationKind = "validation_error"
	ObservationFailed    ObservationKind = "execution_error"
	ObservationTimeout   ObservationKind = "timeout"
	ObservationCancelled ObservationKind = "cancelled"
)

// Observation is the result fed back into the conversation.
type Observation struct {
	CallID    string          `json:"call_id"`
	Tool      string          `json:"tool"`
	Kind      ObservationKind `json:"kind"`
	Output    interface{}     `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Elapsed   time.Duration   `json:"elapsed"`
	Truncated bool            `json:"truncated,omitempty"`
}

// OK reports whether the invocation succeeded.
func (o Observation) OK() bool {
	return o.Kind == ObservationOK
}

// Content renders the observation as the string handed back to the model.
func (o Observation) Content() string {
	if o.Kind != ObservationOK {
		return fmt.Sprintf(`{"error":%q,"kind":%q}`, o.Error, o.Kind)
	}
	switch v := o.Output.(type) {
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// Registry is the fixed catalog of named operations.
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool to the catalog.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}
	for _, p := range def.Parameters {
		switch p.Type {
		case "string", "number", "integer", "boolean", "object", "array":
		default:
			return fmt.Errorf("tool %s parameter %s has invalid type %q", def.Name, p.Name, p.Type)
		}
	}

	schemaDoc := schemaFor(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDoc))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Descriptors returns the tool descriptions supplied to the model so it can
// choose a tool.
func (r *Registry) Descriptors() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": schemaFor(*def),
		})
	}
	return out
}

// Invoke validates the arguments and executes the named tool under the given
// timeout. Every failure mode yields an observation.
func (r *Registry) Invoke(ctx context.Context, inv Invocation, timeout time.Duration) Observation {
	start := time.Now()

	if inv.ID == "" {
		inv.ID = gonanoid.Must(12)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.mu.RLock()
	def := r.tools[inv.Name]
	schema := r.schemas[inv.Name]
	r.mu.RUnlock()

	if def == nil {
		return Observation{
			CallID:  inv.ID,
			Tool:    inv.Name,
			Kind:    ObservationNotFound,
			Error:   fmt.Sprintf("tool not found: %s", inv.Name),
			Elapsed: time.Since(start),
		}
	}

	args := withDefaults(def, inv.Args)

	if err := validateArgs(schema, args); err != nil {
		log.Warn().Str("tool", inv.Name).Err(err).Msg("Argument validation failed")
		observability.RecordToolExecution(inv.Name, time.Since(start), false)
		return Observation{
			CallID:  inv.ID,
			Tool:    inv.Name,
			Kind:    ObservationInvalid,
			Error:   err.Error(),
			Elapsed: time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := def.Handler(execCtx, args)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			log.Error().Str("tool", inv.Name).Dur("elapsed", elapsed).Err(out.err).Msg("Tool execution failed")
			observability.RecordToolExecution(inv.Name, elapsed, false)
			return Observation{
				CallID:  inv.ID,
				Tool:    inv.Name,
				Kind:    ObservationFailed,
				Error:   out.err.Error(),
				Elapsed: elapsed,
			}
		}

		output, truncated := truncateOutput(out.result)
		log.Debug().Str("tool", inv.Name).Dur("elapsed", elapsed).Msg("Tool execution completed")
		observability.RecordToolExecution(inv.Name, elapsed, true)
		return Observation{
			CallID:    inv.ID,
			Tool:      inv.Name,
			Kind:      ObservationOK,
			Output:    output,
			Elapsed:   elapsed,
			Truncated: truncated,
		}

	case <-execCtx.Done():
		elapsed := time.Since(start)
		observability.RecordToolExecution(inv.Name, elapsed, false)

		kind := ObservationTimeout
		errMsg := fmt.Sprintf("tool %s timed out after %s", inv.Name, timeout)
		if ctx.Err() != nil {
			kind = ObservationCancelled
			errMsg = fmt.Sprintf("tool %s cancelled", inv.Name)
		}
		log.Warn().Str("tool", inv.Name).Dur("elapsed", elapsed).Msg("Tool execution did not complete")
		return Observation{
			CallID:  inv.ID,
			Tool:    inv.Name,
			Kind:    kind,
			Error:   errMsg,
			Elapsed: elapsed,
		}
	}
}

func schemaFor(def Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, p := range def.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func withDefaults(def *Definition, args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range def.Parameters {
		if p.Default == nil {
			continue
		}
		if _, ok := out[p.Name]; !ok {
			out[p.Name] = p.Default
		}
	}
	return out
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msg := ""
		for _, e := range result.Errors() {
			if msg != "" {
				msg += "; "
			}
			msg += e.String()
		}
		return fmt.Errorf("invalid arguments: %s", msg)
	}
	return nil
}

func truncateOutput(result interface{}) (interface{}, bool) {
	s, ok := result.(string)
	if !ok {
		return result, false
	}
	if len(s) <= maxOutputChars {
		return s, false
	}
	return s[:maxOutputChars] + "\n... (output truncated)", true
}
