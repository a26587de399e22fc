// Package tools holds the executable tool catalog served by the backend.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kaptinlin/jsonschema"

	"github.com/joescharf/voxpilot/internal/models"
)

var (
	ErrUnsupported   = errors.New("不支持的工具")
	ErrInvalidParams = errors.New("参数校验失败")
)

// Func runs a tool with already-validated parameters.
type Func func(ctx context.Context, params map[string]any) (*models.ToolData, error)

type entry struct {
	def    models.Tool
	schema *jsonschema.Schema
	run    Func
}

// Registry maps tool ids to their definition, schema and implementation.
type Registry struct {
	tools map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool. A non-empty RequestSchema is compiled up front.
func (r *Registry) Register(def models.Tool, run Func) error {
	if def.ToolID == "" {
		return errors.New("register tool: empty tool id")
	}
	if _, ok := r.tools[def.ToolID]; ok {
		return fmt.Errorf("register tool %s: already registered", def.ToolID)
	}
	e := &entry{def: def, run: run}
	if len(def.RequestSchema) > 0 {
		schema, err := compile(def.RequestSchema)
		if err != nil {
			return fmt.Errorf("tool %s: %w", def.ToolID, err)
		}
		e.schema = schema
	}
	r.tools[def.ToolID] = e
	return nil
}

// CheckSchema reports whether raw is a usable request schema.
func CheckSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	_, err := compile(raw)
	return err
}

func compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	schema, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Catalog lists tool definitions sorted by id.
func (r *Registry) Catalog() []models.Tool {
	out := make([]models.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out
}

// Lookup returns a tool definition by id.
func (r *Registry) Lookup(toolID string) (models.Tool, bool) {
	e, ok := r.tools[toolID]
	if !ok {
		return models.Tool{}, false
	}
	return e.def, true
}

// Validate checks params against the tool's request schema.
func (r *Registry) Validate(toolID string, params map[string]any) error {
	e, ok := r.tools[toolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, toolID)
	}
	return e.validate(params)
}

// Execute validates params and runs the tool.
func (r *Registry) Execute(ctx context.Context, toolID string, params map[string]any) (*models.ToolData, error) {
	e, ok := r.tools[toolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, toolID)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := e.validate(params); err != nil {
		return nil, err
	}
	return e.run(ctx, params)
}

func (e *entry) validate(params map[string]any) error {
	if e.schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	result := e.schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidParams, result.Errors)
}
