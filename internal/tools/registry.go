package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"tradefloor/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler executes one capability on behalf of one account.
type Handler func(ctx context.Context, account string, args map[string]any) (any, error)

// Tool is a named capability: schema-validated arguments in, envelope out.
type Tool struct {
	Name        string
	Description string
	ReadOnly    bool
	Schema      map[string]any
	Handler     Handler

	compiled *jsonschema.Schema
}

// Result is the uniform envelope every invocation returns. Exactly one of
// Data and Error carries the outcome.
type Result struct {
	OK    bool         `json:"ok"`
	Data  any          `json:"data,omitempty"`
	Error *types.Fault `json:"error,omitempty"`
}

func success(data any) Result {
	return Result{OK: true, Data: data}
}

func failure(kind types.FaultKind, format string, args ...any) Result {
	return Result{Error: types.Faultf(kind, format, args...)}
}

// Descriptor is the catalog entry handed to the reasoning layer and the
// dashboard.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ReadOnly    bool           `json:"read_only"`
	Schema      map[string]any `json:"schema,omitempty"`
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, compiling its argument schema up front so malformed
// schemas fail at wiring time, not mid-run.
func (r *Registry) Register(t Tool) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}
	if len(t.Schema) > 0 {
		compiled, err := compileSchema(t.Schema)
		if err != nil {
			return fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		t.compiled = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.tools[t.Name] = &t
	r.order = append(r.order, t.Name)
	return nil
}

func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[strings.TrimSpace(name)]
	return tool, ok
}

// Catalog lists tools in registration order.
func (r *Registry) Catalog() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		out = append(out, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			ReadOnly:    tool.ReadOnly,
			Schema:      tool.Schema,
		})
	}
	return out
}

// Invoke runs the named tool for account. Nothing escapes as a Go error;
// every outcome is an envelope so callers and the trace see one shape.
func (r *Registry) Invoke(ctx context.Context, name, account string, args map[string]any) Result {
	tool, ok := r.Get(name)
	if !ok {
		return failure(types.FaultNotFound, "unknown tool %q", strings.TrimSpace(name))
	}
	if args == nil {
		args = map[string]any{}
	}
	args = coerceNumericArgs(tool.Schema, args)
	if tool.compiled != nil {
		if err := tool.compiled.Validate(args); err != nil {
			return failure(types.FaultInternal, "invalid arguments for %s: %v", tool.Name, err)
		}
	}
	data, err := tool.Handler(ctx, account, args)
	if err != nil {
		return Result{Error: types.FaultFrom(err)}
	}
	return success(data)
}

// InvokeReadOnly rejects mutating tools. The dashboard surface goes through
// here so it can never trade.
func (r *Registry) InvokeReadOnly(ctx context.Context, name, account string, args map[string]any) Result {
	tool, ok := r.Get(name)
	if !ok {
		return failure(types.FaultNotFound, "unknown tool %q", strings.TrimSpace(name))
	}
	if !tool.ReadOnly {
		return failure(types.FaultInternal, "tool %s is not read-only", tool.Name)
	}
	return r.Invoke(ctx, name, account, args)
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// coerceNumericArgs converts string values to numbers for properties the
// schema types as numeric, tolerating models that emit "3000" for 3000.
func coerceNumericArgs(schema, args map[string]any) map[string]any {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return args
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		out[key] = value
		prop, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		declared, _ := prop["type"].(string)
		if declared != "integer" && declared != "number" {
			continue
		}
		str, ok := value.(string)
		if !ok {
			continue
		}
		if num, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			out[key] = num
		}
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intArg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	}
	return 0
}
