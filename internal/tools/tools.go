// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kubechat/kubechat/internal/kube"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                          `json:"name"`
	Description string                                                          `json:"description"`
	Parameters  map[string]any                                                  `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
	kube  *kube.Client
}

// NewRegistry creates a tool registry backed by the given cluster
// client. A nil client leaves the registry empty; tools can still be
// added with Register.
func NewRegistry(kc *kube.Client) *Registry {
	r := &Registry{
		tools: make(map[string]*Tool),
		kube:  kc,
	}
	if kc != nil {
		r.registerKubernetes()
	}
	return r
}

// Register adds a tool to the registry. A tool with the same name is
// replaced.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the function-calling shape the LLM expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. Arguments are validated against the
// tool's parameter schema before the handler runs; validation failures
// return ErrInvalidArguments without touching the handler.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(tool.Parameters, args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return tool.Handler(ctx, args)
}

// validateArgs checks args against an object schema: required keys must
// be present and every supplied property must match its declared type.
func validateArgs(schema, args map[string]any) error {
	props, _ := schema["properties"].(map[string]any)

	var problems []string

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", key))
			}
		}
	}

	for key, value := range args {
		spec, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		want, _ := spec["type"].(string)
		if want == "" || value == nil {
			continue
		}
		if !typeMatches(want, value) {
			problems = append(problems, fmt.Sprintf("parameter %q must be of type %s", key, want))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func typeMatches(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer", "number":
		// JSON numbers decode as float64; integers are also accepted
		// for callers that build args in Go.
		switch value.(type) {
		case float64, int:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	}
	return true
}

// Argument readers. JSON numbers arrive as float64.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
