package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// ErrRegistrySealed is returned by Register once the registry is in use.
var ErrRegistrySealed = errors.New("tool registry is sealed")

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	// Items is the element type when Type is "array".
	Items string `json:"items,omitempty"`
}

// Dispatch makes extra parameters required depending on the value of a selector
// parameter, e.g. text_editor's command.
type Dispatch struct {
	Parameter string
	Required  map[string][]string
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	// AtLeastOne lists optional parameters of which at least one must be supplied.
	AtLeastOne []string    `json:"at_least_one,omitempty"`
	Dispatch   *Dispatch   `json:"-"`
	Handler    ToolHandler `json:"-"`
}

// ToolHandler is the function signature for tool execution. Handlers return data only and
// must not touch session state.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Required returns the names of the required parameters in declaration order.
func (d ToolDefinition) Required() []string {
	var required []string
	for _, p := range d.Parameters {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// Parameter looks up a parameter declaration by name.
func (d ToolDefinition) Parameter(name string) (ToolParameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

// JSONSchema renders the parameter contract as a JSON schema object, in the shape model
// backends expect for function declarations.
func (d ToolDefinition) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	for _, p := range d.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == "array" && p.Items != "" {
			prop["items"] = map[string]interface{}{"type": p.Items}
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if required := d.Required(); len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// validationSchema is JSONSchema with optional parameters made nullable, since models
// often send null for parameters they do not use.
func (d ToolDefinition) validationSchema() map[string]interface{} {
	schema := d.JSONSchema()
	properties := schema["properties"].(map[string]interface{})
	for _, p := range d.Parameters {
		if p.Required {
			continue
		}
		prop := properties[p.Name].(map[string]interface{})
		prop["type"] = []interface{}{p.Type, "null"}
		delete(prop, "enum")
	}
	return schema
}

type registeredTool struct {
	def    ToolDefinition
	schema *gojsonschema.Schema
}

// Registry holds tool declarations keyed by name and remembers registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]*registeredTool
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registeredTool)}
}

// Register validates def, compiles its schema and adds it to the registry.
func (r *Registry) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.validationSchema()))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	r.tools[def.Name] = &registeredTool{def: def, schema: schema}
	r.order = append(r.order, def.Name)

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Seal freezes the registry. Further Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// List returns all tools in registration order.
func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name].def)
	}
	return tools
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Lookup returns the named tool or an *UnknownToolError.
func (r *Registry) Lookup(name string) (ToolDefinition, error) {
	rt, err := r.lookup(name)
	if err != nil {
		return ToolDefinition{}, err
	}
	return rt.def, nil
}

func (r *Registry) lookup(name string) (*registeredTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return rt, nil
}

// ValidateCall checks a call against the named tool: the tool must exist, required
// parameters must be present, then values must match the declared types.
func (r *Registry) ValidateCall(name string, params map[string]interface{}) error {
	rt, err := r.lookup(name)
	if err != nil {
		return err
	}
	return rt.validate(params)
}

func (rt *registeredTool) validate(params map[string]interface{}) error {
	if err := CheckRequired(rt.def, params); err != nil {
		return err
	}

	result, err := rt.schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return &InvalidParameterError{Tool: rt.def.Name, Reason: err.Error()}
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return &InvalidParameterError{Tool: rt.def.Name, Reason: strings.Join(reasons, "; ")}
	}
	return nil
}

// CheckRequired reports the first required parameter missing from params. A key bound to
// null counts as missing. It also enforces AtLeastOne and Dispatch requirements.
func CheckRequired(def ToolDefinition, params map[string]interface{}) error {
	for _, name := range def.Required() {
		if !present(params, name) {
			return &MissingParameterError{Tool: def.Name, Parameter: name}
		}
	}

	if len(def.AtLeastOne) > 0 {
		found := false
		for _, name := range def.AtLeastOne {
			if present(params, name) {
				found = true
				break
			}
		}
		if !found {
			return &InvalidParameterError{
				Tool:   def.Name,
				Reason: "at least one of " + strings.Join(def.AtLeastOne, ", ") + " is required",
			}
		}
	}

	if d := def.Dispatch; d != nil && present(params, d.Parameter) {
		selector, ok := params[d.Parameter].(string)
		extra, known := d.Required[selector]
		if !ok || !known {
			return &InvalidParameterError{
				Tool:   def.Name,
				Reason: fmt.Sprintf("%s must be one of %s", d.Parameter, strings.Join(dispatchValues(d), ", ")),
			}
		}
		for _, name := range extra {
			if !present(params, name) {
				return &MissingParameterError{Tool: def.Name, Parameter: name}
			}
		}
	}

	return nil
}

func present(params map[string]interface{}, name string) bool {
	v, ok := params[name]
	return ok && v != nil
}

func dispatchValues(d *Dispatch) []string {
	values := make([]string, 0, len(d.Required))
	for v := range d.Required {
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid item type %q for %s", param.Items, param.Name)
		}
	}

	for _, name := range def.AtLeastOne {
		if !seen[name] {
			return fmt.Errorf("at-least-one parameter %s is not declared", name)
		}
	}
	if d := def.Dispatch; d != nil {
		if !seen[d.Parameter] {
			return fmt.Errorf("dispatch parameter %s is not declared", d.Parameter)
		}
		for value, names := range d.Required {
			for _, name := range names {
				if !seen[name] {
					return fmt.Errorf("parameter %s required by %s=%s is not declared", name, d.Parameter, value)
				}
			}
		}
	}

	return nil
}
