// Package tool holds the broker's tool catalogue: immutable descriptors
// loaded from declarative YAML definitions, indexed by a registry, and
// validated against their parameter schemas.
package tool

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Category is the closed set of tool categories.
type Category string

const (
	CategoryNavigation   Category = "navigation"
	CategorySequence     Category = "sequence"
	CategoryData         Category = "data"
	CategoryProtein      Category = "protein"
	CategoryDatabase     Category = "database"
	CategoryAIGen        Category = "ai_gen"
	CategoryPathway      Category = "pathway"
	CategoryAction       Category = "action"
	CategoryPluginMgmt   Category = "plugin-mgmt"
	CategoryCoordination Category = "coordination"
	CategoryExternal     Category = "external"
)

var validCategories = map[Category]bool{
	CategoryNavigation: true, CategorySequence: true, CategoryData: true,
	CategoryProtein: true, CategoryDatabase: true, CategoryAIGen: true,
	CategoryPathway: true, CategoryAction: true, CategoryPluginMgmt: true,
	CategoryCoordination: true, CategoryExternal: true,
}

// Side says where a tool executes.
type Side string

const (
	SideServer Side = "server"
	SideClient Side = "client"
)

// Property describes one parameter in a tool schema. Array element types are
// deliberately not modelled beyond the container type.
type Property struct {
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []any  `yaml:"enum,omitempty" json:"enum,omitempty"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
}

var validPropertyTypes = map[string]bool{
	"string": true, "number": true, "boolean": true, "array": true, "object": true,
}

// Schema is the canonical parameter schema representation. It is exposed as
// MCP inputSchema at the protocol surface; internally there is only this one
// form.
type Schema struct {
	Properties map[string]Property `yaml:"properties" json:"properties"`
	Required   []string            `yaml:"required,omitempty" json:"required,omitempty"`
}

// Descriptor is one immutable tool definition.
type Descriptor struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Category    Category `yaml:"-"`
	Side        Side     `yaml:"side"`
	Priority    int      `yaml:"priority"`
	Keywords    []string `yaml:"keywords"`
	LongRunning bool     `yaml:"long_running"`
	Cacheable   bool     `yaml:"cacheable"`
	Schema      Schema   `yaml:"schema"`

	// InputSchema is an accepted alias for Schema in the YAML source; the
	// loader folds it into Schema and clears it.
	InputSchema *Schema `yaml:"inputSchema"`

	validator *compiledSchema
}

// Validate checks structural invariants of the descriptor. Called by the
// loader; a failure here aborts startup.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool: descriptor with empty name")
	}
	if !validCategories[d.Category] {
		return fmt.Errorf("tool %q: unknown category %q", d.Name, d.Category)
	}
	if d.Side != SideServer && d.Side != SideClient {
		return fmt.Errorf("tool %q: execution side must be server or client, got %q", d.Name, d.Side)
	}
	for name, p := range d.Schema.Properties {
		if !validPropertyTypes[p.Type] {
			return fmt.Errorf("tool %q: property %q has invalid type %q", d.Name, name, p.Type)
		}
	}
	for _, req := range d.Schema.Required {
		if _, ok := d.Schema.Properties[req]; !ok {
			return fmt.Errorf("tool %q: required property %q not declared in properties", d.Name, req)
		}
	}
	return nil
}

// SchemaJSON renders the canonical schema as a JSON Schema object document,
// the shape MCP hosts expect under inputSchema.
func (d *Descriptor) SchemaJSON() json.RawMessage {
	doc := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	props := doc["properties"].(map[string]any)
	for name, p := range d.Schema.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[name] = prop
	}
	if len(d.Schema.Required) > 0 {
		req := make([]string, len(d.Schema.Required))
		copy(req, d.Schema.Required)
		sort.Strings(req)
		doc["required"] = req
	}
	data, _ := json.Marshal(doc)
	return data
}

// MatchesFilter reports whether the descriptor matches a substring filter on
// name or keywords, used by Registry.List.
func (d *Descriptor) MatchesFilter(substr string) bool {
	if substr == "" {
		return true
	}
	if containsFold(d.Name, substr) {
		return true
	}
	for _, kw := range d.Keywords {
		if containsFold(kw, substr) {
			return true
		}
	}
	return false
}
