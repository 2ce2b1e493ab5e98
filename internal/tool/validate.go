package tool

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// compiledSchema wraps the compiled JSON Schema for a descriptor. Compilation
// happens once at registry load so a malformed schema is a startup error, not
// a per-call one.
type compiledSchema struct {
	schema *jsonschema.Schema
}

func compileSchema(d *Descriptor) (*compiledSchema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(d.SchemaJSON()))
	if err != nil {
		return nil, fmt.Errorf("tool %q: schema is not valid JSON: %w", d.Name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("tool %q: add schema resource: %w", d.Name, err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", d.Name, err)
	}
	return &compiledSchema{schema: sch}, nil
}

// ValidateArgs checks args against the descriptor's schema and returns the
// validated argument map with schema defaults filled in for absent optional
// properties. Unknown properties pass through untouched.
//
// On failure it returns an InvalidArguments error; when several required
// properties are missing, all of them are named in the message.
func (d *Descriptor) ValidateArgs(args map[string]any) (map[string]any, error) {
	validated := make(map[string]any, len(args)+2)
	for k, v := range args {
		validated[k] = v
	}

	// Defaults first so they participate in enum/type checks below.
	for name, p := range d.Schema.Properties {
		if _, present := validated[name]; !present && p.Default != nil {
			validated[name] = p.Default
		}
	}

	var missing []string
	for _, req := range d.Schema.Required {
		if _, present := validated[req]; !present {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, errkind.E(errkind.InvalidArguments,
			"tool %q: missing required propert%s: %s",
			d.Name, plural(len(missing), "y", "ies"), strings.Join(missing, ", "))
	}

	if d.validator != nil {
		if err := d.validator.schema.Validate(normalize(validated)); err != nil {
			return nil, errkind.E(errkind.InvalidArguments,
				"tool %q: %s", d.Name, firstCause(err))
		}
	}
	return validated, nil
}

// normalize converts the argument map into the plain-JSON value tree the
// jsonschema validator expects (map[string]any / []any / float64 / ...).
// Arguments decoded from JSON already are in that shape; this guards callers
// that build maps with Go int literals.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// firstCause digs the most specific leaf message out of a jsonschema
// validation error so clients see "got string, want number" rather than the
// whole error tree.
func firstCause(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve.Error()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// containsFold is a case-insensitive substring test.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
