package tool

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed defs/*.yaml
var defsFS embed.FS

// catalogueFile mirrors one YAML definition file: a category plus the tools
// that belong to it.
type catalogueFile struct {
	Category Category     `yaml:"category"`
	Tools    []Descriptor `yaml:"tools"`
}

// Registry is the immutable, indexed tool catalogue. All mutation happens in
// Load; afterwards reads are lock-free.
type Registry struct {
	byName map[string]*Descriptor
	sorted []*Descriptor // by name, for stable listings
}

// Load builds the registry from the embedded definition files. Any duplicate
// name, malformed schema, or missing required descriptor field is a fatal
// startup error.
func Load() (*Registry, error) {
	return LoadFS(defsFS, "defs")
}

// LoadFS builds a registry from an arbitrary filesystem rooted at dir.
// Exposed so tests can load small catalogues.
func LoadFS(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("tool: read definitions dir %q: %w", dir, err)
	}

	r := &Registry{byName: make(map[string]*Descriptor)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := dir + "/" + entry.Name()
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("tool: read %q: %w", path, err)
		}

		var file catalogueFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("tool: parse %q: %w", path, err)
		}

		for i := range file.Tools {
			d := &file.Tools[i]
			d.Category = file.Category

			// inputSchema is an accepted alias for schema; fold it into the
			// canonical field so there is exactly one representation.
			if d.InputSchema != nil && len(d.Schema.Properties) == 0 {
				d.Schema = *d.InputSchema
			}
			d.InputSchema = nil

			if err := d.Validate(); err != nil {
				return nil, fmt.Errorf("tool: %q: %w", path, err)
			}
			if _, dup := r.byName[d.Name]; dup {
				return nil, fmt.Errorf("tool: duplicate tool name %q in %q", d.Name, path)
			}

			d.validator, err = compileSchema(d)
			if err != nil {
				return nil, err
			}
			r.byName[d.Name] = d
		}
	}

	r.sorted = make([]*Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		r.sorted = append(r.sorted, d)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i].Name < r.sorted[j].Name })
	return r, nil
}

// Get retrieves a descriptor by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Filter narrows a List call. Zero value matches everything.
type Filter struct {
	Category  Category // exact category, empty = any
	Substring string   // case-insensitive match on name or keywords
}

// List returns all descriptors matching the filter, sorted by name.
func (r *Registry) List(f Filter) []*Descriptor {
	out := make([]*Descriptor, 0, len(r.sorted))
	for _, d := range r.sorted {
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		if !d.MatchesFilter(f.Substring) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Categories returns the tool count per category.
func (r *Registry) Categories() map[Category]int {
	counts := make(map[Category]int)
	for _, d := range r.sorted {
		counts[d.Category]++
	}
	return counts
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.sorted) }
