// Package manifest loads and validates stack manifests.
//
// A manifest is a YAML document describing one stack: the providers it uses,
// ordered global variable declarations, and an ordered list of resource
// declarations. Declaration order is semantically significant — it is the
// provisioning order, the reverse teardown order, and the visibility boundary
// for resource exports.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the manifest file name looked up inside a stack
// directory.
const DefaultFileName = "stackql_manifest.yml"

// Manifest is a parsed stack manifest.
type Manifest struct {
	// Version of the manifest format.
	Version int `yaml:"version"`

	// Name of the stack.
	Name string `yaml:"name" validate:"required"`

	// Description of the stack.
	Description string `yaml:"description"`

	// Providers used by the stack, pulled into the query engine at run start.
	Providers []string `yaml:"providers" validate:"required,min=1"`

	// Globals are rendered once, in order, before any resource runs.
	Globals []GlobalVar `yaml:"globals"`

	// Resources in provisioning order.
	Resources []Resource `yaml:"resources"`

	// Exports are stack-level output variables written to the outputs file
	// after a successful run.
	Exports []string `yaml:"exports"`
}

// GlobalVar declares one global variable. Its value may be a template-bearing
// scalar, string, list, or nested mapping.
type GlobalVar struct {
	Name        string    `yaml:"name" validate:"required"`
	Description string    `yaml:"description"`
	Value       yaml.Node `yaml:"value"`
}

// Resource declares one resource in the stack.
type Resource struct {
	// Name is the unique resource key; it also names the query file.
	Name string `yaml:"name" validate:"required"`

	// File overrides the query file name (default "<name>.iql").
	File string `yaml:"file"`

	// Description of the resource.
	Description string `yaml:"description"`

	// Props are rendered in order into the resource's variable scope.
	Props []Property `yaml:"props"`

	// Exports names the variables this resource contributes after a
	// successful reconciliation.
	Exports []string `yaml:"exports"`

	// Protected lists exports whose values are masked in log output.
	Protected []string `yaml:"protected"`
}

// Property is one resource property. Exactly one of Value or Values must be
// set; Values selects per stack environment.
type Property struct {
	Name        string              `yaml:"name" validate:"required"`
	Description string              `yaml:"description"`
	Value       *yaml.Node          `yaml:"value"`
	Values      map[string]EnvValue `yaml:"values"`
}

// EnvValue is a property's value for one specific stack environment.
type EnvValue struct {
	Value yaml.Node `yaml:"value"`
}

// QueryFileName returns the file name holding this resource's query
// definitions.
func (r *Resource) QueryFileName() string {
	if r.File != "" {
		return r.File
	}
	return r.Name + ".iql"
}

// ValueFor selects the property's value for the given stack environment. The
// direct value takes precedence over environment-specific values.
func (p *Property) ValueFor(env string) (*yaml.Node, error) {
	if p.Value != nil {
		return p.Value, nil
	}
	if ev, ok := p.Values[env]; ok {
		node := ev.Value
		return &node, nil
	}
	return nil, fmt.Errorf("manifest: property %q has no value for environment %q", p.Name, env)
}

// IsProtected reports whether the named export is masked in logs.
func (r *Resource) IsProtected(name string) bool {
	for _, p := range r.Protected {
		if p == name {
			return true
		}
	}
	return false
}

var validate = validator.New()

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadFromStackDir reads the manifest from its conventional location inside a
// stack directory.
func LoadFromStackDir(dir string) (*Manifest, error) {
	return Load(filepath.Join(dir, DefaultFileName))
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks required fields and structural invariants.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("manifest: invalid: %w", err)
	}

	seen := make(map[string]struct{}, len(m.Resources))
	for i := range m.Resources {
		r := &m.Resources[i]
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("manifest: duplicate resource name %q", r.Name)
		}
		seen[r.Name] = struct{}{}

		for j := range r.Props {
			p := &r.Props[j]
			if p.Value == nil && len(p.Values) == 0 {
				return fmt.Errorf("manifest: property %q in resource %q has neither value nor values", p.Name, r.Name)
			}
		}
	}
	return nil
}

// FindResource returns the named resource declaration.
func (m *Manifest) FindResource(name string) (*Resource, bool) {
	for i := range m.Resources {
		if m.Resources[i].Name == name {
			return &m.Resources[i], true
		}
	}
	return nil, false
}
