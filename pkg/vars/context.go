package vars

// Context is the layered variable store for one stack run. Lookup precedence,
// outer to inner: environment overrides, rendered globals, stack metadata,
// accumulated resource exports.
//
// A Context is owned by a single run and is not safe for concurrent use.
// Per-resource rendering uses a Snapshot, which overlays the resource's own
// props and copies the export layer so later exports never leak backward.
type Context struct {
	overrides map[string]Value
	globals   map[string]Value
	metadata  map[string]Value
	exports   map[string]Value
}

// MetaStackName and MetaStackEnv are the built-in stack metadata variables.
const (
	MetaStackName = "stack_name"
	MetaStackEnv  = "stack_env"
)

// NewContext creates a run context with the given environment overrides and
// stack metadata. Both maps may be nil.
func NewContext(overrides, metadata map[string]Value) *Context {
	c := &Context{
		overrides: make(map[string]Value, len(overrides)),
		globals:   make(map[string]Value),
		metadata:  make(map[string]Value, len(metadata)),
		exports:   make(map[string]Value),
	}
	for k, v := range overrides {
		c.overrides[k] = v
	}
	for k, v := range metadata {
		c.metadata[k] = v
	}
	return c
}

// SetGlobal records a rendered global variable.
func (c *Context) SetGlobal(name string, v Value) {
	c.globals[name] = v
}

// SetMetadata records a built-in metadata variable.
func (c *Context) SetMetadata(name string, v Value) {
	c.metadata[name] = v
}

// Export records a resource export, making it visible to snapshots taken
// after this call.
func (c *Context) Export(name string, v Value) {
	c.exports[name] = v
}

// Get resolves a name through the context layers.
func (c *Context) Get(name string) (Value, bool) {
	for _, layer := range []map[string]Value{c.overrides, c.globals, c.metadata, c.exports} {
		if v, ok := layer[name]; ok {
			return v, true
		}
	}
	return Null(), false
}

// StackEnv returns the environment name from the stack metadata, or "".
func (c *Context) StackEnv() string {
	if v, ok := c.metadata[MetaStackEnv]; ok {
		return v.Text()
	}
	return ""
}

// Exports returns a copy of the accumulated export variables.
func (c *Context) Exports() map[string]Value {
	out := make(map[string]Value, len(c.exports))
	for k, v := range c.exports {
		out[k] = v
	}
	return out
}

// Snapshot returns a read-only view for rendering one resource. The
// resource's rendered props take precedence over globals but not over
// environment overrides. The export layer is copied at snapshot time.
func (c *Context) Snapshot(props map[string]Value) *Scope {
	exports := make(map[string]Value, len(c.exports))
	for k, v := range c.exports {
		exports[k] = v
	}
	return &Scope{layers: []map[string]Value{c.overrides, props, c.globals, c.metadata, exports}}
}

// Scope is an immutable lookup view produced by Context.Snapshot.
type Scope struct {
	layers []map[string]Value
}

// NewScope builds a standalone scope from a single variable map, highest
// precedence only. Used for rendering globals before any resource runs.
func NewScope(values map[string]Value) *Scope {
	return &Scope{layers: []map[string]Value{values}}
}

// Get resolves a name through the scope layers in precedence order.
func (s *Scope) Get(name string) (Value, bool) {
	for _, layer := range s.layers {
		if layer == nil {
			continue
		}
		if v, ok := layer[name]; ok {
			return v, true
		}
	}
	return Null(), false
}

// With returns a derived scope with an extra layer of highest precedence.
func (s *Scope) With(values map[string]Value) *Scope {
	layers := make([]map[string]Value, 0, len(s.layers)+1)
	layers = append(layers, values)
	layers = append(layers, s.layers...)
	return &Scope{layers: layers}
}
