// Package schema is the document class registry.
//
// Classes are declared in CUE: each has a list of direct parents and an
// open constraint on the document tree. The registry answers two questions
// for the rest of the core: which classes a class inherits from (so
// class.superclasses can be filled in and `isa` queries work), and whether a
// document satisfies its class and every ancestor (SCHEMA_VIOLATION
// otherwise).
package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

//go:embed schemas/*.cue
var builtin embed.FS

// Class is one registered document class.
type Class struct {
	Name    string
	Parents []string

	schema cue.Value
}

// Registry holds the known classes. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	ctx     *cue.Context
	classes map[string]*Class
}

// NewRegistry returns a registry holding the built-in classes.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		ctx:     cuecontext.New(),
		classes: make(map[string]*Class),
	}

	entries, err := fs.ReadDir(builtin, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read builtin schemas: %w", err)
	}
	for _, e := range entries {
		name := path.Join("schemas", e.Name())
		data, err := builtin.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		v := r.ctx.CompileBytes(data, cue.Filename(name))
		if err := r.registerLocked(v); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := r.checkParentsLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

// MustNewRegistry is like NewRegistry but panics on error.
// The built-in schemas are compiled into the binary, so failure is a bug.
func MustNewRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// LoadDir adds the classes declared by the CUE package in dir. A class
// redeclared by the directory replaces the built-in one.
func (r *Registry) LoadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return ndierr.IO("schema.load_dir", err)
	}
	if !info.IsDir() {
		return ndierr.Invalid("schema.load_dir", "not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return ndierr.Invalid("schema.load_dir", "no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return ndierr.Wrap(ndierr.KindSchemaViolation, "schema.load_dir", formatCUEError(inst.Err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.ctx.BuildInstance(inst)
	if err := r.registerLocked(v); err != nil {
		return err
	}
	return r.checkParentsLocked()
}

func (r *Registry) registerLocked(v cue.Value) error {
	if err := v.Err(); err != nil {
		return ndierr.Wrap(ndierr.KindSchemaViolation, "schema.register", formatCUEError(err))
	}
	classes := v.LookupPath(cue.ParsePath("class"))
	if !classes.Exists() {
		return nil
	}
	iter, err := classes.Fields()
	if err != nil {
		return ndierr.Wrap(ndierr.KindSchemaViolation, "schema.register", formatCUEError(err))
	}

	for iter.Next() {
		name := iter.Label()
		cv := iter.Value()

		var parents []string
		if pv := cv.LookupPath(cue.ParsePath("parents")); pv.Exists() {
			if err := pv.Decode(&parents); err != nil {
				return ndierr.Wrap(ndierr.KindSchemaViolation, "schema.register", fmt.Errorf("class %s parents: %w", name, err))
			}
		}
		r.classes[name] = &Class{
			Name:    name,
			Parents: parents,
			schema:  cv.LookupPath(cue.ParsePath("schema")),
		}
	}
	return nil
}

func (r *Registry) checkParentsLocked() error {
	for _, name := range r.sortedNamesLocked() {
		for _, p := range r.classes[name].Parents {
			if _, ok := r.classes[p]; !ok {
				return ndierr.New(ndierr.KindSchemaViolation, "schema.register",
					fmt.Sprintf("class %s names unknown parent %s", name, p))
			}
		}
		if _, err := r.superclassesLocked(name); err != nil {
			return err
		}
	}
	return nil
}

// Names returns all class names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a registered class.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.classes[name]
	return ok
}

// Superclasses returns the transitive parents of name, nearest first, each
// listed once.
func (r *Registry) Superclasses(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.superclassesLocked(name)
}

func (r *Registry) superclassesLocked(name string) ([]string, error) {
	if _, ok := r.classes[name]; !ok {
		return nil, ndierr.NotFound("schema.superclasses", "class", name)
	}

	out := []string{}
	seen := map[string]bool{name: true}
	queue := slices.Clone(r.classes[name].Parents)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p == name {
			return nil, ndierr.New(ndierr.KindSchemaViolation, "schema.superclasses",
				fmt.Sprintf("class %s inherits from itself", name))
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if c, ok := r.classes[p]; ok {
			queue = append(queue, c.Parents...)
		}
	}
	return out, nil
}

// NewDocument creates a document of a registered class with its
// superclasses filled in.
func (r *Registry) NewDocument(className, sessionID string, opts ...document.Option) (*document.Document, error) {
	supers, err := r.Superclasses(className)
	if err != nil {
		return nil, err
	}
	opts = append([]document.Option{document.WithSuperclasses(supers...)}, opts...)
	return document.New(className, sessionID, opts...), nil
}

// Validate checks doc against its class and every ancestor. It also checks
// that class.superclasses matches the registry.
func (r *Registry) Validate(doc *document.Document) error {
	const op = "schema.validate"

	supers, err := r.Superclasses(doc.ClassName())
	if err != nil {
		return err
	}
	if !sameSet(supers, doc.Class.Superclasses) {
		return &ndierr.Error{
			Kind:    ndierr.KindSchemaViolation,
			Op:      op,
			Entity:  "document",
			ID:      doc.ID(),
			Message: fmt.Sprintf("class.superclasses %v does not match registry %v", doc.Class.Superclasses, supers),
		}
	}

	// cue.Context is not safe for concurrent use.
	r.mu.Lock()
	defer r.mu.Unlock()

	tree := r.ctx.Encode(ir.ToAny(doc.Tree()))
	if err := tree.Err(); err != nil {
		return ndierr.Wrap(ndierr.KindSchemaViolation, op, err)
	}

	for _, name := range append([]string{doc.ClassName()}, supers...) {
		c := r.classes[name]
		if !c.schema.Exists() {
			continue
		}
		unified := c.schema.Unify(tree)
		if err := unified.Validate(cue.Concrete(true)); err != nil {
			return &ndierr.Error{
				Kind:    ndierr.KindSchemaViolation,
				Op:      op,
				Entity:  "document",
				ID:      doc.ID(),
				Message: fmt.Sprintf("class %s", name),
				Err:     formatCUEError(err),
			}
		}
	}
	return nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	sort.Strings(x)
	sort.Strings(y)
	return slices.Equal(x, y)
}

// formatCUEError keeps the first CUE error with its position, which is the
// one users can act on.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("%s: %s", pos[0], first.Error())
	}
	return first
}
