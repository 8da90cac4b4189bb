// Package document models the typed, versioned documents the store persists.
//
// A Document has four closed branches (base, class, depends_on, files) plus
// versioning metadata, and an opaque payload tree holding every
// schema-defined branch (probe, element, daqsystem, ...). Tree() and
// FromTree() convert to and from the single ir.IRObject form that the query
// engine and both store backends operate on.
package document

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// DatestampLayout renders ISO-8601 UTC with microseconds.
const DatestampLayout = "2006-01-02T15:04:05.000000Z"

// Reserved top-level branch names.
const (
	BranchBase         = "base"
	BranchClass        = "class"
	BranchDependsOn    = "depends_on"
	BranchFiles        = "files"
	BranchMetadata     = "_metadata"
	BranchDependencies = "_dependencies"
)

// Location types.
const (
	LocationFile     = "file"
	LocationNDICloud = "ndicloud"
)

// Base is the identity branch.
type Base struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Datestamp string `json:"datestamp"`
}

// Class names the document's schema and its transitive parents.
type Class struct {
	Name         string   `json:"name"`
	Superclasses []string `json:"superclasses"`
}

// Dependency is a named edge to another document's id.
type Dependency struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FileLocation is one place a file's bytes can be fetched from.
type FileLocation struct {
	Location       string `json:"location"`
	LocationType   string `json:"location_type"`
	UID            string `json:"uid"`
	DeleteOriginal bool   `json:"delete_original"`
	Ingest         bool   `json:"ingest"`
}

// FileInfo is a logical file attached to a document.
type FileInfo struct {
	Filename  string         `json:"filename"`
	Locations []FileLocation `json:"locations"`
}

// Metadata tracks the version chain.
type Metadata struct {
	ParentID      string   `json:"parent_id"`
	AscPath       []string `json:"asc_path"`
	VersionDepth  int      `json:"version_depth"`
	LatestVersion bool     `json:"latest_version"`
}

// Document is a typed, identified tree.
type Document struct {
	Base      Base
	Class     Class
	DependsOn []Dependency
	Files     []FileInfo
	Metadata  Metadata

	// Payload holds every non-reserved top-level branch.
	Payload ir.IRObject
}

// Option configures New.
type Option func(*Document)

// WithID fixes the document id instead of minting one.
func WithID(id string) Option {
	return func(d *Document) { d.Base.ID = id }
}

// WithName sets base.name.
func WithName(name string) Option {
	return func(d *Document) { d.Base.Name = name }
}

// WithSuperclasses sets class.superclasses.
func WithSuperclasses(names ...string) Option {
	return func(d *Document) { d.Class.Superclasses = slices.Clone(names) }
}

// WithTime sets base.datestamp from t.
func WithTime(t time.Time) Option {
	return func(d *Document) { d.Base.Datestamp = FormatDatestamp(t) }
}

// WithBranch sets one payload branch.
func WithBranch(name string, value ir.IRValue) Option {
	return func(d *Document) { d.Payload[name] = value }
}

// New creates a document of the given class in a session. The id is minted
// and the datestamp is the current time unless options override them.
func New(className, sessionID string, opts ...Option) *Document {
	d := &Document{
		Base: Base{
			SessionID: sessionID,
		},
		Class:    Class{Name: className, Superclasses: []string{}},
		Metadata: Metadata{AscPath: []string{}, LatestVersion: true},
		Payload:  ir.IRObject{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.Base.ID == "" {
		d.Base.ID = ident.NewString()
	}
	if d.Base.Datestamp == "" {
		d.Base.Datestamp = FormatDatestamp(time.Now())
	}
	return d
}

// FormatDatestamp renders t as ISO-8601 UTC with microseconds.
func FormatDatestamp(t time.Time) string {
	return t.UTC().Format(DatestampLayout)
}

// ID returns base.id.
func (d *Document) ID() string { return d.Base.ID }

// SessionID returns base.session_id.
func (d *Document) SessionID() string { return d.Base.SessionID }

// ClassName returns class.name.
func (d *Document) ClassName() string { return d.Class.Name }

// IsA reports whether the document's class is name or inherits from it.
func (d *Document) IsA(name string) bool {
	return d.Class.Name == name || slices.Contains(d.Class.Superclasses, name)
}

// Dependency returns the value of the named edge.
func (d *Document) Dependency(name string) (string, bool) {
	for _, dep := range d.DependsOn {
		if dep.Name == name {
			return dep.Value, true
		}
	}
	return "", false
}

// DependencyIDs returns the non-empty edge targets in edge order.
func (d *Document) DependencyIDs() []string {
	out := make([]string, 0, len(d.DependsOn))
	for _, dep := range d.DependsOn {
		if dep.Value != "" {
			out = append(out, dep.Value)
		}
	}
	return out
}

// AddDependency appends a named edge. Names are unique within a document.
func (d *Document) AddDependency(name, value string) error {
	if name == "" {
		return ndierr.Invalid("document.add_dependency", "dependency name is empty")
	}
	if _, exists := d.Dependency(name); exists {
		return ndierr.AlreadyExists("document.add_dependency", "dependency", name)
	}
	d.DependsOn = append(d.DependsOn, Dependency{Name: name, Value: value})
	return nil
}

// SetDependency replaces the named edge's value, adding the edge if absent.
func (d *Document) SetDependency(name, value string) {
	for i := range d.DependsOn {
		if d.DependsOn[i].Name == name {
			d.DependsOn[i].Value = value
			return
		}
	}
	d.DependsOn = append(d.DependsOn, Dependency{Name: name, Value: value})
}

// RemoveDependency deletes the named edge and reports whether it existed.
func (d *Document) RemoveDependency(name string) bool {
	n := len(d.DependsOn)
	d.DependsOn = slices.DeleteFunc(d.DependsOn, func(dep Dependency) bool { return dep.Name == name })
	return len(d.DependsOn) != n
}

// AddFile attaches a logical file stored at location, minting a uid for it.
// Adding the same filename again appends another location.
func (d *Document) AddFile(filename, location, locationType string) FileLocation {
	if locationType == "" {
		locationType = LocationFile
	}
	loc := FileLocation{
		Location:     location,
		LocationType: locationType,
		UID:          ident.NewString(),
		Ingest:       locationType == LocationFile,
	}
	for i := range d.Files {
		if d.Files[i].Filename == filename {
			d.Files[i].Locations = append(d.Files[i].Locations, loc)
			return loc
		}
	}
	d.Files = append(d.Files, FileInfo{Filename: filename, Locations: []FileLocation{loc}})
	return loc
}

// File returns the named file entry.
func (d *Document) File(filename string) (*FileInfo, bool) {
	for i := range d.Files {
		if d.Files[i].Filename == filename {
			return &d.Files[i], true
		}
	}
	return nil, false
}

// Branch returns a payload branch.
func (d *Document) Branch(name string) (ir.IRObject, bool) {
	obj, ok := d.Payload[name].(ir.IRObject)
	return obj, ok
}

// Get resolves a dotted path against the full tree.
func (d *Document) Get(path string) (ir.IRValue, bool) {
	return ir.Lookup(d.Tree(), path)
}

// SetPayload writes value at a dotted path that starts with a payload branch.
func (d *Document) SetPayload(path string, value ir.IRValue) error {
	segs, err := ir.SplitPath(path)
	if err != nil {
		return ndierr.Invalid("document.set", "%v", err)
	}
	if IsReserved(segs[0]) {
		return ndierr.Invalid("document.set", "branch %q is reserved", segs[0])
	}
	if d.Payload == nil {
		d.Payload = ir.IRObject{}
	}
	return ir.Set(d.Payload, path, value)
}

// IsReserved reports whether branch is one of the closed top-level branches.
func IsReserved(branch string) bool {
	switch branch {
	case BranchBase, BranchClass, BranchDependsOn, BranchFiles, BranchMetadata:
		return true
	}
	return false
}

// Validate checks the closed branches.
func (d *Document) Validate() error {
	const op = "document.validate"
	if !ident.Valid(d.Base.ID) {
		return ndierr.Invalid(op, "base.id %q is not a valid identifier", d.Base.ID)
	}
	if d.Class.Name == "" {
		return ndierr.Invalid(op, "class.name is empty (document %s)", d.Base.ID)
	}
	seen := make(map[string]bool, len(d.DependsOn))
	for _, dep := range d.DependsOn {
		if dep.Name == "" {
			return ndierr.Invalid(op, "dependency with empty name (document %s)", d.Base.ID)
		}
		if seen[dep.Name] {
			return ndierr.AlreadyExists(op, "dependency", dep.Name)
		}
		seen[dep.Name] = true
		if dep.Value == d.Base.ID {
			return ndierr.DependencyCycle(op, d.Base.ID)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	cp := *d
	cp.Class.Superclasses = slices.Clone(d.Class.Superclasses)
	cp.DependsOn = slices.Clone(d.DependsOn)
	cp.Files = make([]FileInfo, len(d.Files))
	for i, f := range d.Files {
		cp.Files[i] = FileInfo{Filename: f.Filename, Locations: slices.Clone(f.Locations)}
	}
	cp.Metadata.AscPath = slices.Clone(d.Metadata.AscPath)
	cp.Payload = d.Payload.Clone()
	return &cp
}

// MarshalJSON renders the document tree with sorted keys.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Tree().MarshalJSON()
}

// UnmarshalJSON parses a document tree.
func (d *Document) UnmarshalJSON(data []byte) error {
	var tree ir.IRObject
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	parsed, err := FromTree(tree)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// Parse decodes a JSON document.
func Parse(data []byte) (*Document, error) {
	var d Document
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &d, nil
}
