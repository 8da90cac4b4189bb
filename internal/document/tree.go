package document

import (
	"fmt"

	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Tree renders the document as a single IRObject. The result shares no
// structure with d.
func (d *Document) Tree() ir.IRObject {
	tree := d.Payload.Clone()

	tree[BranchBase] = ir.Obj(
		ir.O("id", ir.IRString(d.Base.ID)),
		ir.O("session_id", ir.IRString(d.Base.SessionID)),
		ir.O("name", ir.IRString(d.Base.Name)),
		ir.O("datestamp", ir.IRString(d.Base.Datestamp)),
	)

	tree[BranchClass] = ir.Obj(
		ir.O("name", ir.IRString(d.Class.Name)),
		ir.O("superclasses", ir.Strings(d.Class.Superclasses...)),
	)

	deps := make(ir.IRArray, len(d.DependsOn))
	for i, dep := range d.DependsOn {
		deps[i] = ir.Obj(ir.O("name", ir.IRString(dep.Name)), ir.O("value", ir.IRString(dep.Value)))
	}
	tree[BranchDependsOn] = deps

	infos := make(ir.IRArray, len(d.Files))
	for i, f := range d.Files {
		locs := make(ir.IRArray, len(f.Locations))
		for j, l := range f.Locations {
			locs[j] = ir.Obj(
				ir.O("location", ir.IRString(l.Location)),
				ir.O("location_type", ir.IRString(l.LocationType)),
				ir.O("uid", ir.IRString(l.UID)),
				ir.O("delete_original", ir.IRBool(l.DeleteOriginal)),
				ir.O("ingest", ir.IRBool(l.Ingest)),
			)
		}
		infos[i] = ir.Obj(ir.O("filename", ir.IRString(f.Filename)), ir.O("locations", locs))
	}
	tree[BranchFiles] = ir.Obj(ir.O("file_info", infos))

	tree[BranchMetadata] = ir.Obj(
		ir.O("parent_id", ir.IRString(d.Metadata.ParentID)),
		ir.O("asc_path", ir.Strings(d.Metadata.AscPath...)),
		ir.O("version_depth", ir.IRInt(d.Metadata.VersionDepth)),
		ir.O("latest_version", ir.IRBool(d.Metadata.LatestVersion)),
	)
	return tree
}

// FromTree parses a document tree. Reserved branches must have the expected
// shape; missing optional branches take their zero values, and a missing
// _metadata branch means a first, latest version.
func FromTree(tree ir.IRObject) (*Document, error) {
	const op = "document.from_tree"
	d := &Document{
		Class:    Class{Superclasses: []string{}},
		Metadata: Metadata{AscPath: []string{}, LatestVersion: true},
		Payload:  ir.IRObject{},
	}

	for k, v := range tree {
		if !IsReserved(k) {
			d.Payload[k] = ir.Clone(v)
		}
	}

	base, err := objectBranch(tree, BranchBase, true)
	if err != nil {
		return nil, ndierr.Wrap(ndierr.KindSchemaViolation, op, err)
	}
	d.Base.ID = stringField(base, "id")
	d.Base.SessionID = stringField(base, "session_id")
	d.Base.Name = stringField(base, "name")
	d.Base.Datestamp = stringField(base, "datestamp")

	class, err := objectBranch(tree, BranchClass, true)
	if err != nil {
		return nil, ndierr.Wrap(ndierr.KindSchemaViolation, op, err)
	}
	d.Class.Name = stringField(class, "name")
	if d.Class.Superclasses, err = stringList(class["superclasses"]); err != nil {
		return nil, ndierr.Wrap(ndierr.KindSchemaViolation, op, fmt.Errorf("class.superclasses: %w", err))
	}

	if raw, ok := tree[BranchDependsOn]; ok {
		arr, ok := raw.(ir.IRArray)
		if !ok {
			return nil, ndierr.New(ndierr.KindSchemaViolation, op, "depends_on must be an array")
		}
		for i, e := range arr {
			obj, ok := e.(ir.IRObject)
			if !ok {
				return nil, ndierr.New(ndierr.KindSchemaViolation, op, fmt.Sprintf("depends_on[%d] must be an object", i))
			}
			d.DependsOn = append(d.DependsOn, Dependency{Name: stringField(obj, "name"), Value: stringField(obj, "value")})
		}
	}

	files, err := objectBranch(tree, BranchFiles, false)
	if err != nil {
		return nil, ndierr.Wrap(ndierr.KindSchemaViolation, op, err)
	}
	if infos, ok := files["file_info"].(ir.IRArray); ok {
		for i, e := range infos {
			obj, ok := e.(ir.IRObject)
			if !ok {
				return nil, ndierr.New(ndierr.KindSchemaViolation, op, fmt.Sprintf("files.file_info[%d] must be an object", i))
			}
			fi := FileInfo{Filename: stringField(obj, "filename")}
			locs, _ := obj["locations"].(ir.IRArray)
			for _, le := range locs {
				lo, ok := le.(ir.IRObject)
				if !ok {
					continue
				}
				fi.Locations = append(fi.Locations, FileLocation{
					Location:       stringField(lo, "location"),
					LocationType:   stringField(lo, "location_type"),
					UID:            stringField(lo, "uid"),
					DeleteOriginal: boolField(lo, "delete_original"),
					Ingest:         boolField(lo, "ingest"),
				})
			}
			d.Files = append(d.Files, fi)
		}
	}

	meta, err := objectBranch(tree, BranchMetadata, false)
	if err != nil {
		return nil, ndierr.Wrap(ndierr.KindSchemaViolation, op, err)
	}
	if meta != nil {
		d.Metadata.ParentID = stringField(meta, "parent_id")
		if d.Metadata.AscPath, err = stringList(meta["asc_path"]); err != nil {
			return nil, ndierr.Wrap(ndierr.KindSchemaViolation, op, fmt.Errorf("_metadata.asc_path: %w", err))
		}
		if n, ok := ir.AsInt(meta["version_depth"]); ok {
			d.Metadata.VersionDepth = int(n)
		}
		if b, ok := meta["latest_version"].(ir.IRBool); ok {
			d.Metadata.LatestVersion = bool(b)
		}
	}

	return d, nil
}

func objectBranch(tree ir.IRObject, name string, required bool) (ir.IRObject, error) {
	raw, ok := tree[name]
	if !ok {
		if required {
			return nil, fmt.Errorf("missing %s branch", name)
		}
		return nil, nil
	}
	obj, ok := raw.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("%s must be an object, got %s", name, ir.TypeName(raw))
	}
	return obj, nil
}

func stringField(obj ir.IRObject, key string) string {
	s, _ := obj[key].(ir.IRString)
	return string(s)
}

func boolField(obj ir.IRObject, key string) bool {
	b, _ := obj[key].(ir.IRBool)
	return bool(b)
}

func stringList(v ir.IRValue) ([]string, error) {
	out := []string{}
	switch val := v.(type) {
	case nil, ir.IRNull:
		return out, nil
	case ir.IRString:
		// A single name is accepted in place of a one-element list.
		if val != "" {
			out = append(out, string(val))
		}
		return out, nil
	case ir.IRArray:
		for i, e := range val {
			s, ok := e.(ir.IRString)
			if !ok {
				return nil, fmt.Errorf("element %d is %s, want string", i, ir.TypeName(e))
			}
			out = append(out, string(s))
		}
		return out, nil
	}
	return nil, fmt.Errorf("want array of strings, got %s", ir.TypeName(v))
}
