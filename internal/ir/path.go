package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// SplitPath splits a dotted field path ("base.session_id", "files.file_info.0")
// into its segments. Empty segments are rejected.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	segs := strings.Split(path, ".")
	for i, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("path %q: empty segment at %d", path, i)
		}
	}
	return segs, nil
}

// Lookup resolves a dotted path against v. Object segments select keys;
// all-digit segments index arrays. The second result is false when any
// segment fails to resolve.
func Lookup(v IRValue, path string) (IRValue, bool) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	return LookupSegments(v, segs)
}

// LookupSegments is Lookup over a pre-split path.
func LookupSegments(v IRValue, segs []string) (IRValue, bool) {
	cur := v
	for _, seg := range segs {
		switch node := cur.(type) {
		case IRObject:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case IRArray:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at a dotted path inside obj, creating intermediate
// objects as needed. Array elements can be replaced but arrays are never
// grown.
func Set(obj IRObject, path string, value IRValue) error {
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	var cur IRValue = obj
	for i, seg := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case IRObject:
			if last {
				node[seg] = value
				return nil
			}
			next, ok := node[seg]
			if !ok {
				next = IRObject{}
				node[seg] = next
			}
			if _, isContainer := next.(IRObject); !isContainer {
				if _, isArr := next.(IRArray); !isArr {
					next = IRObject{}
					node[seg] = next
				}
			}
			cur = next
		case IRArray:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("path %q: index %q out of range", path, seg)
			}
			if last {
				node[idx] = value
				return nil
			}
			cur = node[idx]
		default:
			return fmt.Errorf("path %q: segment %q is not a container", path, strings.Join(segs[:i], "."))
		}
	}
	return nil
}

// Delete removes the value at a dotted path from obj. It reports whether
// anything was removed. Only object keys can be deleted.
func Delete(obj IRObject, path string) bool {
	segs, err := SplitPath(path)
	if err != nil {
		return false
	}
	parent, ok := LookupSegments(obj, segs[:len(segs)-1])
	if !ok {
		return false
	}
	node, ok := parent.(IRObject)
	if !ok {
		return false
	}
	if _, present := node[segs[len(segs)-1]]; !present {
		return false
	}
	delete(node, segs[len(segs)-1])
	return true
}

// Merge overlays src onto dst key by key, recursing into objects present on
// both sides. Values from src are cloned.
func Merge(dst, src IRObject) {
	for k, v := range src {
		if sub, ok := v.(IRObject); ok {
			if existing, ok := dst[k].(IRObject); ok {
				Merge(existing, sub)
				continue
			}
		}
		dst[k] = Clone(v)
	}
}
