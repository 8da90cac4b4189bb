package document

import "slices"

// NextVersion builds the successor of d under a new id: parent_id points at
// d, d's id is prepended to asc_path, version_depth grows by one, the
// _dependencies branch is cleared, and the successor is the latest version.
// d itself is not modified; callers persist d with LatestVersion=false.
func (d *Document) NextVersion(newID string) *Document {
	next := d.Clone()
	next.Base.ID = newID
	next.Metadata = Metadata{
		ParentID:      d.Base.ID,
		AscPath:       append([]string{d.Base.ID}, d.Metadata.AscPath...),
		VersionDepth:  d.Metadata.VersionDepth + 1,
		LatestVersion: true,
	}
	delete(next.Payload, BranchDependencies)
	return next
}

// History returns the ids of d's ancestors oldest first, followed by d's id.
func (d *Document) History() []string {
	out := slices.Clone(d.Metadata.AscPath)
	slices.Reverse(out)
	return append(out, d.Base.ID)
}
