package cloudsync

import (
	"fmt"
	"strings"

	"github.com/roach88/ndicore/internal/ndierr"
)

// Mode selects which side is authoritative.
type Mode string

const (
	DownloadNew      Mode = "download_new"
	MirrorFromRemote Mode = "mirror_from_remote"
	UploadNew        Mode = "upload_new"
	MirrorToRemote   Mode = "mirror_to_remote"
	TwoWaySync       Mode = "two_way_sync"
)

// Modes lists every mode.
func Modes() []Mode {
	return []Mode{DownloadNew, MirrorFromRemote, UploadNew, MirrorToRemote, TwoWaySync}
}

// ParseMode accepts a mode name; dashes are read as underscores.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", ndierr.Invalid("cloudsync.parse_mode", "unknown sync mode %q", s)
}

// Delta is the work a sync round will do. Download and remote-delete lists
// follow remote order; upload and local-delete lists follow local order.
type Delta struct {
	ToDownload     []string `json:"to_download"`
	ToUpload       []string `json:"to_upload"`
	ToDeleteLocal  []string `json:"to_delete_local"`
	ToDeleteRemote []string `json:"to_delete_remote"`
	Conflicts      []string `json:"conflicts"`
}

// Empty reports whether the delta does nothing.
func (d Delta) Empty() bool {
	return len(d.ToDownload) == 0 && len(d.ToUpload) == 0 &&
		len(d.ToDeleteLocal) == 0 && len(d.ToDeleteRemote) == 0
}

func (d Delta) String() string {
	return fmt.Sprintf("download=%d upload=%d delete_local=%d delete_remote=%d conflicts=%d",
		len(d.ToDownload), len(d.ToUpload), len(d.ToDeleteLocal), len(d.ToDeleteRemote), len(d.Conflicts))
}

// idSet is an ordered set: membership plus the order ids were first seen.
type idSet struct {
	order []string
	has   map[string]bool
}

func newIDSet(ids ...[]string) idSet {
	s := idSet{has: make(map[string]bool)}
	for _, list := range ids {
		for _, id := range list {
			if !s.has[id] {
				s.has[id] = true
				s.order = append(s.order, id)
			}
		}
	}
	return s
}

// minus keeps the ids of s, in order, that none of others hold.
func (s idSet) minus(others ...idSet) idSet {
	out := idSet{has: make(map[string]bool)}
	for _, id := range s.order {
		drop := false
		for _, o := range others {
			if o.has[id] {
				drop = true
				break
			}
		}
		if !drop {
			out.has[id] = true
			out.order = append(out.order, id)
		}
	}
	return out
}

// and keeps the ids of s, in order, that o also holds.
func (s idSet) and(o idSet) idSet {
	out := idSet{has: make(map[string]bool)}
	for _, id := range s.order {
		if o.has[id] {
			out.has[id] = true
			out.order = append(out.order, id)
		}
	}
	return out
}

func (s idSet) list() []string {
	if len(s.order) == 0 {
		return []string{}
	}
	return s.order
}

// ComputeDelta decides what a round in mode does given the last index and
// the current ids on each side. It performs no I/O.
func ComputeDelta(mode Mode, idx Index, local, remote []string) (Delta, error) {
	cur := struct{ local, remote idSet }{newIDSet(local), newIDSet(remote)}
	last := struct{ local, remote idSet }{newIDSet(idx.LocalIDs), newIDSet(idx.RemoteIDs)}

	addedRemote := cur.remote.minus(last.remote)
	deletedRemote := last.remote.minus(cur.remote)
	addedLocal := cur.local.minus(last.local)
	deletedLocal := last.local.minus(cur.local)

	d := Delta{
		ToDownload:     []string{},
		ToUpload:       []string{},
		ToDeleteLocal:  []string{},
		ToDeleteRemote: []string{},
		Conflicts:      []string{},
	}
	switch mode {
	case DownloadNew:
		d.ToDownload = addedRemote.minus(cur.local).list()
	case MirrorFromRemote:
		d.ToDownload = cur.remote.minus(cur.local).list()
		d.ToDeleteLocal = cur.local.minus(cur.remote).list()
	case UploadNew:
		d.ToUpload = addedLocal.minus(cur.remote).list()
	case MirrorToRemote:
		d.ToUpload = cur.local.minus(cur.remote).list()
		d.ToDeleteRemote = cur.remote.minus(cur.local).list()
	case TwoWaySync:
		d.ToDownload = addedRemote.minus(addedLocal, cur.local).list()
		d.ToUpload = addedLocal.minus(addedRemote, cur.remote).list()
		// a delete only applies where the document still exists
		d.ToDeleteLocal = deletedRemote.minus(addedLocal).and(cur.local).list()
		d.ToDeleteRemote = deletedLocal.minus(addedRemote).and(cur.remote).list()
		d.Conflicts = addedRemote.and(addedLocal).list()
	default:
		return Delta{}, ndierr.Invalid("cloudsync.compute_delta", "unknown sync mode %q", mode)
	}
	return d, nil
}
