// Package epoch discovers recording epochs on disk and builds epoch tables.
//
// A Navigator walks a session directory and groups files into epochs using
// ordered file match patterns. Tables are cached in the process cache keyed
// on the navigator, its patterns and a summary of the directory's mtimes,
// and can be ingested into the document store so later sessions do not touch
// the disk.
package epoch

import (
	"slices"

	"github.com/roach88/ndicore/internal/clocktype"
)

// Entry is one row of an epoch table.
type Entry struct {
	Number    int    `json:"epoch_number"`
	ID        string `json:"epoch_id"`
	SessionID string `json:"epoch_session_id"`

	// Files are the absolute paths of the underlying file group, sorted.
	Files        []string `json:"files"`
	MetadataFile string   `json:"metadata_file,omitempty"`

	ProbeMap []ProbeMapEntry       `json:"epochprobemap"`
	Clocks   []clocktype.ClockType `json:"epoch_clock"`
	T0T1     [][2]float64          `json:"t0_t1"`

	// Underlying lists source epochs when this epoch composes others.
	Underlying []Entry `json:"underlying_epochs,omitempty"`
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	out := e
	out.Files = slices.Clone(e.Files)
	out.ProbeMap = make([]ProbeMapEntry, len(e.ProbeMap))
	for i, p := range e.ProbeMap {
		out.ProbeMap[i] = p
		out.ProbeMap[i].DeviceStrings = slices.Clone(p.DeviceStrings)
	}
	out.Clocks = slices.Clone(e.Clocks)
	out.T0T1 = slices.Clone(e.T0T1)
	if e.Underlying != nil {
		out.Underlying = make([]Entry, len(e.Underlying))
		for i, u := range e.Underlying {
			out.Underlying[i] = u.Clone()
		}
	}
	return out
}

// Interval returns the t0/t1 pair for clock c.
func (e Entry) Interval(c clocktype.ClockType) ([2]float64, bool) {
	for i, ec := range e.Clocks {
		if ec == c && i < len(e.T0T1) {
			return e.T0T1[i], true
		}
	}
	return [2]float64{}, false
}

// HasClock reports whether the epoch exposes clock c.
func (e Entry) HasClock(c clocktype.ClockType) bool {
	return slices.Contains(e.Clocks, c)
}

// cloneTable deep-copies a table so cached entries are never shared.
func cloneTable(t []Entry) []Entry {
	out := make([]Entry, len(t))
	for i, e := range t {
		out[i] = e.Clone()
	}
	return out
}

// Find returns the entry with the given epoch id.
func Find(table []Entry, id string) (Entry, bool) {
	for _, e := range table {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
