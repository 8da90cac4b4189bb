package epoch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/ndicore/internal/ndierr"
)

// ProbeMapHeader is the fixed column order of an epoch probe map file.
var ProbeMapHeader = []string{"name", "reference", "type", "devicestring", "subjectstring"}

var probeNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidProbeName reports whether name is a letter followed by letters,
// digits or underscores.
func ValidProbeName(name string) bool { return probeNameRE.MatchString(name) }

// ProbeMapEntry says which device channels record one probe during an
// epoch. A probe listed on several rows keeps every distinct device string.
type ProbeMapEntry struct {
	Name          string   `json:"name"`
	Reference     int      `json:"reference"`
	Type          string   `json:"type"`
	DeviceStrings []string `json:"devicestring"`
	SubjectString string   `json:"subjectstring"`
}

// Key identifies a probe within a session.
func (p ProbeMapEntry) Key() string {
	return p.Name + "|" + strconv.Itoa(p.Reference) + "|" + p.Type
}

// ParseProbeMap reads a tab-separated probe map. Rows with the same
// name|reference|type are merged.
func ParseProbeMap(r io.Reader) ([]ProbeMapEntry, error) {
	const op = "epoch.parse_probemap"
	sc := bufio.NewScanner(r)
	line := 0
	header := false
	var out []ProbeMapEntry
	index := map[string]int{}

	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		cols := strings.Split(text, "\t")
		if !header {
			if len(cols) != len(ProbeMapHeader) {
				return nil, ndierr.Invalid(op, "line %d: header has %d columns, want %d", line, len(cols), len(ProbeMapHeader))
			}
			for i, c := range cols {
				if !strings.EqualFold(strings.TrimSpace(c), ProbeMapHeader[i]) {
					return nil, ndierr.Invalid(op, "line %d: column %d is %q, want %q", line, i+1, c, ProbeMapHeader[i])
				}
			}
			header = true
			continue
		}
		if len(cols) != len(ProbeMapHeader) {
			return nil, ndierr.Invalid(op, "line %d: %d columns, want %d", line, len(cols), len(ProbeMapHeader))
		}
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		if !ValidProbeName(cols[0]) {
			return nil, ndierr.Invalid(op, "line %d: probe name %q is not a valid identifier", line, cols[0])
		}
		ref, err := strconv.Atoi(cols[1])
		if err != nil || ref < 0 {
			return nil, ndierr.Invalid(op, "line %d: reference %q must be a non-negative integer", line, cols[1])
		}
		if cols[2] == "" {
			return nil, ndierr.Invalid(op, "line %d: empty probe type", line)
		}
		e := ProbeMapEntry{Name: cols[0], Reference: ref, Type: cols[2], SubjectString: cols[4]}
		if cols[3] != "" {
			e.DeviceStrings = []string{cols[3]}
		}
		if i, ok := index[e.Key()]; ok {
			for _, ds := range e.DeviceStrings {
				if !slices.Contains(out[i].DeviceStrings, ds) {
					out[i].DeviceStrings = append(out[i].DeviceStrings, ds)
				}
			}
			continue
		}
		index[e.Key()] = len(out)
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, ndierr.IO(op, err)
	}
	if !header {
		return nil, ndierr.Invalid(op, "missing header row")
	}
	return out, nil
}

// ParseProbeMapFile reads the probe map at path.
func ParseProbeMapFile(path string) ([]ProbeMapEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ndierr.NotFound("epoch.parse_probemap", "probemap file", path)
	}
	if err != nil {
		return nil, ndierr.IO("epoch.parse_probemap", err)
	}
	defer f.Close()
	entries, err := ParseProbeMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// WriteProbeMap writes entries with a header, one row per device string.
func WriteProbeMap(w io.Writer, entries []ProbeMapEntry) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(ProbeMapHeader, "\t") + "\n")
	for _, e := range entries {
		devs := e.DeviceStrings
		if len(devs) == 0 {
			devs = []string{""}
		}
		for _, ds := range devs {
			fmt.Fprintf(bw, "%s\t%d\t%s\t%s\t%s\n", e.Name, e.Reference, e.Type, ds, e.SubjectString)
		}
	}
	return bw.Flush()
}
