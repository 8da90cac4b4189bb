package epoch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/ndicore/internal/cache"
	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/store"
)

// GroupSymbol in a file match pattern captures the search key in the first
// pattern and is replaced by the captured key in the others.
const GroupSymbol = "#"

// EpochIDLength is the number of hex chars of a hashed epoch id.
const EpochIDLength = 16

// CacheType is the cache entry type of epoch tables.
const CacheType = "epochtable"

// Params are the discovery rules of a navigator.
type Params struct {
	FileMatchPatterns   []string `yaml:"file_match_patterns" json:"file_match_patterns"`
	MetadataFilePattern string   `yaml:"metadata_file_pattern" json:"metadata_file_pattern"`
	EpochPerDirectory   bool     `yaml:"epoch_per_directory" json:"epoch_per_directory"`
	// MaxDepth limits how many directory levels below the root are
	// searched. Zero means no limit.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
	// ChildrenFirst lists epochs of subdirectories before those of their
	// parent.
	ChildrenFirst bool `yaml:"children_first" json:"children_first"`
}

// Validate checks that there is at least one pattern and every pattern
// compiles.
func (p Params) Validate() error {
	const op = "epoch.params"
	if len(p.FileMatchPatterns) == 0 {
		return ndierr.Invalid(op, "at least one file match pattern is required")
	}
	if p.MaxDepth < 0 {
		return ndierr.Invalid(op, "max_depth must be >= 0")
	}
	for _, pat := range append(slices.Clone(p.FileMatchPatterns), p.MetadataFilePattern) {
		if pat == "" {
			continue
		}
		if _, err := compileCapture(pat); err != nil {
			return ndierr.Invalid(op, "pattern %q: %v", pat, err)
		}
	}
	return nil
}

// Navigator discovers the epochs of one session directory.
type Navigator struct {
	id        string
	root      string
	sessionID string
	params    Params

	cache    *cache.Cache
	ingested *store.Store
	logger   *slog.Logger
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithID fixes the navigator id instead of minting one.
func WithID(id string) Option {
	return func(n *Navigator) { n.id = id }
}

// WithSessionID stamps epochs with a session id.
func WithSessionID(id string) Option {
	return func(n *Navigator) { n.sessionID = id }
}

// WithCache sets the cache holding epoch tables. The default is
// cache.Shared().
func WithCache(c *cache.Cache) Option {
	return func(n *Navigator) { n.cache = c }
}

// WithIngested makes the navigator prefer ingested epochs in s over the
// disk.
func WithIngested(s *store.Store) Option {
	return func(n *Navigator) { n.ingested = s }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Navigator) { n.logger = l }
}

// NewNavigator creates a navigator over root.
func NewNavigator(root string, params Params, opts ...Option) (*Navigator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ndierr.IO("epoch.new_navigator", err)
	}
	n := &Navigator{root: abs, params: params}
	for _, opt := range opts {
		opt(n)
	}
	if n.id == "" {
		n.id = ident.NewString()
	}
	if n.cache == nil {
		n.cache = cache.Shared()
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	n.logger = n.logger.With("navigator_id", n.id)
	return n, nil
}

func (n *Navigator) ID() string        { return n.id }
func (n *Navigator) Root() string      { return n.root }
func (n *Navigator) SessionID() string { return n.sessionID }
func (n *Navigator) Params() Params    { return n.params }

// SetSessionID restamps future tables with id and drops the cached table.
func (n *Navigator) SetSessionID(id string) {
	n.sessionID = id
	n.ResetEpochTable()
}

// EpochTable returns the navigator's epochs. Ingested epochs win over the
// disk; otherwise a cached table is reused while the directory is unchanged.
func (n *Navigator) EpochTable(ctx context.Context) ([]Entry, error) {
	if n.ingested != nil {
		table, err := LoadIngested(ctx, n.ingested, n.id)
		if err != nil {
			return nil, err
		}
		if len(table) > 0 {
			for i := range table {
				table[i].SessionID = n.sessionID
			}
			return table, nil
		}
	}

	key, err := n.cacheKey(ctx)
	if err != nil {
		return nil, err
	}
	if e, ok := n.cache.Lookup(key, CacheType); ok {
		return cloneTable(e.Data.([]Entry)), nil
	}

	table, err := n.discover(ctx)
	if err != nil {
		return nil, err
	}
	if err := n.cache.Add(key, CacheType, cloneTable(table), 0); err != nil {
		n.logger.Debug("epoch table not cached", "error", err)
	}
	n.logger.Debug("epoch table built", "epochs", len(table))
	return table, nil
}

// ResetEpochTable evicts every cached table of this navigator.
func (n *Navigator) ResetEpochTable() {
	prefix := n.id + ":"
	n.cache.RemoveMatching(func(e cache.Entry) bool {
		return e.Type == CacheType && strings.HasPrefix(e.Key, prefix)
	})
}

// cacheKey is navigator id, pattern hash and mtime summary.
func (n *Navigator) cacheKey(ctx context.Context) (string, error) {
	var lines []string
	err := n.walk(ctx, func(dir string, files []os.DirEntry) error {
		for _, f := range files {
			info, err := f.Info()
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(n.root, filepath.Join(dir, f.Name()))
			lines = append(lines, rel+"\x00"+strconv.FormatInt(info.ModTime().UnixNano(), 10)+"\x00"+strconv.FormatInt(info.Size(), 10))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	slices.Sort(lines)
	rules := append(slices.Clone(n.params.FileMatchPatterns),
		"meta="+n.params.MetadataFilePattern,
		"perdir="+strconv.FormatBool(n.params.EpochPerDirectory),
		"depth="+strconv.Itoa(n.params.MaxDepth),
		"childfirst="+strconv.FormatBool(n.params.ChildrenFirst),
		"session="+n.sessionID,
	)
	return n.id + ":" + ir.HashStrings(ir.DomainNavigator, rules) + ":" + ir.HashStrings(ir.DomainNavigator, lines), nil
}

// walk visits root and its subdirectories depth first in name order,
// passing each directory's regular, non-hidden files.
func (n *Navigator) walk(ctx context.Context, visit func(dir string, files []os.DirEntry) error) error {
	var rec func(dir string, depth int) error
	rec = func(dir string, depth int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return ndierr.IO("epoch.walk", err)
		}
		var files, subdirs []os.DirEntry
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			switch {
			case e.IsDir():
				subdirs = append(subdirs, e)
			case e.Type().IsRegular():
				files = append(files, e)
			}
		}
		descend := n.params.MaxDepth == 0 || depth < n.params.MaxDepth
		if n.params.ChildrenFirst && descend {
			for _, sd := range subdirs {
				if err := rec(filepath.Join(dir, sd.Name()), depth+1); err != nil {
					return err
				}
			}
		}
		if err := visit(dir, files); err != nil {
			return err
		}
		if !n.params.ChildrenFirst && descend {
			for _, sd := range subdirs {
				if err := rec(filepath.Join(dir, sd.Name()), depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return rec(n.root, 0)
}

// discover runs the file group selection and numbers the epochs.
func (n *Navigator) discover(ctx context.Context) ([]Entry, error) {
	first, err := compileCapture(n.params.FileMatchPatterns[0])
	if err != nil {
		return nil, ndierr.Invalid("epoch.discover", "%v", err)
	}

	var table []Entry
	err = n.walk(ctx, func(dir string, files []os.DirEntry) error {
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.Name()
		}
		groups := n.selectFileGroups(first, names)
		if len(groups) == 0 {
			return nil
		}
		if n.params.EpochPerDirectory {
			var union []string
			for _, g := range groups {
				union = append(union, g.files...)
			}
			groups = []fileGroup{{key: groups[0].key, files: union}}
		}
		for _, g := range groups {
			e, err := n.entryFor(dir, g, names)
			if err != nil {
				return err
			}
			table = append(table, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range table {
		table[i].Number = i + 1
	}
	return table, nil
}

type fileGroup struct {
	key   string
	files []string
}

// selectFileGroups groups the files of one directory. Every file matching
// the first pattern opens a group keyed by its # capture; each further
// pattern, with # replaced by the key, must match at least one file or the
// group is dropped.
func (n *Navigator) selectFileGroups(first *capturePattern, names []string) []fileGroup {
	var groups []fileGroup
	for _, name := range names {
		key, ok := first.match(name)
		if !ok {
			continue
		}
		group := fileGroup{key: key, files: []string{name}}
		complete := true
		for _, pat := range n.params.FileMatchPatterns[1:] {
			re, err := substitute(pat, key)
			if err != nil {
				complete = false
				break
			}
			matched := false
			for _, other := range names {
				if re.MatchString(other) {
					matched = true
					if !slices.Contains(group.files, other) {
						group.files = append(group.files, other)
					}
				}
			}
			if !matched {
				complete = false
				break
			}
		}
		if complete {
			groups = append(groups, group)
		}
	}
	return groups
}

func (n *Navigator) entryFor(dir string, g fileGroup, names []string) (Entry, error) {
	abs := make([]string, len(g.files))
	for i, f := range g.files {
		abs[i] = filepath.Join(dir, f)
	}
	slices.Sort(abs)
	abs = slices.Compact(abs)

	e := Entry{SessionID: n.sessionID, Files: abs, ProbeMap: []ProbeMapEntry{}}
	if n.params.EpochPerDirectory {
		e.ID = filepath.Base(dir)
	} else {
		e.ID = ir.HashStrings(ir.DomainEpoch, abs)[:EpochIDLength]
	}

	if n.params.MetadataFilePattern != "" {
		re, err := substitute(n.params.MetadataFilePattern, g.key)
		if err != nil {
			return Entry{}, ndierr.Invalid("epoch.discover", "metadata pattern: %v", err)
		}
		for _, name := range names {
			if re.MatchString(name) {
				e.MetadataFile = filepath.Join(dir, name)
				pm, err := ParseProbeMapFile(e.MetadataFile)
				if err != nil {
					return Entry{}, err
				}
				e.ProbeMap = pm
				break
			}
		}
	}
	return e, nil
}

// capturePattern is a file match pattern whose # symbols are capture
// groups that must all agree.
type capturePattern struct {
	re     *regexp.Regexp
	groups []int
}

func compileCapture(pattern string) (*capturePattern, error) {
	parts := strings.Split(pattern, GroupSymbol)
	var sb strings.Builder
	sb.WriteString("^(?:")
	for i, p := range parts {
		if i > 0 {
			fmt.Fprintf(&sb, "(?P<ndikey%d>.+)", i)
		}
		sb.WriteString(p)
	}
	sb.WriteString(")$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, err
	}
	cp := &capturePattern{re: re}
	for i := 1; i < len(parts); i++ {
		cp.groups = append(cp.groups, re.SubexpIndex(fmt.Sprintf("ndikey%d", i)))
	}
	return cp, nil
}

// match returns the search key of name. A pattern without # matches with
// an empty key.
func (c *capturePattern) match(name string) (string, bool) {
	m := c.re.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	key := ""
	for i, g := range c.groups {
		if i == 0 {
			key = m[g]
		} else if m[g] != key {
			return "", false
		}
	}
	return key, true
}

func substitute(pattern, key string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + strings.ReplaceAll(pattern, GroupSymbol, regexp.QuoteMeta(key)) + ")$")
}
