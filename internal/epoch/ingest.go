package epoch

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/store"
)

// Document classes written by this package.
const (
	NavigatorClass = "filenavigator"
	IngestedClass  = "epochfiles_ingested"
)

// Document describes the navigator as a filenavigator document whose id is
// the navigator id.
func (n *Navigator) Document() *document.Document {
	p := n.params
	return document.New(NavigatorClass, n.sessionID,
		document.WithID(n.id),
		document.WithName("navigator"),
		document.WithBranch(NavigatorClass, ir.Obj(
			ir.O("file_match_patterns", ir.Strings(p.FileMatchPatterns...)),
			ir.O("metadata_file_pattern", ir.IRString(p.MetadataFilePattern)),
			ir.O("epoch_per_directory", ir.IRBool(p.EpochPerDirectory)),
			ir.O("max_depth", ir.IRInt(p.MaxDepth)),
		)),
	)
}

// Ingest stores the current epoch table in s: the navigator document plus
// one epochfiles_ingested document per epoch, each depending on the
// navigator. Epochs ingested earlier by this navigator are replaced.
func (n *Navigator) Ingest(ctx context.Context, s *store.Store) ([]*document.Document, error) {
	const op = "epoch.ingest"
	table, err := n.discoverOrCached(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Upsert(ctx, n.Document()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.DeleteMany(ctx, ingestedQuery(n.id), false); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	docs := make([]*document.Document, 0, len(table))
	for _, e := range table {
		d := document.New(IngestedClass, n.sessionID,
			document.WithName(e.ID),
			document.WithBranch(IngestedClass, ir.Obj(
				ir.O("epoch_id", ir.IRString(e.ID)),
				ir.O("epoch_number", ir.IRInt(e.Number)),
				ir.O("navigator_id", ir.IRString(n.id)),
				ir.O("files", ir.Strings(e.Files...)),
				ir.O("metadata_file", ir.IRString(e.MetadataFile)),
			)),
		)
		d.SetDependency("filenavigator_id", n.id)
		if err := s.Add(ctx, d); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		docs = append(docs, d)
	}
	n.logger.Info("epochs ingested", "epochs", len(docs))
	return docs, nil
}

// discoverOrCached ignores ingested documents so Ingest always reflects the
// disk.
func (n *Navigator) discoverOrCached(ctx context.Context) ([]Entry, error) {
	saved := n.ingested
	n.ingested = nil
	defer func() { n.ingested = saved }()
	return n.EpochTable(ctx)
}

func ingestedQuery(navigatorID string) query.Query {
	return query.MustAllOf(
		query.IsA(IngestedClass),
		query.DependsOn("filenavigator_id", navigatorID),
	)
}

// LoadIngested rebuilds the epoch table of navigatorID from s, ordered by
// epoch number. Probe maps are re-read from their metadata files when those
// still exist.
func LoadIngested(ctx context.Context, s *store.Store, navigatorID string) ([]Entry, error) {
	docs, err := s.Find(ctx, ingestedQuery(navigatorID))
	if err != nil {
		return nil, fmt.Errorf("epoch.load_ingested: %w", err)
	}
	table := make([]Entry, 0, len(docs))
	for _, d := range docs {
		b, ok := d.Branch(IngestedClass)
		if !ok {
			continue
		}
		e := Entry{SessionID: d.SessionID(), ProbeMap: []ProbeMapEntry{}}
		e.ID, _ = ir.AsString(b["epoch_id"])
		if num, ok := ir.AsInt(b["epoch_number"]); ok {
			e.Number = int(num)
		}
		if files, ok := b["files"].(ir.IRArray); ok {
			for _, f := range files {
				if path, ok := ir.AsString(f); ok {
					e.Files = append(e.Files, path)
				}
			}
		}
		e.MetadataFile, _ = ir.AsString(b["metadata_file"])
		if e.MetadataFile != "" {
			if pm, err := ParseProbeMapFile(e.MetadataFile); err == nil {
				e.ProbeMap = pm
			}
		}
		table = append(table, e)
	}
	sort.SliceStable(table, func(i, j int) bool { return table[i].Number < table[j].Number })
	return table, nil
}
