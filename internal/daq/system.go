package daq

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// SystemClass is the document class of a DAQ system.
const SystemClass = "daqsystem"

// System binds a navigator to a reader and optional metadata readers.
type System struct {
	id         string
	cfg        Config
	navigator  *epoch.Navigator
	reader     Reader
	metadata   []MetadataReader
	groupSizes map[ChannelType]int
	logger     *slog.Logger
}

// SystemOption configures a System.
type SystemOption func(*System)

// WithSystemID fixes the system id instead of minting one.
func WithSystemID(id string) SystemOption {
	return func(s *System) { s.id = id }
}

// WithSystemLogger sets the logger. The default is slog.Default().
func WithSystemLogger(l *slog.Logger) SystemOption {
	return func(s *System) { s.logger = l }
}

// Build resolves the readers named in cfg and creates the system over
// root. navOpts configure the navigator.
func (r *Registry) Build(cfg Config, root string, navOpts []epoch.Option, opts ...SystemOption) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reader, err := r.Reader(cfg.Reader)
	if err != nil {
		return nil, err
	}
	var metadata []MetadataReader
	for _, name := range cfg.MetadataReaders {
		mr, err := r.MetadataReader(name)
		if err != nil {
			return nil, err
		}
		metadata = append(metadata, mr)
	}
	nav, err := epoch.NewNavigator(root, cfg.Navigator, navOpts...)
	if err != nil {
		return nil, err
	}
	return NewSystem(cfg, nav, reader, metadata, opts...)
}

// NewSystem creates a system from already resolved parts.
func NewSystem(cfg Config, nav *epoch.Navigator, reader Reader, metadata []MetadataReader, opts ...SystemOption) (*System, error) {
	if nav == nil || reader == nil {
		return nil, ndierr.Invalid("daq.new_system", "navigator and reader are required")
	}
	sizes, err := cfg.groupSizes()
	if err != nil {
		return nil, err
	}
	cfg.Navigator = nav.Params()
	s := &System{cfg: cfg, navigator: nav, reader: reader, metadata: metadata, groupSizes: sizes}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = ident.NewString()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("daqsystem", cfg.Name)
	return s, nil
}

func (s *System) ID() string                  { return s.id }
func (s *System) Name() string                { return s.cfg.Name }
func (s *System) Config() Config              { return s.cfg }
func (s *System) Navigator() *epoch.Navigator { return s.navigator }
func (s *System) Reader() Reader              { return s.reader }
func (s *System) SessionID() string           { return s.navigator.SessionID() }

// SetSessionID stamps the system and its navigator with a session id.
func (s *System) SetSessionID(id string) {
	s.navigator.SetSessionID(id)
}

// GroupSize returns the read group size for channel type ct.
func (s *System) GroupSize(ct ChannelType) int {
	return s.groupSizes[ct]
}

// EpochTable returns the navigator's epochs with their clocks and
// intervals filled in by the reader. An epoch whose probe map the reader
// rejects is an error.
func (s *System) EpochTable(ctx context.Context) ([]epoch.Entry, error) {
	const op = "daq.epoch_table"
	table, err := s.navigator.EpochTable(ctx)
	if err != nil {
		return nil, err
	}
	for i := range table {
		e := &table[i]
		clocks, err := s.reader.EpochClock(ctx, e.Files)
		if err != nil {
			return nil, fmt.Errorf("%s: epoch %s: %w", op, e.ID, err)
		}
		t0t1, err := s.reader.T0T1(ctx, e.Files)
		if err != nil {
			return nil, fmt.Errorf("%s: epoch %s: %w", op, e.ID, err)
		}
		if len(clocks) != len(t0t1) {
			return nil, ndierr.Invalid(op, "epoch %s: %d clocks but %d intervals", e.ID, len(clocks), len(t0t1))
		}
		e.Clocks, e.T0T1 = clocks, t0t1
		for _, pm := range e.ProbeMap {
			ok, err := s.reader.VerifyProbeMap(ctx, pm, e.Files)
			if err != nil {
				return nil, fmt.Errorf("%s: epoch %s: %w", op, e.ID, err)
			}
			if !ok {
				return nil, ndierr.Invalid(op, "epoch %s: reader rejects probe %s", e.ID, pm.Key())
			}
		}
	}
	return table, nil
}

func (s *System) epoch(ctx context.Context, epochID string) (epoch.Entry, error) {
	table, err := s.navigator.EpochTable(ctx)
	if err != nil {
		return epoch.Entry{}, err
	}
	e, ok := epoch.Find(table, epochID)
	if !ok {
		return epoch.Entry{}, ndierr.NotFound("daq.epoch", "epoch", epochID)
	}
	return e, nil
}

// Channels lists the channels the reader reports for an epoch.
func (s *System) Channels(ctx context.Context, epochID string) ([]ChannelInfo, error) {
	e, err := s.epoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	return s.reader.Channels(ctx, e.Files)
}

// SampleRate returns the sample rate of one channel in an epoch.
func (s *System) SampleRate(ctx context.Context, epochID string, ct ChannelType, channel int) (float64, error) {
	e, err := s.epoch(ctx, epochID)
	if err != nil {
		return 0, err
	}
	return s.reader.SampleRate(ctx, e.Files, ct, channel)
}

// ReadChannels reads samples s0..s1 of channels of type ct. Channels that
// share a group are read in one reader call; the result keeps the order of
// channels.
func (s *System) ReadChannels(ctx context.Context, ct ChannelType, channels []int, epochID string, s0, s1 int64) ([][]float64, error) {
	const op = "daq.read_channels"
	e, err := s.epoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	byChannel := make(map[int][]float64, len(channels))
	for _, g := range GroupChannels(ct, channels, s.groupSizes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := s.reader.ReadSamples(ctx, ct, g.Channels, e.Files, s0, s1)
		if err != nil {
			return nil, fmt.Errorf("%s: group %d: %w", op, g.Index, err)
		}
		if len(data) != len(g.Channels) {
			return nil, ndierr.Invalid(op, "reader returned %d channels, want %d", len(data), len(g.Channels))
		}
		for i, ch := range g.Channels {
			byChannel[ch] = data[i]
		}
		s.logger.Debug("channel group read", "type", ct, "group", g.Index, "channels", len(g.Channels))
	}
	out := make([][]float64, len(channels))
	for i, ch := range channels {
		out[i] = byChannel[ch]
	}
	return out, nil
}

// Metadata merges what every metadata reader reports for an epoch. Later
// readers win on key clashes.
func (s *System) Metadata(ctx context.Context, epochID string) (ir.IRObject, error) {
	e, err := s.epoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	out := ir.IRObject{}
	for _, mr := range s.metadata {
		md, err := mr.ReadMetadata(ctx, e.Files)
		if err != nil {
			return nil, fmt.Errorf("daq.metadata: %w", err)
		}
		ir.Merge(out, md)
	}
	return out, nil
}

// Probes returns the probes whose device strings name this system, across
// all epochs, sorted by key.
func (s *System) Probes(ctx context.Context) ([]*Probe, error) {
	table, err := s.navigator.EpochTable(ctx)
	if err != nil {
		return nil, err
	}
	byKey := map[string]*Probe{}
	for _, e := range table {
		for _, pm := range e.ProbeMap {
			if !s.names(pm) {
				continue
			}
			if _, ok := byKey[pm.Key()]; ok {
				continue
			}
			byKey[pm.Key()] = newProbe(s, pm)
		}
	}
	out := make([]*Probe, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// names reports whether any device string of pm addresses this system.
func (s *System) names(pm epoch.ProbeMapEntry) bool {
	for _, raw := range pm.DeviceStrings {
		ds, err := ParseDaqSystemString(raw)
		if err == nil && ds.Device == s.cfg.Name {
			return true
		}
	}
	return false
}

// Document describes the system. Its id is the system id and it depends on
// the navigator document.
func (s *System) Document() *document.Document {
	d := document.New(SystemClass, s.SessionID(),
		document.WithID(s.id),
		document.WithName(s.cfg.Name),
		document.WithBranch(SystemClass, ir.Obj(
			ir.O("name", ir.IRString(s.cfg.Name)),
			ir.O("reader", ir.IRString(s.cfg.Reader)),
			ir.O("metadata_readers", ir.Strings(s.cfg.MetadataReaders...)),
		)),
	)
	d.SetDependency("filenavigator_id", s.navigator.ID())
	return d
}

// Documents returns every document the system generates, in dependency
// order: navigator, system, probes, channels.
func (s *System) Documents(ctx context.Context) ([]*document.Document, error) {
	docs := []*document.Document{s.navigator.Document(), s.Document()}
	probes, err := s.Probes(ctx)
	if err != nil {
		return nil, err
	}
	var channels []*document.Document
	for _, p := range probes {
		docs = append(docs, p.Document())
		cds, err := p.ChannelDocuments(ctx)
		if err != nil {
			return nil, err
		}
		channels = append(channels, cds...)
	}
	return append(docs, channels...), nil
}
