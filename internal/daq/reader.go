package daq

import (
	"context"
	"sort"

	"github.com/roach88/ndicore/internal/clocktype"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Reader decodes the files of one epoch. Vendors implement it for their
// formats; files are the epoch's underlying paths.
type Reader interface {
	Channels(ctx context.Context, files []string) ([]ChannelInfo, error)
	// ReadSamples returns one slice per requested channel holding samples
	// s0 through s1 inclusive.
	ReadSamples(ctx context.Context, ct ChannelType, channels []int, files []string, s0, s1 int64) ([][]float64, error)
	SampleRate(ctx context.Context, files []string, ct ChannelType, channel int) (float64, error)
	VerifyProbeMap(ctx context.Context, entry epoch.ProbeMapEntry, files []string) (bool, error)
	EpochClock(ctx context.Context, files []string) ([]clocktype.ClockType, error)
	T0T1(ctx context.Context, files []string) ([][2]float64, error)
}

// MetadataReader extracts auxiliary metadata (stimulus parameters and the
// like) from an epoch's files.
type MetadataReader interface {
	ReadMetadata(ctx context.Context, files []string) (ir.IRObject, error)
}

// Registry resolves reader names from configuration files. Names are
// resolved once, when a System is built.
type Registry struct {
	readers  map[string]Reader
	metadata map[string]MetadataReader
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers:  make(map[string]Reader),
		metadata: make(map[string]MetadataReader),
	}
}

// Register adds a reader under name, replacing any earlier one.
func (r *Registry) Register(name string, rd Reader) {
	r.readers[name] = rd
}

// RegisterMetadata adds a metadata reader under name.
func (r *Registry) RegisterMetadata(name string, mr MetadataReader) {
	r.metadata[name] = mr
}

// Reader returns the reader registered under name.
func (r *Registry) Reader(name string) (Reader, error) {
	rd, ok := r.readers[name]
	if !ok {
		return nil, ndierr.NotFound("daq.reader", "reader", name)
	}
	return rd, nil
}

// MetadataReader returns the metadata reader registered under name.
func (r *Registry) MetadataReader(name string) (MetadataReader, error) {
	mr, ok := r.metadata[name]
	if !ok {
		return nil, ndierr.NotFound("daq.metadata_reader", "metadata reader", name)
	}
	return mr, nil
}

// Names returns the registered reader names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.readers))
	for n := range r.readers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
