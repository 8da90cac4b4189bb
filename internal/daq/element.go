package daq

import (
	"context"
	"slices"
	"strconv"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ndierr"
)

// EpochSource is anything with an identity and an epoch table. Probes and
// elements are epoch sources, and either can underlie an element.
type EpochSource interface {
	ID() string
	SessionID() string
	EpochTable(ctx context.Context) ([]epoch.Entry, error)
}

var (
	_ EpochSource = (*Probe)(nil)
	_ EpochSource = (*Element)(nil)
)

// Element is a signal derived from another epoch source, such as sorted
// units from a probe. Its epochs mirror the source's and nest them as
// underlying epochs.
type Element struct {
	Name      string
	Reference int
	Type      string

	id         string
	underlying EpochSource
}

// NewElement derives an element from src. The name must be an identifier.
func NewElement(name string, reference int, typ string, src EpochSource) (*Element, error) {
	if !epoch.ValidProbeName(name) {
		return nil, ndierr.Invalid("daq.new_element", "element name %q is not an identifier", name)
	}
	if reference < 0 {
		return nil, ndierr.Invalid("daq.new_element", "reference must be >= 0, got %d", reference)
	}
	if src == nil {
		return nil, ndierr.Invalid("daq.new_element", "an underlying source is required")
	}
	return &Element{
		Name:       name,
		Reference:  reference,
		Type:       typ,
		id:         entityID("element", src.ID(), name, strconv.Itoa(reference), typ),
		underlying: src,
	}, nil
}

func (el *Element) ID() string              { return el.id }
func (el *Element) SessionID() string       { return el.underlying.SessionID() }
func (el *Element) Underlying() EpochSource { return el.underlying }

// EpochTable returns one epoch per underlying epoch, with the same id,
// clocks and intervals.
func (el *Element) EpochTable(ctx context.Context) ([]epoch.Entry, error) {
	src, err := el.underlying.EpochTable(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]epoch.Entry, len(src))
	for i, u := range src {
		out[i] = epoch.Entry{
			Number:     i + 1,
			ID:         u.ID,
			SessionID:  u.SessionID,
			Clocks:     slices.Clone(u.Clocks),
			T0T1:       slices.Clone(u.T0T1),
			Underlying: []epoch.Entry{u.Clone()},
		}
	}
	return out, nil
}

// Document describes the element. It depends on its underlying source.
func (el *Element) Document() *document.Document {
	d := document.New(ElementClass, el.SessionID(),
		document.WithID(el.id),
		document.WithName(el.Name),
		document.WithSuperclasses("base"),
		document.WithBranch(ElementClass, elementBranch(el.Name, el.Reference, el.Type, false)),
	)
	d.SetDependency("underlying_element_id", el.underlying.ID())
	return d
}
