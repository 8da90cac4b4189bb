package daq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/ndicore/internal/clocktype"
	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/ir"
)

// Document classes of measurement sources.
const (
	ElementClass = "element"
	ProbeClass   = "probe"
	ChannelClass = "channel"
)

// entityID derives a stable identifier from parts, so regenerating the
// documents of a system yields the same ids.
func entityID(parts ...string) string {
	return ir.HashStrings(ir.DomainEntity, parts)[:ident.Len]
}

// Probe is a (name, reference, type) measurement source recorded by a DAQ
// system.
type Probe struct {
	Name          string
	Reference     int
	Type          string
	SubjectString string

	id     string
	system *System
}

func newProbe(s *System, pm epoch.ProbeMapEntry) *Probe {
	return &Probe{
		Name:          pm.Name,
		Reference:     pm.Reference,
		Type:          pm.Type,
		SubjectString: pm.SubjectString,
		id:            entityID("probe", s.id, pm.Key()),
		system:        s,
	}
}

func (p *Probe) ID() string        { return p.id }
func (p *Probe) SessionID() string { return p.system.SessionID() }
func (p *Probe) System() *System   { return p.system }

// Key is name|reference|type.
func (p *Probe) Key() string {
	return p.Name + "|" + strconv.Itoa(p.Reference) + "|" + p.Type
}

// String renders the probe as name_reference.
func (p *Probe) String() string {
	return p.Name + "_" + strconv.Itoa(p.Reference)
}

func (p *Probe) mapEntry(e epoch.Entry) (epoch.ProbeMapEntry, bool) {
	for _, pm := range e.ProbeMap {
		if pm.Key() == p.Key() && p.system.names(pm) {
			return pm, true
		}
	}
	return epoch.ProbeMapEntry{}, false
}

// EpochTable returns the system epochs in which the probe was recorded.
// Each entry's probe map is narrowed to this probe and epochs are
// renumbered from 1.
func (p *Probe) EpochTable(ctx context.Context) ([]epoch.Entry, error) {
	table, err := p.system.EpochTable(ctx)
	if err != nil {
		return nil, err
	}
	var out []epoch.Entry
	for _, e := range table {
		pm, ok := p.mapEntry(e)
		if !ok {
			continue
		}
		e.ProbeMap = []epoch.ProbeMapEntry{pm}
		e.Number = len(out) + 1
		out = append(out, e)
	}
	return out, nil
}

// DeviceStrings returns the parsed device strings of the probe in epoch e
// that address its system.
func (p *Probe) DeviceStrings(e epoch.Entry) ([]DaqSystemString, error) {
	pm, ok := p.mapEntry(e)
	if !ok {
		return nil, nil
	}
	var out []DaqSystemString
	for _, raw := range pm.DeviceStrings {
		ds, err := ParseDaqSystemString(raw)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", p, err)
		}
		if ds.Device == p.system.Name() {
			out = append(out, ds)
		}
	}
	return out, nil
}

// Channels returns the channels the probe uses in epoch e, in device
// string order.
func (p *Probe) Channels(e epoch.Entry) ([]ChannelRef, error) {
	dss, err := p.DeviceStrings(e)
	if err != nil {
		return nil, err
	}
	var out []ChannelRef
	for _, ds := range dss {
		out = append(out, ds.Channels...)
	}
	return out, nil
}

// ReadSamples reads samples s0..s1 of every channel of type ct the probe
// uses in an epoch.
func (p *Probe) ReadSamples(ctx context.Context, epochID string, ct ChannelType, s0, s1 int64) ([][]float64, error) {
	e, err := p.system.epoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	refs, err := p.Channels(e)
	if err != nil {
		return nil, err
	}
	var numbers []int
	for _, r := range refs {
		if r.Type == ct {
			numbers = append(numbers, r.Number)
		}
	}
	return p.system.ReadChannels(ctx, ct, numbers, epochID, s0, s1)
}

// Document describes the probe as a probe document depending on its DAQ
// system. subject_id is left empty; the session fills it from the subject
// document matching SubjectString when the probe is stored.
func (p *Probe) Document() *document.Document {
	d := document.New(ProbeClass, p.SessionID(),
		document.WithID(p.id),
		document.WithName(p.String()),
		document.WithSuperclasses(ElementClass, "base"),
		document.WithBranch(ElementClass, elementBranch(p.Name, p.Reference, p.Type, true)),
		document.WithBranch(ProbeClass, ir.Obj(
			ir.O("daqsystem_id", ir.IRString(p.system.ID())),
			ir.O("subject_id", ir.IRString("")),
			ir.O("subject_string", ir.IRString(p.SubjectString)),
		)),
	)
	d.SetDependency("daqsystem_id", p.system.ID())
	return d
}

// ChannelDocuments returns one channel document per channel per epoch,
// each depending on the probe and the system.
func (p *Probe) ChannelDocuments(ctx context.Context) ([]*document.Document, error) {
	table, err := p.EpochTable(ctx)
	if err != nil {
		return nil, err
	}
	var docs []*document.Document
	for _, e := range table {
		refs, err := p.Channels(e)
		if err != nil {
			return nil, err
		}
		clock := clocktype.NoTime
		if len(e.Clocks) > 0 {
			clock = e.Clocks[0]
		}
		source := ""
		if len(e.Files) > 0 {
			source = e.Files[0]
		}
		for _, r := range refs {
			name := r.Type.Abbreviation() + strconv.Itoa(r.Number)
			d := document.New(ChannelClass, p.SessionID(),
				document.WithID(entityID("channel", p.id, e.ID, string(r.Type), strconv.Itoa(r.Number))),
				document.WithName(name),
				document.WithSuperclasses(ElementClass, "base"),
				document.WithBranch(ElementClass, elementBranch(name, p.Reference, string(r.Type), true)),
				document.WithBranch(ChannelClass, ir.Obj(
					ir.O("number", ir.IRInt(r.Number)),
					ir.O("type", ir.IRString(r.Type)),
					ir.O("clock_type", ir.IRString(clock)),
					ir.O("source_file", ir.IRString(source)),
					ir.O("epoch_id", ir.IRString(e.ID)),
				)),
			)
			d.SetDependency("probe_id", p.id)
			d.SetDependency("daqsystem_id", p.system.ID())
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func elementBranch(name string, reference int, typ string, direct bool) ir.IRObject {
	return ir.Obj(
		ir.O("name", ir.IRString(name)),
		ir.O("reference", ir.IRInt(reference)),
		ir.O("type", ir.IRString(typ)),
		ir.O("direct", ir.IRBool(direct)),
	)
}
