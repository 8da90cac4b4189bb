package timesync

import (
	"github.com/roach88/ndicore/internal/clocktype"
	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// RuleClass is the document class of a persisted sync rule.
const RuleClass = "syncrule"

// Rule types.
const (
	TypeFileMatch    = "filematch"
	TypeFixedMapping = "fixedmapping"
)

// EpochNode is one epoch of one referent in one clock.
type EpochNode struct {
	Referent string
	Epoch    epoch.Entry
	Clock    clocktype.ClockType
}

// Interval is the node's span in its own clock.
func (n EpochNode) Interval() [2]float64 {
	iv, _ := n.Epoch.Interval(n.Clock)
	return iv
}

// Rule proposes an edge from a to b. ok is false when the rule does not
// apply; cost is then ignored.
type Rule interface {
	Type() string
	Apply(a, b EpochNode) (m TimeMapping, cost float64, ok bool)
	Parameters() ir.IRObject
}

// FileMatchRule maps epochs of different referents by identity when they
// share at least MinShared underlying files.
type FileMatchRule struct {
	MinShared int
}

// NewFileMatchRule returns a rule requiring n shared files, at least 1.
func NewFileMatchRule(n int) FileMatchRule {
	return FileMatchRule{MinShared: max(n, 1)}
}

func (FileMatchRule) Type() string { return TypeFileMatch }

func (r FileMatchRule) Apply(a, b EpochNode) (TimeMapping, float64, bool) {
	if a.Referent == b.Referent || a.Clock != b.Clock {
		return TimeMapping{}, 0, false
	}
	files := map[string]bool{}
	collectFiles(a.Epoch, files)
	shared := 0
	seen := map[string]bool{}
	var count func(e epoch.Entry)
	count = func(e epoch.Entry) {
		for _, f := range e.Files {
			if files[f] && !seen[f] {
				seen[f] = true
				shared++
			}
		}
		for _, u := range e.Underlying {
			count(u)
		}
	}
	count(b.Epoch)
	if shared < max(r.MinShared, 1) {
		return TimeMapping{}, 0, false
	}
	return Identity(), 1, true
}

func (r FileMatchRule) Parameters() ir.IRObject {
	return ir.Obj(ir.O("number_fullpath_matches", ir.IRInt(max(r.MinShared, 1))))
}

func collectFiles(e epoch.Entry, into map[string]bool) {
	for _, f := range e.Files {
		into[f] = true
	}
	for _, u := range e.Underlying {
		collectFiles(u, into)
	}
}

// FixedMappingRule maps one referent's clock to another's with a fixed
// polynomial. The reverse direction uses the inverse when it exists.
// Empty epoch ids match every epoch.
type FixedMappingRule struct {
	From, To           string
	FromClock, ToClock clocktype.ClockType
	FromEpoch, ToEpoch string
	Mapping            TimeMapping
	RuleCost           float64
}

func (FixedMappingRule) Type() string { return TypeFixedMapping }

func (r FixedMappingRule) matches(n EpochNode, ref string, c clocktype.ClockType, epochID string) bool {
	return n.Referent == ref && n.Clock == c && (epochID == "" || n.Epoch.ID == epochID)
}

func (r FixedMappingRule) Apply(a, b EpochNode) (TimeMapping, float64, bool) {
	if r.matches(a, r.From, r.FromClock, r.FromEpoch) && r.matches(b, r.To, r.ToClock, r.ToEpoch) {
		return r.Mapping, r.RuleCost, true
	}
	if r.matches(a, r.To, r.ToClock, r.ToEpoch) && r.matches(b, r.From, r.FromClock, r.FromEpoch) {
		inv, err := r.Mapping.Inverse()
		if err != nil {
			return TimeMapping{}, 0, false
		}
		return inv, r.RuleCost, true
	}
	return TimeMapping{}, 0, false
}

func (r FixedMappingRule) Parameters() ir.IRObject {
	coeffs := make(ir.IRArray, len(r.Mapping.coeffs()))
	for i, c := range r.Mapping.coeffs() {
		coeffs[i] = ir.IRFloat(c)
	}
	return ir.Obj(
		ir.O("from", ir.IRString(r.From)),
		ir.O("to", ir.IRString(r.To)),
		ir.O("from_clock", ir.IRString(r.FromClock)),
		ir.O("to_clock", ir.IRString(r.ToClock)),
		ir.O("from_epoch", ir.IRString(r.FromEpoch)),
		ir.O("to_epoch", ir.IRString(r.ToEpoch)),
		ir.O("mapping", coeffs),
	)
}

func ruleCost(r Rule) float64 {
	switch r := r.(type) {
	case FixedMappingRule:
		return r.RuleCost
	default:
		return 1
	}
}

// RuleDocument describes r as a syncrule document with the given id.
func RuleDocument(id, sessionID string, r Rule, priority int) *document.Document {
	return document.New(RuleClass, sessionID,
		document.WithID(id),
		document.WithName(r.Type()),
		document.WithBranch(RuleClass, ir.Obj(
			ir.O("type", ir.IRString(r.Type())),
			ir.O("cost", ir.IRFloat(ruleCost(r))),
			ir.O("priority", ir.IRInt(priority)),
			ir.O("parameters", r.Parameters()),
		)),
	)
}

// RuleFromDocument rebuilds a rule from a syncrule document.
func RuleFromDocument(d *document.Document) (Rule, error) {
	const op = "timesync.rule_from_document"
	branch, ok := d.Branch(RuleClass)
	if !ok {
		return nil, ndierr.Invalid(op, "document %s has no %s branch", d.ID(), RuleClass)
	}
	params, _ := branch["parameters"].(ir.IRObject)
	typ, _ := ir.AsString(branch["type"])
	switch typ {
	case TypeFileMatch:
		n, _ := ir.AsInt(params["number_fullpath_matches"])
		return NewFileMatchRule(int(n)), nil
	case TypeFixedMapping:
		cost, _ := ir.AsFloat(branch["cost"])
		r := FixedMappingRule{RuleCost: cost}
		r.From, r.To = stringParam(params, "from"), stringParam(params, "to")
		r.FromEpoch, r.ToEpoch = stringParam(params, "from_epoch"), stringParam(params, "to_epoch")
		var err error
		if r.FromClock, err = clocktype.Parse(stringParam(params, "from_clock")); err != nil {
			return nil, err
		}
		if r.ToClock, err = clocktype.Parse(stringParam(params, "to_clock")); err != nil {
			return nil, err
		}
		arr, _ := params["mapping"].(ir.IRArray)
		for _, v := range arr {
			f, ok := ir.AsFloat(v)
			if !ok {
				return nil, ndierr.Invalid(op, "mapping coefficient %v is not a number", v)
			}
			r.Mapping.Coeffs = append(r.Mapping.Coeffs, f)
		}
		if !r.Mapping.Valid() {
			return nil, ndierr.Invalid(op, "mapping %s has non-finite coefficients", r.Mapping)
		}
		return r, nil
	default:
		return nil, ndierr.Invalid(op, "unknown sync rule type %q", typ)
	}
}

func stringParam(params ir.IRObject, key string) string {
	s, _ := ir.AsString(params[key])
	return s
}
