package daq

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/roach88/ndicore/internal/ndierr"
)

// ChannelRef is one channel in a DaqSystemString.
type ChannelRef struct {
	Type   ChannelType
	Number int
}

// DaqSystemString names a device and a list of its channels:
//
//	dev1:ai3-5,7,9-11;di2,4-6
type DaqSystemString struct {
	Device   string
	Channels []ChannelRef
}

// ParseDaqSystemString parses s. Whitespace is ignored.
func ParseDaqSystemString(s string) (DaqSystemString, error) {
	const op = "daq.parse_daqsystemstring"
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	device, rest, ok := strings.Cut(s, ":")
	if !ok || device == "" {
		return DaqSystemString{}, ndierr.Invalid(op, "%q: want <device>:<channels>", s)
	}
	out := DaqSystemString{Device: device}
	if rest == "" {
		return out, nil
	}
	for _, seg := range strings.Split(rest, ";") {
		boundary := strings.IndexFunc(seg, unicode.IsDigit)
		if boundary <= 0 {
			return DaqSystemString{}, ndierr.Invalid(op, "segment %q: want <type><ranges>", seg)
		}
		ct, err := ParseChannelType(seg[:boundary])
		if err != nil {
			return DaqSystemString{}, ndierr.Invalid(op, "segment %q: %v", seg, err)
		}
		for _, r := range strings.Split(seg[boundary:], ",") {
			lo, hi, err := parseRange(r)
			if err != nil {
				return DaqSystemString{}, ndierr.Invalid(op, "segment %q: %v", seg, err)
			}
			for n := lo; n <= hi; n++ {
				out.Channels = append(out.Channels, ChannelRef{Type: ct, Number: n})
			}
		}
	}
	return out, nil
}

func parseRange(r string) (int, int, error) {
	a, b, isRange := strings.Cut(r, "-")
	lo, err := strconv.Atoi(a)
	if err != nil || lo < 0 {
		return 0, 0, ndierr.Invalid("daq.parse_range", "bad channel number %q", a)
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := strconv.Atoi(b)
	if err != nil || hi < lo {
		return 0, 0, ndierr.Invalid("daq.parse_range", "bad channel range %q", r)
	}
	return lo, hi, nil
}

// String renders the canonical form: consecutive channels of one type share
// a segment and runs of consecutive numbers collapse to a-b.
func (d DaqSystemString) String() string {
	var sb strings.Builder
	sb.WriteString(d.Device)
	sb.WriteByte(':')
	for i := 0; i < len(d.Channels); {
		ct := d.Channels[i].Type
		j := i
		for j < len(d.Channels) && d.Channels[j].Type == ct {
			j++
		}
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(ct.Abbreviation())
		writeRuns(&sb, d.Channels[i:j])
		i = j
	}
	return sb.String()
}

func writeRuns(sb *strings.Builder, refs []ChannelRef) {
	for i := 0; i < len(refs); {
		j := i
		for j+1 < len(refs) && refs[j+1].Number == refs[j].Number+1 {
			j++
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(refs[i].Number))
		if j > i {
			sb.WriteByte('-')
			sb.WriteString(strconv.Itoa(refs[j].Number))
		}
		i = j + 1
	}
}

// Numbers returns the channel numbers of type ct in order.
func (d DaqSystemString) Numbers(ct ChannelType) []int {
	var out []int
	for _, c := range d.Channels {
		if c.Type == ct {
			out = append(out, c.Number)
		}
	}
	return out
}

// Types returns the distinct channel types in order of first appearance.
func (d DaqSystemString) Types() []ChannelType {
	var out []ChannelType
	seen := map[ChannelType]bool{}
	for _, c := range d.Channels {
		if !seen[c.Type] {
			seen[c.Type] = true
			out = append(out, c.Type)
		}
	}
	return out
}
