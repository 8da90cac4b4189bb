// Package daq models data acquisition systems: the channel naming grammar,
// channel grouping for multifunction reads, the reader interface vendors
// implement, and the probes a system records.
package daq

import (
	"sort"
	"strings"

	"github.com/roach88/ndicore/internal/clocktype"
	"github.com/roach88/ndicore/internal/ndierr"
)

// ChannelType is the kind of a channel.
type ChannelType string

const (
	AnalogIn   ChannelType = "analog_in"
	AnalogOut  ChannelType = "analog_out"
	DigitalIn  ChannelType = "digital_in"
	DigitalOut ChannelType = "digital_out"
	Auxiliary  ChannelType = "auxiliary"
	Time       ChannelType = "time"
	Event      ChannelType = "event"
	Mark       ChannelType = "mark"
)

// abbreviations are the channel type prefixes used in DaqSystemStrings.
var abbreviations = map[string]ChannelType{
	"ai": AnalogIn,
	"ao": AnalogOut,
	"di": DigitalIn,
	"do": DigitalOut,
	"ax": Auxiliary,
	"t":  Time,
	"e":  Event,
	"mk": Mark,
}

// ParseChannelType accepts a full name or its abbreviation.
func ParseChannelType(s string) (ChannelType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if ct, ok := abbreviations[s]; ok {
		return ct, nil
	}
	for _, ct := range abbreviations {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", ndierr.Invalid("daq.parse_channel_type", "unknown channel type %q", s)
}

// Abbreviation returns the DaqSystemString prefix of ct.
func (ct ChannelType) Abbreviation() string {
	for abbr, t := range abbreviations {
		if t == ct {
			return abbr
		}
	}
	return string(ct)
}

// Default group sizes per channel type.
const (
	AnalogGroupSize  = 400
	DigitalGroupSize = 512
	TimeGroupSize    = 100_000
)

// DefaultGroupSizes returns a fresh map of the default group sizes.
func DefaultGroupSizes() map[ChannelType]int {
	return map[ChannelType]int{
		AnalogIn:   AnalogGroupSize,
		AnalogOut:  AnalogGroupSize,
		Auxiliary:  AnalogGroupSize,
		DigitalIn:  DigitalGroupSize,
		DigitalOut: DigitalGroupSize,
		Time:       TimeGroupSize,
		Event:      TimeGroupSize,
		Mark:       TimeGroupSize,
	}
}

// ChannelInfo describes one channel a reader exposes.
type ChannelInfo struct {
	Name       string              `json:"name" yaml:"name"`
	Number     int                 `json:"number" yaml:"number"`
	Type       ChannelType         `json:"type" yaml:"type"`
	SampleRate float64             `json:"sample_rate" yaml:"sample_rate"`
	ClockType  clocktype.ClockType `json:"clock_type" yaml:"clock_type"`
	SourceFile string              `json:"source_file" yaml:"source_file"`
}

// ChannelGroup is a set of channels of one type read in a single call.
type ChannelGroup struct {
	Type     ChannelType
	Index    int
	Channels []int
}

// GroupIndex is floor(number / size).
func GroupIndex(number, size int) int {
	if size <= 0 {
		return 0
	}
	if number < 0 {
		return -((-number + size - 1) / size)
	}
	return number / size
}

// GroupChannels splits channels of type ct into read groups. sizes
// overrides the defaults; groups are ordered by index and keep the input
// order of their channels.
func GroupChannels(ct ChannelType, channels []int, sizes map[ChannelType]int) []ChannelGroup {
	size, ok := sizes[ct]
	if !ok {
		size = DefaultGroupSizes()[ct]
	}
	byIndex := map[int]*ChannelGroup{}
	for _, ch := range channels {
		gi := GroupIndex(ch, size)
		g, ok := byIndex[gi]
		if !ok {
			g = &ChannelGroup{Type: ct, Index: gi}
			byIndex[gi] = g
		}
		g.Channels = append(g.Channels, ch)
	}
	out := make([]ChannelGroup, 0, len(byIndex))
	for _, g := range byIndex {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
