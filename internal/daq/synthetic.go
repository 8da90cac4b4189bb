package daq

import (
	"context"
	"slices"
	"strconv"

	"github.com/roach88/ndicore/internal/clocktype"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ndierr"
)

// SyntheticReader serves generated data with the same layout for every
// epoch. Sample s of channel c is c*1e6 + s. It backs demos and tests that
// need a reader without vendor files.
type SyntheticReader struct {
	ChannelList []ChannelInfo
	Rate        float64
	Samples     int64
	Clocks      []clocktype.ClockType
}

var _ Reader = (*SyntheticReader)(nil)

// NewSyntheticReader returns a reader with n analog_in channels numbered
// from 1 and a single dev_local_time clock.
func NewSyntheticReader(n int, rate float64, samples int64) *SyntheticReader {
	r := &SyntheticReader{Rate: rate, Samples: samples, Clocks: []clocktype.ClockType{clocktype.DevLocalTime}}
	for i := 1; i <= n; i++ {
		r.ChannelList = append(r.ChannelList, ChannelInfo{
			Name:       AnalogIn.Abbreviation() + strconv.Itoa(i),
			Number:     i,
			Type:       AnalogIn,
			SampleRate: rate,
			ClockType:  clocktype.DevLocalTime,
		})
	}
	return r
}

func (r *SyntheticReader) Channels(ctx context.Context, files []string) ([]ChannelInfo, error) {
	out := slices.Clone(r.ChannelList)
	if len(files) > 0 {
		for i := range out {
			out[i].SourceFile = files[0]
		}
	}
	return out, nil
}

func (r *SyntheticReader) has(ct ChannelType, n int) bool {
	return slices.ContainsFunc(r.ChannelList, func(c ChannelInfo) bool { return c.Type == ct && c.Number == n })
}

func (r *SyntheticReader) ReadSamples(ctx context.Context, ct ChannelType, channels []int, files []string, s0, s1 int64) ([][]float64, error) {
	const op = "daq.synthetic.read"
	if s0 < 0 || s1 < s0 || s1 >= r.Samples {
		return nil, ndierr.Invalid(op, "sample range [%d, %d] outside [0, %d)", s0, s1, r.Samples)
	}
	out := make([][]float64, len(channels))
	for i, ch := range channels {
		if !r.has(ct, ch) {
			return nil, ndierr.NotFound(op, "channel", string(ct)+strconv.Itoa(ch))
		}
		col := make([]float64, 0, s1-s0+1)
		for s := s0; s <= s1; s++ {
			col = append(col, float64(ch)*1e6+float64(s))
		}
		out[i] = col
	}
	return out, nil
}

func (r *SyntheticReader) SampleRate(ctx context.Context, files []string, ct ChannelType, channel int) (float64, error) {
	if !r.has(ct, channel) {
		return 0, ndierr.NotFound("daq.synthetic.sample_rate", "channel", string(ct)+strconv.Itoa(channel))
	}
	return r.Rate, nil
}

// VerifyProbeMap accepts an entry when every device string parses and
// names only channels the reader has.
func (r *SyntheticReader) VerifyProbeMap(ctx context.Context, entry epoch.ProbeMapEntry, files []string) (bool, error) {
	for _, s := range entry.DeviceStrings {
		ds, err := ParseDaqSystemString(s)
		if err != nil {
			return false, nil
		}
		for _, c := range ds.Channels {
			if !r.has(c.Type, c.Number) {
				return false, nil
			}
		}
	}
	return true, nil
}

func (r *SyntheticReader) EpochClock(ctx context.Context, files []string) ([]clocktype.ClockType, error) {
	return slices.Clone(r.Clocks), nil
}

// T0T1 spans the samples in seconds for every clock.
func (r *SyntheticReader) T0T1(ctx context.Context, files []string) ([][2]float64, error) {
	end := 0.0
	if r.Rate > 0 && r.Samples > 0 {
		end = float64(r.Samples-1) / r.Rate
	}
	out := make([][2]float64, len(r.Clocks))
	for i := range out {
		out[i] = [2]float64{0, end}
	}
	return out, nil
}
