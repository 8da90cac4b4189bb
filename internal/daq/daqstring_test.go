package daq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/ndierr"
)

func TestParseDaqSystemString_RoundTrip(t *testing.T) {
	ds, err := ParseDaqSystemString("dev1:ai3-5,7,9-11;di2,4-6")
	require.NoError(t, err)

	assert.Equal(t, "dev1", ds.Device)
	var types []string
	var numbers []int
	for _, c := range ds.Channels {
		types = append(types, c.Type.Abbreviation())
		numbers = append(numbers, c.Number)
	}
	assert.Equal(t, []int{3, 4, 5, 7, 9, 10, 11, 2, 4, 5, 6}, numbers)
	assert.Equal(t, []string{"ai", "ai", "ai", "ai", "ai", "ai", "ai", "di", "di", "di", "di"}, types)
	assert.Equal(t, "dev1:ai3-5,7,9-11;di2,4-6", ds.String())
}

func TestParseDaqSystemString_Canonicalizes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" dev1 : ai 1, 2, 3 ", "dev1:ai1-3"},
		{"dev1:ai1;ai2", "dev1:ai1-2"},
		{"dev1:ai5-5", "dev1:ai5"},
		{"dev1:t1;e1-2;mk3", "dev1:t1;e1-2;mk3"},
		{"dev1:analog_in4,6", "dev1:ai4,6"},
		{"dev1:", "dev1:"},
		{"dev1:ai3,1,2", "dev1:ai3,1-2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ds, err := ParseDaqSystemString(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ds.String())
		})
	}
}

func TestParseDaqSystemString_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"dev1",
		":ai1",
		"dev1:1-3",
		"dev1:xx1",
		"dev1:ai",
		"dev1:ai3-1",
		"dev1:ai1,,2",
		"dev1:ai1-",
		"dev1:ai1;",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseDaqSystemString(in)
			require.Error(t, err)
			assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
		})
	}
}

func TestDaqSystemString_NumbersAndTypes(t *testing.T) {
	ds, err := ParseDaqSystemString("dev1:ai1-2;di7;ai9")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 9}, ds.Numbers(AnalogIn))
	assert.Equal(t, []int{7}, ds.Numbers(DigitalIn))
	assert.Equal(t, []ChannelType{AnalogIn, DigitalIn}, ds.Types())
	assert.Equal(t, "dev1:ai1-2;di7;ai9", ds.String())
}
