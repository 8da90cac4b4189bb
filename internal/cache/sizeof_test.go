package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/ndicore/internal/ir"
)

type fixedSize struct{}

func (fixedSize) SizeBytes() int64 { return 4096 }

func TestSizeOf(t *testing.T) {
	type row struct {
		Name  string
		Times []float64
	}

	tests := []struct {
		name string
		data any
		want int64
	}{
		{"nil", nil, 0},
		{"float64 slice", make([]float64, 100_000), 800_000},
		{"bytes", []byte("abcd"), 4},
		{"string", "hello", 5},
		{"int32 slice", make([]int32, 10), 40},
		{"sizer", fixedSize{}, 4096},
		{"ir object", ir.IRObject{"ab": ir.IRString("xyz"), "n": ir.IRInt(1)}, 2 + 3 + 1 + 8},
		{"struct", row{Name: "abc", Times: make([]float64, 4)}, 3 + 32},
		{"pointer", &row{Name: "a"}, 1},
		{"2d", [][]float64{make([]float64, 2), make([]float64, 3)}, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SizeOf(tt.data))
		})
	}
}
