package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTarjanSCC(t *testing.T) {
	tests := []struct {
		name  string
		graph dependencyGraph
		order []string
		want  [][]string
	}{
		{
			name:  "acyclic",
			graph: dependencyGraph{"a": {"b"}, "b": {"c"}, "c": {}},
			order: []string{"a", "b", "c"},
			want:  [][]string{{"c"}, {"b"}, {"a"}},
		},
		{
			name:  "two cycle",
			graph: dependencyGraph{"a": {"b"}, "b": {"a"}, "c": {"a"}},
			order: []string{"a", "b", "c"},
			want:  [][]string{{"a", "b"}, {"c"}},
		},
		{
			name:  "self loop",
			graph: dependencyGraph{"a": {"a"}},
			order: []string{"a"},
			want:  [][]string{{"a"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tarjanSCC(tt.graph, tt.order))
		})
	}
}

func TestSCCToCycle(t *testing.T) {
	graph := dependencyGraph{"a": {"b"}, "b": {"c"}, "c": {"a"}}
	c := sccToCycle([]string{"a", "b", "c"}, graph)
	assert.Equal(t, []string{"a", "b", "c", "a"}, c.Path)
	assert.Equal(t, "dependency cycle: a -> b -> c -> a", c.Message)

	self := sccToCycle([]string{"x"}, dependencyGraph{"x": {"x"}})
	assert.Equal(t, []string{"x", "x"}, self.Path)
	assert.True(t, hasSelfLoop("x", dependencyGraph{"x": {"x"}}))
	assert.False(t, hasSelfLoop("x", dependencyGraph{"x": {"y"}}))
}
