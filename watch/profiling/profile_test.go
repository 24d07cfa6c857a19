package profiling_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Emyrk/callgraph/callgraph"
	"github.com/Emyrk/callgraph/watch/profiling"
)

const folded = `
# main calls foo calls bar
main;foo;bar 10
main;foo 5
`

func TestConvertFolded(t *testing.T) {
	converter := profiling.New()
	p, err := converter.ConvertFolded(strings.NewReader(folded))
	require.NoError(t, err)
	require.Len(t, p.Function, 3)
	require.Len(t, p.Location, 3)
	require.Len(t, p.Sample, 2)

	leaf := p.Sample[0].Location[0]
	require.Equal(t, "bar", leaf.Line[0].Function.Name)
	require.Equal(t, []int64{10}, p.Sample[0].Value)

	g, err := callgraph.BuildFromProfile(p, 0)
	require.NoError(t, err)
	require.Equal(t, int64(15), g.GrandTotal)
	require.Equal(t, "main", g.Nodes[0].Function.Name)
	require.Equal(t, "foo", g.Nodes[1].Function.Name)
	require.Equal(t, "bar", g.Nodes[2].Function.Name)
	require.Equal(t, int64(5), g.Nodes[1].SelfTime)
}

func TestConvertFoldedEncode(t *testing.T) {
	converter := profiling.New()
	_, err := converter.ConvertFolded(strings.NewReader(folded))
	require.NoError(t, err)

	data, err := converter.Encode()
	require.NoError(t, err)

	p, err := callgraph.ParseProfile(bytes.NewReader(data))
	require.NoError(t, err)
	g, err := callgraph.BuildFromProfile(p, 0)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)
	require.Len(t, g.Edges, 2)
}

func TestConvertFoldedErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "no weight", line: "main;foo"},
		{name: "bad weight", line: "main;foo ten"},
		{name: "empty frame", line: "main;;foo 1"},
		{name: "weight only", line: " 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := profiling.New().AddFolded(tt.line)
			require.Error(t, err)
		})
	}

	_, err := profiling.New().ConvertFolded(strings.NewReader("main 1\nmain;foo x\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestConvertFoldedNegativeWeight(t *testing.T) {
	converter := profiling.New()
	require.NoError(t, converter.AddFolded("main;foo -3"))

	_, err := callgraph.BuildFromProfile(converter.Profile(), 0)
	require.ErrorIs(t, err, callgraph.ErrInvalidSample)
}
