package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNodeIdempotent(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("a")

	assert.Equal(t, 1, g.Len())
}

func TestAddEdge(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")

	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, []string{"a"}, g.Dependencies("b"))
	assert.Equal(t, []string{"b"}, g.Dependents("a"))
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g := New()
	g.AddNode("a")

	err := g.AddEdge("a", "missing")
	require.ErrorIs(t, err, ErrUnknownNode)

	err = g.AddEdge("missing", "a")
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestAddEdgeSelfReference(t *testing.T) {
	g := New()
	g.AddNode("a")

	require.Error(t, g.AddEdge("a", "a"))
}

func TestDetectCycles(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	assert.NoError(t, g.DetectCycles())

	require.NoError(t, g.AddEdge("c", "a"))
	assert.ErrorIs(t, g.DetectCycles(), ErrCycleDetected)
}

func TestTopoSort(t *testing.T) {
	g := New()
	g.AddNode("deps")
	g.AddNode("app")
	g.AddNode("test")
	g.AddNode("final")
	require.NoError(t, g.AddEdge("deps", "app"))
	require.NoError(t, g.AddEdge("app", "test"))
	require.NoError(t, g.AddEdge("test", "final"))
	require.NoError(t, g.AddEdge("deps", "final"))

	order, err := g.TopoSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"deps", "app", "test", "final"}, order)
}

func TestTopoSortCycle(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "a"))

	_, err := g.TopoSort()
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestTopoSortDeterministic(t *testing.T) {
	build := func() *Graph {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		g.AddNode("c")
		return g
	}

	first, err := build().TopoSort()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		order, err := build().TopoSort()
		require.NoError(t, err)
		assert.Equal(t, first, order)
	}
}
