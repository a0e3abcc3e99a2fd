package route

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/graph"
)

func exampleGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddNode(graph.Node{ID: "A", X: 0, Y: 0}))
	require.NoError(t, g.AddNode(graph.Node{ID: "B", X: 3, Y: 0}))
	require.NoError(t, g.AddNode(graph.Node{ID: "C", X: 3, Y: 4}))
	require.NoError(t, g.AddSegment(graph.Segment{ID: "A-B", NodeA: "A", NodeB: "B", Weight: 3}))
	require.NoError(t, g.AddSegment(graph.Segment{ID: "B-C", NodeA: "B", NodeB: "C", Weight: 4}))
	return g
}

func TestShortestPathExample(t *testing.T) {
	g := exampleGraph(t)

	p, err := ShortestPath(g, "A", "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, p.NodeIDs)
	assert.Equal(t, 7.0, p.Weight)

	w, err := PathWeight(g.BuildAdjacency(), p.NodeIDs)
	require.NoError(t, err)
	assert.Equal(t, 7.0, w)
}

func TestShortestPathEdgeCases(t *testing.T) {
	g := exampleGraph(t)

	t.Run("SameNode", func(t *testing.T) {
		p, err := ShortestPath(g, "B", "B")
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, p.NodeIDs)
		assert.True(t, p.Found())
	})

	t.Run("UnknownStart", func(t *testing.T) {
		_, err := ShortestPath(g, "X", "C")
		assert.ErrorIs(t, err, graph.ErrUnknownNode)
	})

	t.Run("UnknownEnd", func(t *testing.T) {
		_, err := ShortestPath(g, "A", "X")
		assert.ErrorIs(t, err, graph.ErrUnknownNode)
	})

	t.Run("Disconnected", func(t *testing.T) {
		d := g.Clone()
		require.NoError(t, d.AddNode(graph.Node{ID: "D", X: 100, Y: 100}))
		require.NoError(t, d.AddNode(graph.Node{ID: "E", X: 110, Y: 100}))
		require.NoError(t, d.AddSegment(graph.Segment{ID: "D-E", NodeA: "D", NodeB: "E"}))

		for _, pair := range [][2]string{{"A", "E"}, {"D", "C"}, {"B", "D"}} {
			p, err := ShortestPath(d, pair[0], pair[1])
			require.NoError(t, err)
			assert.False(t, p.Found(), "%v should be unreachable", pair)
			assert.Empty(t, p.NodeIDs)
		}
	})

	t.Run("EqualCostTieUsesIDOrder", func(t *testing.T) {
		// Diamond S -> {M1, M2} -> T with equal weights.
		d := graph.New()
		for _, n := range []graph.Node{{ID: "S"}, {ID: "M2", X: 1, Y: 1}, {ID: "M1", X: 1, Y: -1}, {ID: "T", X: 2}} {
			require.NoError(t, d.AddNode(n))
		}
		for _, s := range []graph.Segment{
			{ID: "s-m2", NodeA: "S", NodeB: "M2", Weight: 1},
			{ID: "s-m1", NodeA: "S", NodeB: "M1", Weight: 1},
			{ID: "m2-t", NodeA: "M2", NodeB: "T", Weight: 1},
			{ID: "m1-t", NodeA: "M1", NodeB: "T", Weight: 1},
		} {
			require.NoError(t, d.AddSegment(s))
		}
		for i := 0; i < 10; i++ {
			p, err := ShortestPath(d, "S", "T")
			require.NoError(t, err)
			assert.Equal(t, []string{"S", "M1", "T"}, p.NodeIDs)
		}
	})
}

func TestRouteToPoint(t *testing.T) {
	g := exampleGraph(t)
	poi := graph.POI{ID: "stage", Name: "Main Stage", X: 3.2, Y: 4.3}

	p, err := RouteToPoint(g, r2.Vec{X: -0.5, Y: 0.2}, poi)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, p.NodeIDs)

	_, err = RouteToPoint(graph.New(), r2.Vec{}, poi)
	assert.ErrorIs(t, err, graph.ErrUnknownNode)

	p, err = RouteFromPoint(g, r2.Vec{X: 2.8, Y: 0.1}, "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, p.NodeIDs)
}

// randomConnected builds a random spanning tree over n nodes plus a few extra
// segments, with integer weights.
func randomConnected(t *testing.T, rng *rand.Rand, n int) *graph.Graph {
	t.Helper()
	g := graph.New()
	for i := 0; i < n; i++ {
		require.NoError(t, g.AddNode(graph.Node{ID: fmt.Sprintf("n%d", i), X: rng.Float64() * 100, Y: rng.Float64() * 100}))
	}
	joined := map[[2]int]bool{}
	add := func(a, b int) {
		if a == b || joined[[2]int{a, b}] || joined[[2]int{b, a}] {
			return
		}
		joined[[2]int{a, b}] = true
		require.NoError(t, g.AddSegment(graph.Segment{
			ID:     fmt.Sprintf("s%d-%d", a, b),
			NodeA:  fmt.Sprintf("n%d", a),
			NodeB:  fmt.Sprintf("n%d", b),
			Weight: float64(1 + rng.Intn(9)),
		}))
	}
	for i := 1; i < n; i++ {
		add(i, rng.Intn(i))
	}
	for k := rng.Intn(n + 1); k > 0; k-- {
		add(rng.Intn(n), rng.Intn(n))
	}
	return g
}

// bruteForce enumerates every simple path and returns the minimum weight.
func bruteForce(adj graph.Adjacency, from, to string) float64 {
	best := math.Inf(1)
	seen := map[string]bool{from: true}
	var walk func(at string, acc float64)
	walk = func(at string, acc float64) {
		if at == to {
			best = math.Min(best, acc)
			return
		}
		for _, nb := range adj[at] {
			if seen[nb.ID] {
				continue
			}
			seen[nb.ID] = true
			walk(nb.ID, acc+nb.Weight)
			seen[nb.ID] = false
		}
	}
	walk(from, 0)
	return best
}

func TestShortestPathMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 60; trial++ {
		n := 2 + rng.Intn(7) // 2..8
		g := randomConnected(t, rng, n)
		adj := g.BuildAdjacency()
		ids := g.NodeIDs()

		for _, a := range ids {
			for _, b := range ids {
				p, err := ShortestPath(g, a, b)
				require.NoError(t, err)
				require.True(t, p.Found(), "trial %d: %s->%s should be reachable", trial, a, b)
				assert.Equal(t, a, p.NodeIDs[0])
				assert.Equal(t, b, p.NodeIDs[p.Len()-1])

				walked, err := PathWeight(adj, p.NodeIDs)
				require.NoError(t, err)
				assert.InDelta(t, walked, p.Weight, 1e-9)
				if a != b {
					assert.InDelta(t, bruteForce(adj, a, b), p.Weight, 1e-9, "trial %d: %s->%s", trial, a, b)
				}
			}
		}
	}
}

func TestShortestPathMatchesGonum(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	g := randomConnected(t, rng, 40)

	ids := g.NodeIDs()
	index := make(map[string]int64, len(ids))
	for i, id := range ids {
		index[id] = int64(i)
	}
	ref := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, s := range g.Segments() {
		ref.SetWeightedEdge(ref.NewWeightedEdge(simple.Node(index[s.NodeA]), simple.Node(index[s.NodeB]), s.Weight))
	}

	for _, from := range ids[:5] {
		sh := path.DijkstraFrom(simple.Node(index[from]), ref)
		for _, to := range ids {
			p, err := ShortestPath(g, from, to)
			require.NoError(t, err)
			assert.InDelta(t, sh.WeightTo(index[to]), p.Weight, 1e-9, "%s->%s", from, to)
		}
	}
}
