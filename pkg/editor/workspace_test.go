package editor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/manifest"
	"github.com/sanonone/wayfinder/pkg/persistence"
	"github.com/sanonone/wayfinder/pkg/route"
)

const hallLayout = `
floorplan:
  id: hall-a
  image_ref: hall-a.png
  pixels_per_meter: 10
  origin_lat: 45.0
  origin_lng: 9.0
nodes:
  - {id: entrance, x: 0, y: 0, kind: entrance}
  - {id: j1, x: 100, y: 0}
  - {id: booth-7, x: 100, y: 80, kind: poi-anchor, qr_anchor_id: qr-7}
segments:
  - {a: entrance, b: j1}
  - {a: j1, b: booth-7}
pois:
  - {id: stage, name: Main stage, x: 110, y: 90}
  - {id: wc, name: Restrooms, x: 5, y: 5, type: facility}
anchors:
  - {qr_anchor_id: qr-7, node_id: booth-7}
fallback_instruction: Ask at the information desk.
`

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func testOptions(dir string) Options {
	opts := DefaultOptions(dir)
	opts.CompactPercentage = 0
	clock := &stepClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	return opts
}

func openHall(t *testing.T, dir string) *Workspace {
	t.Helper()
	ws, err := Open(testOptions(dir))
	require.NoError(t, err)
	n, err := ws.ImportLayout(strings.NewReader(hallLayout))
	require.NoError(t, err)
	require.Equal(t, 10, n)
	return ws
}

func TestEditsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ws := openHall(t, dir)

	require.NoError(t, ws.AddNode(graph.Node{ID: "j2", X: 0, Y: 80}))
	require.NoError(t, ws.AddSegment(graph.Segment{ID: "s-j2", NodeA: "j2", NodeB: "booth-7"}))
	require.NoError(t, ws.MoveNode("j1", 100, 10))
	require.NoError(t, ws.RemovePOI("wc"))
	require.NoError(t, ws.SetFallbackInstruction("Follow the blue signs."))

	err := ws.AddSegment(graph.Segment{ID: "bad", NodeA: "j1", NodeB: "ghost"})
	require.ErrorIs(t, err, graph.ErrValidation)
	require.NoError(t, ws.Close())

	ws, err = Open(testOptions(dir))
	require.NoError(t, err)
	defer ws.Close()

	g := ws.Graph()
	assert.Equal(t, []string{"booth-7", "entrance", "j1", "j2"}, g.NodeIDs())
	assert.Equal(t, 3, g.SegmentCount())
	j1, _ := g.Node("j1")
	assert.Equal(t, 10.0, j1.Y)
	_, ok := g.POI("wc")
	assert.False(t, ok)
	assert.Equal(t, "Follow the blue signs.", ws.FallbackInstruction())

	fp, ok := ws.Floorplan()
	require.True(t, ok)
	assert.Equal(t, "hall-a.png", fp.ImageRef)
	assert.True(t, fp.Georeferenced())
	require.Len(t, ws.Anchors(), 1)
}

func TestReopenTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	ws := openHall(t, dir)
	require.NoError(t, ws.Close())

	path := filepath.Join(dir, "venue.journal")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xA5, 0x01, 0xFF, 0x00})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ws, err = Open(testOptions(dir))
	require.NoError(t, err)
	assert.Equal(t, 3, ws.Graph().NodeCount())
	require.NoError(t, ws.AddNode(graph.Node{ID: "late", X: 1, Y: 1}))
	require.NoError(t, ws.Close())

	ws, err = Open(testOptions(dir))
	require.NoError(t, err)
	defer ws.Close()
	_, ok := ws.Graph().Node("late")
	assert.True(t, ok, "edits after a repaired tail must replay")
}

func TestImportLayoutIsAtomic(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(testOptions(dir))
	require.NoError(t, err)
	defer ws.Close()

	broken := `
nodes:
  - {id: a, x: 0, y: 0}
  - {id: b, x: 10, y: 0}
segments:
  - {a: a, b: b}
  - {a: b, b: nowhere}
`
	_, err = ws.ImportLayout(strings.NewReader(broken))
	require.ErrorIs(t, err, graph.ErrValidation)
	assert.Zero(t, ws.Graph().NodeCount())
	assert.Zero(t, ws.Edits())

	_, err = ws.ImportLayout(strings.NewReader("nodes:\n  - {id: a, x: 0, y: 0, colour: red}\n"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestRegisterAnchor(t *testing.T) {
	ws := openHall(t, t.TempDir())
	defer ws.Close()

	err := ws.RegisterAnchor(calibration.Anchor{QRAnchorID: "qr-7", NodeID: "j1"})
	require.ErrorIs(t, err, calibration.ErrInvalidAnchor, "duplicate qr id")

	err = ws.RegisterAnchor(calibration.Anchor{QRAnchorID: "qr-x", NodeID: "ghost"})
	require.ErrorIs(t, err, calibration.ErrInvalidAnchor, "dangling node")

	err = ws.RegisterAnchors([]calibration.Registration{
		{QRAnchorID: "qr-1", NodeID: "entrance", EventID: "expo"},
		{QRAnchorID: "qr-2", NodeID: "ghost", EventID: "expo"},
	})
	require.Error(t, err)
	assert.Len(t, ws.Anchors(), 1, "failed batch must not register anything")

	require.NoError(t, ws.RegisterAnchors([]calibration.Registration{
		{QRAnchorID: "qr-1", NodeID: "entrance", EventID: "expo"},
		{QRAnchorID: "qr-2", NodeID: "j1", EventID: "expo"},
	}))
	assert.Len(t, ws.Anchors(), 3)

	require.NoError(t, ws.RemoveNode("j1"))
	ids := []string{}
	for _, a := range ws.Anchors() {
		ids = append(ids, a.QRAnchorID)
	}
	assert.ElementsMatch(t, []string{"qr-7", "qr-1"}, ids, "anchors follow their node")
	assert.Zero(t, ws.Graph().SegmentCount())

	require.NoError(t, ws.RemoveAnchor("qr-1"))
	assert.ErrorIs(t, ws.RemoveAnchor("qr-1"), calibration.ErrUnknownAnchor)
	assert.ErrorIs(t, ws.RemoveAnchor("qr-7"), calibration.ErrInvalidAnchor, "booth-7 declares qr-7")
}

func TestNodeDeclaredAnchors(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(testOptions(dir))
	require.NoError(t, err)

	layout := `
floorplan: {id: hall-b, image_ref: hall-b.png, pixels_per_meter: 10}
nodes:
  - {id: gate, x: 0, y: 0, kind: entrance, qr_anchor_id: qr-gate}
  - {id: desk, x: 50, y: 0}
segments:
  - {a: gate, b: desk}
`
	_, err = ws.ImportLayout(strings.NewReader(layout))
	require.NoError(t, err)
	assert.Equal(t, []calibration.Anchor{{QRAnchorID: "qr-gate", NodeID: "gate"}}, ws.Anchors())

	err = ws.AddNode(graph.Node{ID: "side", X: 0, Y: 50, QRAnchorID: "qr-gate"})
	assert.ErrorIs(t, err, calibration.ErrInvalidAnchor)
	_, ok := ws.Graph().Node("side")
	assert.False(t, ok, "rejected node must not be added")

	require.NoError(t, ws.RegisterAnchor(calibration.Anchor{QRAnchorID: "qr-desk", NodeID: "desk"}))
	err = ws.AddNode(graph.Node{ID: "side", X: 0, Y: 50, QRAnchorID: "qr-desk"})
	assert.ErrorIs(t, err, calibration.ErrInvalidAnchor, "qr-desk is bound to desk")

	lat, lng := 45.1, 9.1
	require.NoError(t, ws.RegisterAnchor(calibration.Anchor{QRAnchorID: "qr-gate", NodeID: "gate", RealWorldLat: &lat, RealWorldLng: &lng}))
	require.Len(t, ws.Anchors(), 2)
	fix, ok := ws.Anchors()[0].EnrolledFix()
	require.True(t, ok, "re-registering refreshes the enrollment fix")
	assert.Equal(t, 45.1, fix.Lat)

	m, _, err := ws.Publish("hall-b", "")
	require.NoError(t, err)
	r, err := m.Resolver(calibration.Options{})
	require.NoError(t, err)
	got, err := r.ResolveAnchorScan("qr-gate")
	require.NoError(t, err)
	assert.Equal(t, "gate", got.NodeID)

	require.NoError(t, ws.Compact())
	require.NoError(t, ws.Close())

	ws, err = Open(testOptions(dir))
	require.NoError(t, err)
	defer ws.Close()
	assert.Len(t, ws.Anchors(), 2, "replay must not duplicate declared anchors")
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	ws := openHall(t, dir)
	defer ws.Close()

	m, path, err := ws.Publish("fiera-milano", "expo-2026")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, filepath.Join(dir, "manifests", "fiera-milano"), filepath.Dir(path))
	assert.True(t, m.Graph.Frozen())
	assert.Equal(t, "expo-2026", m.EventID)
	assert.Equal(t, "Ask at the information desk.", m.FallbackInstruction)

	_, ok := m.POI("stage")
	assert.True(t, ok)
	_, ok = m.POI("wc")
	assert.False(t, ok, "only POIs of type poi are exported")

	p, err := route.ShortestPath(m.Graph, "entrance", "booth-7")
	require.NoError(t, err)
	assert.Equal(t, []string{"entrance", "j1", "booth-7"}, p.NodeIDs)
	assert.InDelta(t, 180.0, p.Weight, 1e-9)

	// The published manifest does not see later edits.
	require.NoError(t, ws.AddNode(graph.Node{ID: "j9", X: 50, Y: 50}))
	assert.Equal(t, 3, m.Graph.NodeCount())

	m2, _, err := ws.Publish("fiera-milano", "expo-2026")
	require.NoError(t, err)
	assert.NotEqual(t, m.ID, m2.ID)

	latest, err := ws.LatestManifest("fiera-milano")
	require.NoError(t, err)
	assert.Equal(t, m2.ID, latest.ID)
	assert.Equal(t, 4, latest.Graph.NodeCount())

	paths, err := ws.Archive().List("fiera-milano")
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	raw, data, err := ws.Archive().LatestRaw("fiera-milano")
	require.NoError(t, err)
	assert.Same(t, latest, raw, "decoded manifest comes from the cache")
	onDisk, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, onDisk, data)

	venues, err := ws.Archive().Venues()
	require.NoError(t, err)
	assert.Equal(t, []string{"fiera-milano"}, venues)
}

func TestPublishErrors(t *testing.T) {
	ws, err := Open(testOptions(t.TempDir()))
	require.NoError(t, err)
	defer ws.Close()

	_, _, err = ws.Publish("venue", "")
	assert.ErrorIs(t, err, ErrNoFloorplan)

	for _, bad := range []string{"", "..", "a/b", `a\b`} {
		_, _, err = ws.Publish(bad, "")
		assert.ErrorIs(t, err, ErrInvalidVenue, bad)
	}

	require.NoError(t, ws.SetFloorplan(calibration.Floorplan{ImageRef: "x.png", PixelsPerMeter: 5}))
	_, _, err = ws.Publish("venue", "")
	assert.ErrorIs(t, err, manifest.ErrFormat, "an empty graph is not publishable")

	_, err = ws.LatestManifest("venue")
	assert.ErrorIs(t, err, ErrNoManifest)

	assert.ErrorIs(t, ws.SetFloorplan(calibration.Floorplan{ImageRef: "x.png"}), graph.ErrValidation)
}

type refusingJournal struct {
	persistence.Writer
}

func (refusingJournal) ReplaceWith(string) error { return errors.New("disk full") }

func TestCompactFailureKeepsJournal(t *testing.T) {
	dir := t.TempDir()
	ws := openHall(t, dir)
	ws.mu.Lock()
	ws.journal = refusingJournal{ws.journal}
	ws.mu.Unlock()

	require.Error(t, ws.Compact())
	assert.NoFileExists(t, filepath.Join(dir, "venue.journal.tmp"))

	require.NoError(t, ws.MoveNode("j1", 120, 0))
	require.NoError(t, ws.Close())

	ws, err := Open(testOptions(dir))
	require.NoError(t, err)
	defer ws.Close()
	n, ok := ws.Graph().Node("j1")
	require.True(t, ok)
	assert.Equal(t, 120.0, n.X)
}

func TestCompact(t *testing.T) {
	dir := t.TempDir()
	ws := openHall(t, dir)

	for i := 0; i < 50; i++ {
		require.NoError(t, ws.MoveNode("j1", float64(100+i), 0))
	}
	require.NoError(t, ws.journal.Sync())
	before, err := ws.journal.Size()
	require.NoError(t, err)

	require.NoError(t, ws.Compact())
	after, err := ws.journal.Size()
	require.NoError(t, err)
	assert.Less(t, after, before)
	assert.Zero(t, ws.Edits())

	require.NoError(t, ws.RemovePOI("stage"))
	require.NoError(t, ws.Close())
	assert.True(t, errors.Is(ws.Compact(), ErrClosed))

	ws, err = Open(testOptions(dir))
	require.NoError(t, err)
	defer ws.Close()
	g := ws.Graph()
	j1, _ := g.Node("j1")
	assert.Equal(t, 149.0, j1.X)
	_, ok := g.POI("stage")
	assert.False(t, ok)
	assert.Len(t, ws.Anchors(), 1)
	assert.Equal(t, "Ask at the information desk.", ws.FallbackInstruction())
}

func TestClosedWorkspace(t *testing.T) {
	ws, err := Open(testOptions(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())
	assert.ErrorIs(t, ws.AddNode(graph.Node{ID: "a"}), ErrClosed)
}
