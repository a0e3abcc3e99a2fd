package navigation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/engagement"
	"github.com/sanonone/wayfinder/pkg/geo"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/manifest"
)

const fallback = "Follow the green signs to the info desk"

func ptr(v float64) *float64 { return &v }

// One pixel is one meter in every test floorplan.
func flatPlan() calibration.Floorplan {
	return calibration.Floorplan{ImageRef: "hall.png", PixelsPerMeter: 1}
}

func geoPlan() calibration.Floorplan {
	return calibration.Floorplan{ImageRef: "hall.png", PixelsPerMeter: 1, OriginLat: ptr(45), OriginLng: ptr(9)}
}

func buildManifest(t *testing.T, fp calibration.Floorplan, nodes []graph.Node, segs [][2]string, pois []graph.POI) *manifest.Manifest {
	t.Helper()
	g := graph.New()
	var anchors []calibration.Anchor
	for _, n := range nodes {
		require.NoError(t, g.AddNode(n))
		anchors = append(anchors, calibration.Anchor{QRAnchorID: "qr-" + n.ID, NodeID: n.ID})
	}
	for _, s := range segs {
		require.NoError(t, g.AddSegment(graph.Segment{ID: s[0] + "-" + s[1], NodeA: s[0], NodeB: s[1]}))
	}
	for _, p := range pois {
		require.NoError(t, g.AddPOI(p))
	}
	doc, err := manifest.Encode(g, fp, anchors, fallback, manifest.Meta{VenueID: "hall-a", EventID: "expo-2026"})
	require.NoError(t, err)
	m, err := manifest.FromDocument(doc)
	require.NoError(t, err)
	return m
}

// hall: A(0,0) - B(30,0) - C(30,40) is shorter than A - D(0,50) - C.
// X is isolated.
func hall(t *testing.T, fp calibration.Floorplan) *manifest.Manifest {
	return buildManifest(t, fp,
		[]graph.Node{
			{ID: "A", X: 0, Y: 0, Kind: graph.KindEntrance},
			{ID: "B", X: 30, Y: 0},
			{ID: "C", X: 30, Y: 40, Kind: graph.KindPOIAnchor},
			{ID: "D", X: 0, Y: 50},
			{ID: "X", X: 100, Y: 100},
		},
		[][2]string{{"A", "B"}, {"B", "C"}, {"A", "D"}, {"D", "C"}},
		[]graph.POI{{ID: "stage", Name: "Main Stage", X: 33, Y: 44}},
	)
}

func at(x, y float64) Position {
	return Position{Pixel: r2.Vec{X: x, Y: y}, HasPixel: true}
}

type recorder struct {
	mu           sync.Mutex
	instructions []Instruction
	changes      []StateChange
	changeCh     chan StateChange
	stopped      atomic.Bool
	late         atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{changeCh: make(chan StateChange, 64)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnInstruction: func(in Instruction) {
			if r.stopped.Load() {
				r.late.Add(1)
			}
			r.mu.Lock()
			r.instructions = append(r.instructions, in)
			r.mu.Unlock()
		},
		OnStateChange: func(c StateChange) {
			if r.stopped.Load() {
				r.late.Add(1)
			}
			r.mu.Lock()
			r.changes = append(r.changes, c)
			r.mu.Unlock()
			r.changeCh <- c
		},
	}
}

func (r *recorder) Instructions() []Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Instruction(nil), r.instructions...)
}

func (r *recorder) Changes() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.changes...)
}

func (r *recorder) waitFor(t *testing.T, reason Reason) StateChange {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-r.changeCh:
			if c.Reason == reason {
				return c
			}
		case <-timeout:
			t.Fatalf("no state change with reason %s", reason)
		}
	}
}

type transition struct {
	from, to State
	reason   Reason
}

func transitions(cs []StateChange) []transition {
	out := make([]transition, len(cs))
	for i, c := range cs {
		out[i] = transition{c.From, c.To, c.Reason}
	}
	return out
}

func TestSessionGuidesToArrival(t *testing.T) {
	ctx := context.Background()
	src := NewChannelSource(8)
	src.Publish(at(1, 1))

	rec := newRecorder()
	s, err := New(hall(t, flatPlan()), "C", DefaultConfig(), rec.callbacks())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(ctx, src))
	assert.Equal(t, StateGuiding, s.State())
	assert.Equal(t, []string{"A", "B", "C"}, s.Path())
	assert.Equal(t, 1, src.Subscribers())

	ins := rec.Instructions()
	require.Len(t, ins, 1)
	assert.Equal(t, "B", ins[0].NextNodeID, "start node within the waypoint radius is skipped")
	assert.Equal(t, geo.East, ins[0].Cardinal)
	assert.InDelta(t, 29.017, ins[0].DistanceMeters, 1e-3)
	assert.InDelta(t, 29.017+40, ins[0].RemainingMeters, 1e-3)
	assert.Equal(t, geo.TurnUnknown, ins[0].Turn)
	assert.Equal(t, "Head east for 29 m", ins[0].Text)

	src.Publish(at(30, 1))
	src.Publish(at(30, 38))
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, StateArrived, s.State())
	ins = rec.Instructions()
	require.Len(t, ins, 2)
	assert.Equal(t, "C", ins[1].NextNodeID)
	assert.Equal(t, geo.South, ins[1].Cardinal)
	assert.InDelta(t, 39, ins[1].RemainingMeters, 1e-9)
	assert.Equal(t, 0, src.Subscribers(), "arrival releases the subscription")

	assert.Equal(t, []transition{
		{StateIdle, StateRouting, ReasonComputing},
		{StateRouting, StateGuiding, ReasonRouteFound},
		{StateGuiding, StateArrived, ReasonArrived},
	}, transitions(rec.Changes()))

	// Arrived is inert.
	s.OnPositionUpdate(at(0, 0))
	assert.Len(t, rec.Instructions(), 2)
	assert.ErrorIs(t, s.Start(ctx, src), ErrInvalidTransition)
	assert.ErrorIs(t, s.OnAnchorScan(ctx, "qr-A"), ErrSessionClosed)
}

func TestSessionStartAtDestination(t *testing.T) {
	src := NewChannelSource(1)
	src.Publish(at(30, 41))
	rec := newRecorder()
	s, err := New(hall(t, flatPlan()), "C", Config{}, rec.callbacks())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), src))
	assert.Equal(t, StateArrived, s.State())
	assert.Equal(t, []string{"C"}, s.Path())
	assert.Empty(t, rec.Instructions())
	assert.Equal(t, 0, src.Subscribers())
}

func TestSessionDestinations(t *testing.T) {
	m := hall(t, flatPlan())

	_, err := New(m, "nowhere", DefaultConfig(), Callbacks{})
	assert.ErrorIs(t, err, graph.ErrUnknownNode)

	s, err := New(m, "stage", DefaultConfig(), Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "C", s.Destination())

	_, err = New(nil, "C", DefaultConfig(), Callbacks{})
	assert.Error(t, err)
}

func TestSessionNoRoute(t *testing.T) {
	src := NewChannelSource(1)
	src.Publish(at(0, 0))
	rec := newRecorder()
	s, err := New(hall(t, flatPlan()), "X", DefaultConfig(), rec.callbacks())
	require.NoError(t, err)

	err = s.Start(context.Background(), src)
	require.ErrorIs(t, err, ErrNoRoute)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Path())
	assert.Equal(t, 0, src.Subscribers())

	assert.Equal(t, []transition{
		{StateIdle, StateRouting, ReasonComputing},
		{StateRouting, StateIdle, ReasonNoRoute},
	}, transitions(rec.Changes()))
}

func TestSessionPositionUnavailable(t *testing.T) {
	src := NewChannelSource(1)
	src.Fail(errors.New("location permission denied"))

	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.MaxPositionAttempts = 3
	s, err := New(hall(t, flatPlan()), "C", cfg, rec.callbacks())
	require.NoError(t, err)

	err = s.Start(context.Background(), src)
	require.ErrorIs(t, err, ErrPositionUnavailable)
	assert.Equal(t, StateIdle, s.State())

	changes := rec.Changes()
	require.Len(t, changes, 3)
	stall := changes[1]
	assert.Equal(t, StateRouting, stall.From)
	assert.Equal(t, StateRouting, stall.To)
	assert.Equal(t, ReasonPositionUnavailable, stall.Reason)
	assert.Equal(t, fallback, stall.Fallback)
	assert.Equal(t, StateIdle, changes[2].To)
	assert.Equal(t, fallback, changes[2].Fallback)
}

func TestSessionAnchorScanEndsRoutingStall(t *testing.T) {
	src := NewChannelSource(1)
	src.Fail(ErrPositionUnavailable)

	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.RetryInterval = time.Hour
	s, err := New(hall(t, flatPlan()), "C", cfg, rec.callbacks())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background(), src) }()

	stall := rec.waitFor(t, ReasonPositionUnavailable)
	assert.Equal(t, fallback, stall.Fallback)
	assert.Equal(t, StateRouting, s.State(), "routing stalls instead of failing")

	require.NoError(t, s.OnAnchorScan(context.Background(), "qr-B"))
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not resume after the anchor scan")
	}

	assert.Equal(t, StateGuiding, s.State())
	assert.Equal(t, []string{"B", "C"}, s.Path())
	ins := rec.Instructions()
	require.Len(t, ins, 1)
	assert.Equal(t, "C", ins[0].NextNodeID)
	assert.InDelta(t, 40, ins[0].DistanceMeters, 1e-9)
	s.Stop()
}

func TestSessionStopDuringRouting(t *testing.T) {
	src := NewChannelSource(1)
	src.Fail(ErrPositionUnavailable)
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.RetryInterval = time.Hour
	s, err := New(hall(t, flatPlan()), "C", cfg, rec.callbacks())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background(), src) }()
	rec.waitFor(t, ReasonPositionUnavailable)

	s.Stop()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return after stop")
	}
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, 0, src.Subscribers())
}

// blocked: A-M-C is the short way; A-B-C goes around M.
func blocked(t *testing.T, withM bool) *manifest.Manifest {
	nodes := []graph.Node{
		{ID: "A", X: 0, Y: 0},
		{ID: "B", X: 15, Y: 20},
		{ID: "C", X: 30, Y: 0},
		{ID: "Z", X: 90, Y: 90},
	}
	segs := [][2]string{{"A", "B"}, {"B", "C"}}
	if withM {
		nodes = append(nodes, graph.Node{ID: "M", X: 15, Y: 0})
		segs = append(segs, [2]string{"A", "M"}, [2]string{"M", "C"})
	}
	return buildManifest(t, flatPlan(), nodes, segs, nil)
}

func TestSessionAnchorScanReroutes(t *testing.T) {
	ctx := context.Background()
	src := NewChannelSource(4)
	src.Publish(at(0, 0))
	rec := newRecorder()
	s, err := New(blocked(t, true), "C", DefaultConfig(), rec.callbacks())
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, src))
	require.Equal(t, []string{"A", "M", "C"}, s.Path())

	t.Run("ScanOnPathKeepsPath", func(t *testing.T) {
		before := len(rec.Changes())
		require.NoError(t, s.OnAnchorScan(ctx, "qr-A"))
		assert.Equal(t, []string{"A", "M", "C"}, s.Path())
		assert.Len(t, rec.Changes(), before)
	})

	t.Run("UnknownAnchorIsIgnored", func(t *testing.T) {
		err := s.OnAnchorScan(ctx, "qr-bogus")
		assert.ErrorIs(t, err, calibration.ErrUnknownAnchor)
		assert.Equal(t, StateGuiding, s.State())
		assert.Equal(t, []string{"A", "M", "C"}, s.Path())
	})

	t.Run("NoRouteKeepsPreviousPath", func(t *testing.T) {
		err := s.OnAnchorScan(ctx, "qr-Z")
		assert.ErrorIs(t, err, ErrNoRoute)
		assert.Equal(t, StateGuiding, s.State())
		assert.Equal(t, []string{"A", "M", "C"}, s.Path())
		cs := rec.Changes()
		assert.Equal(t, transition{StateRerouting, StateGuiding, ReasonNoRoute}, transitions(cs[len(cs)-1:])[0])
	})

	t.Run("BlockedNodeIsAvoided", func(t *testing.T) {
		require.NoError(t, s.Supersede(blocked(t, false)))
		before := len(rec.Changes())

		require.NoError(t, s.OnAnchorScan(ctx, "qr-B"))
		assert.Equal(t, StateGuiding, s.State())
		assert.Equal(t, []string{"B", "C"}, s.Path())
		assert.NotContains(t, s.Path(), "M")

		assert.Equal(t, []transition{
			{StateGuiding, StateRerouting, ReasonAnchorScan},
			{StateRerouting, StateGuiding, ReasonRerouted},
		}, transitions(rec.Changes()[before:]))

		ins := rec.Instructions()
		last := ins[len(ins)-1]
		assert.Equal(t, "C", last.NextNodeID)
		assert.InDelta(t, 25, last.DistanceMeters, 1e-9)
	})

	s.Stop()
	assert.ErrorIs(t, s.Supersede(blocked(t, false)), ErrSessionClosed)
}

func TestSessionStopIsQuiescent(t *testing.T) {
	ctx := context.Background()
	src := NewChannelSource(64)
	src.Publish(at(0, 0))
	rec := newRecorder()
	s, err := New(hall(t, flatPlan()), "C", DefaultConfig(), rec.callbacks())
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, src))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	for i := 0; i < 50; i++ {
		src.Publish(at(float64(i)*0.2, 0))
	}

	s.Stop()
	rec.stopped.Store(true)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after stop")
	}

	// An update already in flight when Stop ran is dropped.
	s.OnPositionUpdate(at(5, 0))
	s.OnPositionUpdate(Position{Heading: 90, HasHeading: true})
	_ = s.OnAnchorScan(ctx, "qr-B")
	s.Stop()

	assert.Zero(t, rec.late.Load(), "callback fired after stop")
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, 0, src.Subscribers())
	cs := rec.Changes()
	assert.Equal(t, transition{StateGuiding, StateCancelled, ReasonCancelled}, transitions(cs[len(cs)-1:])[0])
}

func TestSessionHeading(t *testing.T) {
	src := NewChannelSource(1)
	src.Publish(at(1, 1))
	rec := newRecorder()
	s, err := New(hall(t, flatPlan()), "C", DefaultConfig(), rec.callbacks())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), src))

	s.OnPositionUpdate(Position{Pixel: r2.Vec{X: 1, Y: 1}, HasPixel: true, Heading: 0, HasHeading: true})
	ins := rec.Instructions()
	last := ins[len(ins)-1]
	assert.Equal(t, geo.TurnRight, last.Turn)
	assert.Equal(t, "Turn right and head east for 29 m", last.Text)

	// Heading-only ticks re-emit guidance from the last fix.
	s.OnPositionUpdate(Position{Heading: 90, HasHeading: true})
	ins = rec.Instructions()
	last = ins[len(ins)-1]
	assert.Equal(t, geo.TurnAhead, last.Turn)
	assert.Equal(t, "Head east for 29 m", last.Text)

	s.OnPositionUpdate(Position{Heading: 270, HasHeading: true})
	ins = rec.Instructions()
	assert.Equal(t, "Turn around and head east for 29 m", ins[len(ins)-1].Text)
	s.Stop()
}

func TestSessionAnchorOverridesGPS(t *testing.T) {
	fp := geoPlan()
	gps := func(x, y, accuracy float64) Position {
		ll, ok := calibration.PixelToApproxGPS(fp, r2.Vec{X: x, Y: y})
		require.True(t, ok)
		return Position{LatLng: ll, HasLatLng: true, Accuracy: accuracy}
	}

	src := NewChannelSource(1)
	src.Publish(gps(1, 1, 5))
	rec := newRecorder()
	s, err := New(hall(t, fp), "C", DefaultConfig(), rec.callbacks())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), src))
	require.Equal(t, []string{"A", "B", "C"}, s.Path())

	require.NoError(t, s.OnAnchorScan(context.Background(), "qr-B"))
	last := func() Instruction {
		ins := rec.Instructions()
		return ins[len(ins)-1]
	}
	assert.Equal(t, "C", last().NextNodeID)
	assert.InDelta(t, 40, last().DistanceMeters, 0.01)
	assert.InDelta(t, 180, last().Bearing, 0.01)

	// Indoor GPS with a poor fix claims we are back at the entrance; the
	// anchor fix wins wholesale.
	s.OnPositionUpdate(gps(0, 0, 30))
	assert.InDelta(t, 40, last().DistanceMeters, 0.01)

	// A reliable reading takes over again.
	s.OnPositionUpdate(gps(30, 20, 4))
	assert.InDelta(t, 20, last().DistanceMeters, 0.01)
	s.Stop()
}

type scanSink struct {
	mu     sync.Mutex
	events []engagement.ScanEvent
}

func (f *scanSink) Record(_ context.Context, ev engagement.ScanEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true, nil
}

func TestSessionScanLog(t *testing.T) {
	ctx := context.Background()
	sink := &scanSink{}
	src := NewChannelSource(1)
	src.Publish(at(0, 0))
	s, err := New(hall(t, flatPlan()), "C", DefaultConfig(), Callbacks{}, WithScanRecorder(sink, "device-7"))
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx, src))

	require.NoError(t, s.OnAnchorScan(ctx, "qr-B"))
	assert.ErrorIs(t, s.OnAnchorScan(ctx, "qr-unknown"), calibration.ErrUnknownAnchor)
	require.NoError(t, s.OnAnchorScan(ctx, "qr-C"))
	assert.Equal(t, StateArrived, s.State())

	require.Len(t, sink.events, 3, "one event per physical scan")
	ids := map[string]bool{}
	for _, ev := range sink.events {
		assert.Equal(t, "device-7", ev.DeviceID)
		assert.Equal(t, "expo-2026", ev.EventID)
		assert.False(t, ev.Timestamp.IsZero())
		ids[ev.ScanID] = true
	}
	assert.Len(t, ids, 3)
	assert.Empty(t, sink.events[0].BoothID)
	assert.Equal(t, "qr-unknown", sink.events[1].AnchorID)
	assert.Equal(t, "C", sink.events[2].BoothID)

	// Scans keep being logged after arrival.
	assert.ErrorIs(t, s.OnAnchorScan(ctx, "qr-A"), ErrSessionClosed)
	assert.Len(t, sink.events, 4)
}

func TestChannelSource(t *testing.T) {
	ctx := context.Background()
	src := NewChannelSource(1)

	_, err := src.Current(ctx)
	assert.ErrorIs(t, err, ErrPositionUnavailable)

	sub, err := src.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.Publish(at(1, 2)))
	assert.Equal(t, 0, src.Publish(at(3, 4)), "full buffer drops the reading")
	assert.Equal(t, uint64(1), src.Dropped())

	got := <-sub.Updates()
	assert.Equal(t, r2.Vec{X: 1, Y: 2}, got.Pixel)

	src.Publish(Position{Heading: 45, HasHeading: true})
	cur, err := src.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, r2.Vec{X: 3, Y: 4}, cur.Pixel)
	assert.True(t, cur.HasHeading)

	src.Fail(errors.New("gps off"))
	_, err = src.Current(ctx)
	assert.EqualError(t, err, "gps off")

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, src.Subscribers())

	src.Close()
	_, err = src.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrSourceClosed)
}
