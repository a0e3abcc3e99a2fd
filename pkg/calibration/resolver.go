package calibration

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/geo"
)

// FixSource tells where a position fix came from.
type FixSource int

const (
	SourceNone FixSource = iota
	SourceGPS
	SourceAnchor
	// SourcePixel marks positions that arrive already in floorplan space,
	// such as an indoor positioning system or a simulator.
	SourcePixel
)

func (s FixSource) String() string {
	switch s {
	case SourceGPS:
		return "gps"
	case SourceAnchor:
		return "anchor"
	case SourcePixel:
		return "pixel"
	default:
		return "none"
	}
}

// Fix is a resolved position. Anchor fixes always carry a pixel position and
// node id; GPS fixes carry a pixel position only on georeferenced floorplans.
type Fix struct {
	Source    FixSource
	AnchorID  string
	NodeID    string
	Pixel     r2.Vec
	HasPixel  bool
	LatLng    geo.LatLng
	HasLatLng bool
	// Accuracy is the reported GPS accuracy radius in meters; 0 for anchors.
	Accuracy float64
	At       time.Time
}

// GPSReading is a raw fix from the device location service. Accuracy is the
// radius in meters; zero or negative means unknown.
type GPSReading struct {
	LatLng   geo.LatLng
	Accuracy float64
	At       time.Time
}

// DefaultReliableAccuracy is the GPS accuracy, in meters, at or below which
// GPS takes back authority from a held anchor fix.
const DefaultReliableAccuracy = 8.0

// Options tunes a Resolver.
type Options struct {
	// ReliableAccuracy is the accuracy threshold (meters) for trusting GPS
	// over a held anchor fix. Zero selects DefaultReliableAccuracy.
	ReliableAccuracy float64
	Logger           *slog.Logger
	Now              func() time.Time
}

// Resolver owns the anchor table of one venue and the drift-correction state
// of one device. It is safe for concurrent use.
type Resolver struct {
	floorplan Floorplan
	anchors   map[string]Anchor
	nodes     NodeLocator
	opts      Options

	mu   sync.Mutex
	held *Fix
}

// NewResolver validates the anchors against nodes and builds a resolver.
func NewResolver(fp Floorplan, anchors []Anchor, nodes NodeLocator, opts Options) (*Resolver, error) {
	if err := ValidateAnchors(anchors, nodes); err != nil {
		return nil, err
	}
	if opts.ReliableAccuracy <= 0 {
		opts.ReliableAccuracy = DefaultReliableAccuracy
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Resolver{
		floorplan: fp,
		anchors:   make(map[string]Anchor, len(anchors)),
		nodes:     nodes,
		opts:      opts,
	}
	for _, a := range anchors {
		r.anchors[a.QRAnchorID] = a
	}
	return r, nil
}

// Floorplan returns the floorplan the resolver converts against.
func (r *Resolver) Floorplan() Floorplan { return r.floorplan }

// Lookup returns the anchor registered under id without touching the held fix.
func (r *Resolver) Lookup(id string) (Anchor, error) {
	a, ok := r.anchors[id]
	if !ok {
		return Anchor{}, fmt.Errorf("%w: %q", ErrUnknownAnchor, id)
	}
	return a, nil
}

// ResolveAnchorScan turns a scanned code into an authoritative fix at the
// anchor's node. The fix is held, overriding GPS, until the next scan or
// until Observe sees a reliable GPS reading.
func (r *Resolver) ResolveAnchorScan(id string) (Fix, error) {
	a, err := r.Lookup(id)
	if err != nil {
		return Fix{}, err
	}
	n, ok := r.nodes.Node(a.NodeID)
	if !ok {
		// Anchors are validated on construction; the node can only be missing
		// if the locator changed underneath us.
		return Fix{}, fmt.Errorf("%w: %q bound to missing node %q", ErrInvalidAnchor, id, a.NodeID)
	}

	fix := Fix{
		Source:   SourceAnchor,
		AnchorID: id,
		NodeID:   n.ID,
		Pixel:    n.Pos(),
		HasPixel: true,
		At:       r.opts.Now(),
	}
	if ll, ok := PixelToApproxGPS(r.floorplan, fix.Pixel); ok {
		fix.LatLng, fix.HasLatLng = ll, true
	} else if ll, ok := a.EnrolledFix(); ok {
		fix.LatLng, fix.HasLatLng = ll, true
	}

	r.mu.Lock()
	r.held = &fix
	r.mu.Unlock()

	r.opts.Logger.Debug("anchor fix acquired", "anchor_id", id, "node_id", n.ID)
	return fix, nil
}

// Observe applies the drift-correction policy to a GPS reading and returns
// the position the device should use. A held anchor fix wins unless the
// reading is at least as accurate as ReliableAccuracy, in which case the hold
// is released and GPS is used from then on.
func (r *Resolver) Observe(reading GPSReading) Fix {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held != nil {
		if !r.reliable(reading) {
			return *r.held
		}
		r.opts.Logger.Debug("gps reliable again, releasing anchor fix",
			"anchor_id", r.held.AnchorID, "accuracy_m", reading.Accuracy)
		r.held = nil
	}
	return r.gpsFix(reading)
}

func (r *Resolver) reliable(reading GPSReading) bool {
	return reading.Accuracy > 0 && reading.Accuracy <= r.opts.ReliableAccuracy
}

func (r *Resolver) gpsFix(reading GPSReading) Fix {
	at := reading.At
	if at.IsZero() {
		at = r.opts.Now()
	}
	fix := Fix{
		Source:    SourceGPS,
		LatLng:    reading.LatLng,
		HasLatLng: true,
		Accuracy:  reading.Accuracy,
		At:        at,
	}
	if p, ok := GPSToApproxPixel(r.floorplan, reading.LatLng); ok {
		fix.Pixel, fix.HasPixel = p, true
	}
	return fix
}

// Current returns the held anchor fix, if any.
func (r *Resolver) Current() (Fix, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held == nil {
		return Fix{}, false
	}
	return *r.held, true
}

// Release drops the held anchor fix.
func (r *Resolver) Release() {
	r.mu.Lock()
	r.held = nil
	r.mu.Unlock()
}
