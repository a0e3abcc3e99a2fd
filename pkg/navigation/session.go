package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/engagement"
	"github.com/sanonone/wayfinder/pkg/geo"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/manifest"
	"github.com/sanonone/wayfinder/pkg/metrics"
	"github.com/sanonone/wayfinder/pkg/route"
)

// Config holds the guidance thresholds.
type Config struct {
	// ArrivalRadiusMeters is the distance to the destination at which the
	// session arrives.
	ArrivalRadiusMeters float64 `yaml:"arrival_radius_m" validate:"gt=0"`
	// WaypointRadiusMeters is the distance at which an intermediate path
	// node counts as visited.
	WaypointRadiusMeters float64 `yaml:"waypoint_radius_m" validate:"gt=0"`
	// ReliableAccuracyMeters is the GPS accuracy that releases a held
	// anchor fix.
	ReliableAccuracyMeters float64 `yaml:"gps_reliable_accuracy_m" validate:"gt=0"`
	// RetryInterval paces position acquisition while Routing is stalled.
	RetryInterval time.Duration `yaml:"position_retry_interval" validate:"gt=0"`
	// MaxPositionAttempts bounds acquisition; 0 retries until the context
	// ends.
	MaxPositionAttempts int `yaml:"max_position_attempts" validate:"gte=0"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ArrivalRadiusMeters:    3,
		WaypointRadiusMeters:   2,
		ReliableAccuracyMeters: calibration.DefaultReliableAccuracy,
		RetryInterval:          2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ArrivalRadiusMeters <= 0 {
		c.ArrivalRadiusMeters = d.ArrivalRadiusMeters
	}
	if c.WaypointRadiusMeters <= 0 {
		c.WaypointRadiusMeters = d.WaypointRadiusMeters
	}
	if c.ReliableAccuracyMeters <= 0 {
		c.ReliableAccuracyMeters = d.ReliableAccuracyMeters
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	return c
}

// ScanRecorder receives the anonymous scan log. engagement.ScanLogger
// implements it.
type ScanRecorder interface {
	Record(ctx context.Context, ev engagement.ScanEvent) (bool, error)
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithScanRecorder emits one scan event per OnAnchorScan call, tagged with
// deviceID.
func WithScanRecorder(rec ScanRecorder, deviceID string) Option {
	return func(s *Session) {
		s.scans = rec
		s.deviceID = deviceID
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(s *Session) { s.id = id }
}

type waypoint struct {
	id    string
	pixel r2.Vec
	ll    geo.LatLng
	hasLL bool
}

// Session is one navigation attempt toward a destination node. Create it with
// New and drive it with Start followed by Run, or by calling OnPositionUpdate
// and OnAnchorScan directly.
type Session struct {
	id       string
	cfg      Config
	cb       Callbacks
	log      *slog.Logger
	now      func() time.Time
	scans    ScanRecorder
	deviceID string

	// wake interrupts the acquisition backoff when an anchor is scanned.
	wake chan struct{}

	mu       sync.Mutex
	state    State
	man      *manifest.Manifest
	resolver *calibration.Resolver
	destID   string
	destPOI  string
	stale    bool

	path    []waypoint
	rest    []float64
	next    int
	lastFix *calibration.Fix
	heading float64
	hasHead bool

	sub           Subscription
	cancelAcquire context.CancelFunc
}

// New creates an idle session. destID is a node id or the id of an exported
// POI, which is snapped to its nearest node. An unknown destination fails with
// graph.ErrUnknownNode.
func New(m *manifest.Manifest, destID string, cfg Config, cb Callbacks, opts ...Option) (*Session, error) {
	if m == nil || m.Graph == nil {
		return nil, errors.New("navigation: manifest is required")
	}
	s := &Session{
		id:   uuid.NewString(),
		cfg:  cfg.withDefaults(),
		cb:   cb,
		log:  slog.Default(),
		now:  time.Now,
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session_id", s.id, "venue_id", m.VenueID)

	dest, poi, err := resolveDestination(m, destID)
	if err != nil {
		return nil, err
	}
	r, err := s.newResolver(m)
	if err != nil {
		return nil, err
	}
	s.man, s.resolver, s.destID, s.destPOI = m, r, dest, poi
	return s, nil
}

func resolveDestination(m *manifest.Manifest, id string) (node, poi string, err error) {
	if _, ok := m.Graph.Node(id); ok {
		return id, "", nil
	}
	if p, ok := m.Graph.POI(id); ok {
		n, ok := m.Graph.NearestNode(p.Pos())
		if !ok {
			return "", "", fmt.Errorf("%w: venue %q has no nodes", graph.ErrUnknownNode, m.VenueID)
		}
		return n.ID, id, nil
	}
	return "", "", fmt.Errorf("%w: destination %q", graph.ErrUnknownNode, id)
}

func (s *Session) newResolver(m *manifest.Manifest) (*calibration.Resolver, error) {
	return m.Resolver(calibration.Options{
		ReliableAccuracy: s.cfg.ReliableAccuracyMeters,
		Logger:           s.log,
		Now:              s.now,
	})
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Destination returns the destination node id.
func (s *Session) Destination() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path returns the node ids of the active path.
func (s *Session) Path() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.path))
	for i, w := range s.path {
		ids[i] = w.id
	}
	return ids
}

// Start moves the session from Idle to Routing, resolves the current
// position, computes the path and starts Guiding. While no position is
// available the session stays in Routing, announces the fallback instruction
// once and retries at Config.RetryInterval; an anchor scan ends the wait
// immediately. If the destination is unreachable Start fails with ErrNoRoute
// and the session returns to Idle.
func (s *Session) Start(ctx context.Context, src PositionSource) error {
	if src == nil {
		return errors.New("navigation: position source is required")
	}
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, st)
	}
	actx, cancel := context.WithCancel(ctx)
	s.cancelAcquire = cancel
	s.transitionLocked(StateRouting, ReasonComputing)
	s.mu.Unlock()
	defer cancel()

	pos, err := s.acquire(actx, src)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAcquire = nil
	if s.state != StateRouting {
		return ErrSessionClosed
	}
	if err != nil {
		s.transitionLocked(StateIdle, ReasonPositionUnavailable)
		return err
	}

	start, err := s.snapLocked(pos.fix)
	if err != nil {
		s.transitionLocked(StateIdle, ReasonPositionUnavailable)
		return err
	}
	p, err := s.solveLocked(start)
	if err != nil {
		s.transitionLocked(StateIdle, ReasonNoRoute)
		return err
	}
	s.setPathLocked(p)

	sub, err := src.Subscribe(ctx)
	if err != nil {
		s.log.Warn("position subscription failed, updates must be pushed", "error", err)
	} else {
		s.sub = sub
	}
	s.transitionLocked(StateGuiding, ReasonRouteFound)
	if pos.hasHeading {
		s.heading, s.hasHead = pos.heading, true
	}
	s.guideLocked(pos.fix)
	return nil
}

type located struct {
	fix        calibration.Fix
	heading    float64
	hasHeading bool
}

func (s *Session) acquire(ctx context.Context, src PositionSource) (located, error) {
	lim := rate.NewLimiter(rate.Every(s.cfg.RetryInterval), 1)
	lim.Allow()

	stalled := false
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		r := s.resolver
		s.mu.Unlock()

		if held, ok := r.Current(); ok {
			return located{fix: held}, nil
		}
		pos, err := src.Current(ctx)
		if err == nil {
			if fix, ok := s.locate(r, pos); ok {
				return located{fix: fix, heading: pos.Heading, hasHeading: pos.HasHeading}, nil
			}
			err = ErrPositionUnavailable
		}
		if ctx.Err() != nil {
			return located{}, ctx.Err()
		}

		metrics.PositionUnavailable.Inc()
		if !stalled {
			stalled = true
			s.log.Warn("position unavailable, waiting for a fix", "error", err)
			s.mu.Lock()
			if s.state == StateRouting {
				s.transitionLocked(StateRouting, ReasonPositionUnavailable)
			}
			s.mu.Unlock()
		}
		if s.cfg.MaxPositionAttempts > 0 && attempt >= s.cfg.MaxPositionAttempts {
			return located{}, fmt.Errorf("%w after %d attempts: %v", ErrPositionUnavailable, attempt, err)
		}

		res := lim.Reserve()
		timer := time.NewTimer(res.Delay())
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
			res.Cancel()
		case <-ctx.Done():
			timer.Stop()
			res.Cancel()
			return located{}, ctx.Err()
		}
	}
}

// locate applies the drift-correction policy to a reading. Readings without
// GPS cannot release a held anchor fix.
func (s *Session) locate(r *calibration.Resolver, p Position) (calibration.Fix, bool) {
	if p.HasLatLng {
		fix := r.Observe(calibration.GPSReading{LatLng: p.LatLng, Accuracy: p.Accuracy, At: p.At})
		return fix, fix.HasPixel
	}
	if held, ok := r.Current(); ok {
		return held, true
	}
	if p.HasPixel {
		at := p.At
		if at.IsZero() {
			at = s.now()
		}
		fix := calibration.Fix{Source: calibration.SourcePixel, Pixel: p.Pixel, HasPixel: true, Accuracy: p.Accuracy, At: at}
		if ll, ok := calibration.PixelToApproxGPS(r.Floorplan(), p.Pixel); ok {
			fix.LatLng, fix.HasLatLng = ll, true
		}
		return fix, true
	}
	return calibration.Fix{}, false
}

func (s *Session) snapLocked(fix calibration.Fix) (string, error) {
	if fix.NodeID != "" {
		if _, ok := s.man.Graph.Node(fix.NodeID); ok {
			return fix.NodeID, nil
		}
	}
	n, ok := s.man.Graph.NearestNode(fix.Pixel)
	if !ok {
		return "", fmt.Errorf("%w: venue %q has no nodes", graph.ErrUnknownNode, s.man.VenueID)
	}
	return n.ID, nil
}

func (s *Session) solveLocked(start string) (route.Path, error) {
	p, err := route.ShortestPath(s.man.Graph, start, s.destID)
	if err != nil {
		metrics.RoutesComputed.WithLabelValues("error").Inc()
		return route.Path{}, err
	}
	if !p.Found() {
		metrics.RoutesComputed.WithLabelValues("unreachable").Inc()
		return route.Path{}, fmt.Errorf("%w: %q to %q", ErrNoRoute, start, s.destID)
	}
	metrics.RoutesComputed.WithLabelValues("found").Inc()
	return p, nil
}

// setPathLocked caches what guidance needs per tick: waypoint positions and
// the remaining distance from each waypoint to the destination.
func (s *Session) setPathLocked(p route.Path) {
	fp := s.man.Floorplan
	s.path = make([]waypoint, len(p.NodeIDs))
	for i, id := range p.NodeIDs {
		n, _ := s.man.Graph.Node(id)
		w := waypoint{id: id, pixel: n.Pos()}
		w.ll, w.hasLL = calibration.PixelToApproxGPS(fp, n.Pos())
		s.path[i] = w
	}
	s.rest = make([]float64, len(s.path))
	for i := len(s.path) - 2; i >= 0; i-- {
		s.rest[i] = s.rest[i+1] + calibration.MetersBetween(fp, s.path[i].pixel, s.path[i+1].pixel)
	}
	s.next = 0
	s.stale = false
}

// measure returns distance and bearing from fix to waypoint i, using the
// great-circle formulas when both ends have GPS coordinates.
func (s *Session) measure(fix calibration.Fix, i int) (dist, bearing float64, ok bool) {
	w := s.path[i]
	if fix.HasLatLng && w.hasLL {
		return geo.Haversine(fix.LatLng, w.ll), geo.InitialBearing(fix.LatLng, w.ll), true
	}
	if fix.HasPixel {
		fp := s.man.Floorplan
		return calibration.MetersBetween(fp, fix.Pixel, w.pixel), calibration.CompassBearing(fp, fix.Pixel, w.pixel), true
	}
	return 0, 0, false
}

func (s *Session) guideLocked(fix calibration.Fix) {
	if s.state != StateGuiding || len(s.path) == 0 {
		return
	}
	s.lastFix = &fix

	last := len(s.path) - 1
	toDest, _, ok := s.measure(fix, last)
	if !ok {
		return
	}
	if toDest <= s.cfg.ArrivalRadiusMeters {
		s.transitionLocked(StateArrived, ReasonArrived)
		s.releaseLocked()
		return
	}
	for s.next < last {
		d, _, _ := s.measure(fix, s.next)
		if d > s.cfg.WaypointRadiusMeters {
			break
		}
		s.next++
	}

	d, b, _ := s.measure(fix, s.next)
	in := Instruction{
		NextNodeID:      s.path[s.next].id,
		Bearing:         b,
		Cardinal:        geo.CardinalOf(b),
		DistanceMeters:  d,
		RemainingMeters: d + s.rest[s.next],
	}
	if s.hasHead {
		in.Turn = geo.Relative(s.heading, b)
	}
	in.Text = describe(in)
	if s.cb.OnInstruction != nil {
		s.cb.OnInstruction(in)
	}
}

// OnPositionUpdate handles one reading. While Guiding it emits an
// instruction toward the next unvisited path node, or arrives. Readings in
// any other state only update the heading. A heading-only reading re-emits
// guidance from the last fix.
func (s *Session) OnPositionUpdate(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	if p.HasHeading {
		s.heading, s.hasHead = p.Heading, true
	}
	if s.state != StateGuiding {
		return
	}
	if fix, ok := s.locate(s.resolver, p); ok {
		s.guideLocked(fix)
		return
	}
	if s.lastFix != nil && p.HasHeading {
		s.guideLocked(*s.lastFix)
	}
}

// OnAnchorScan handles a QR anchor scan. Every call is one physical scan and
// is logged once through the ScanRecorder. An unknown anchor returns
// calibration.ErrUnknownAnchor and leaves the session on its last good fix.
//
// While Guiding, a scan at a node other than the current path position
// reroutes from that node: Guiding -> Rerouting -> Guiding. If no route
// exists from there, the old path is kept and ErrNoRoute is returned. A scan
// while Routing ends the wait for a position.
func (s *Session) OnAnchorScan(ctx context.Context, anchorID string) error {
	s.recordScan(ctx, anchorID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrSessionClosed
	}
	fix, err := s.resolver.ResolveAnchorScan(anchorID)
	if err != nil {
		metrics.AnchorScans.WithLabelValues("unknown").Inc()
		s.log.Warn("ignoring scan of unknown anchor", "anchor_id", anchorID)
		return err
	}
	metrics.AnchorScans.WithLabelValues("known").Inc()

	switch s.state {
	case StateIdle:
		return nil
	case StateRouting:
		select {
		case s.wake <- struct{}{}:
		default:
		}
		return nil
	}

	if !s.stale && s.onPathLocked(fix.NodeID) {
		s.guideLocked(fix)
		return nil
	}

	s.transitionLocked(StateRerouting, ReasonAnchorScan)
	p, err := s.solveLocked(fix.NodeID)
	if err != nil {
		s.log.Warn("reroute failed, keeping previous path", "anchor_id", anchorID, "node_id", fix.NodeID, "error", err)
		s.transitionLocked(StateGuiding, ReasonNoRoute)
		return err
	}
	metrics.Reroutes.Inc()
	s.setPathLocked(p)
	s.transitionLocked(StateGuiding, ReasonRerouted)
	s.guideLocked(fix)
	return nil
}

// onPathLocked reports whether node is the last visited waypoint or the one
// being approached.
func (s *Session) onPathLocked(node string) bool {
	if len(s.path) == 0 {
		return false
	}
	if s.path[s.next].id == node {
		return true
	}
	return s.next > 0 && s.path[s.next-1].id == node
}

func (s *Session) recordScan(ctx context.Context, anchorID string) {
	if s.scans == nil {
		return
	}
	s.mu.Lock()
	r, eventID := s.resolver, s.man.EventID
	g := s.man.Graph
	s.mu.Unlock()

	ev := engagement.ScanEvent{
		ScanID:    engagement.NewScanID(),
		DeviceID:  s.deviceID,
		AnchorID:  anchorID,
		EventID:   eventID,
		Timestamp: s.now(),
	}
	if a, err := r.Lookup(anchorID); err == nil {
		if n, ok := g.Node(a.NodeID); ok && n.Kind == graph.KindPOIAnchor {
			ev.BoothID = n.ID
		}
	}
	if _, err := s.scans.Record(ctx, ev); err != nil {
		s.log.Warn("scan log delivery failed", "anchor_id", anchorID, "error", err)
	}
}

// Supersede switches the session to a newer publish of the same venue. The
// current path is kept until the next anchor scan, which always reroutes
// against the new graph.
func (s *Session) Supersede(m *manifest.Manifest) error {
	if m == nil || m.Graph == nil {
		return errors.New("navigation: manifest is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrSessionClosed
	}
	want := s.destID
	if s.destPOI != "" {
		want = s.destPOI
	}
	dest, _, err := resolveDestination(m, want)
	if err != nil {
		return err
	}
	r, err := s.newResolver(m)
	if err != nil {
		return err
	}
	s.man, s.resolver, s.destID = m, r, dest
	s.stale = true
	s.log.Info("manifest superseded", "manifest_id", m.ID)
	return nil
}

// Stop cancels the session from any non-terminal state and releases the
// position subscription before returning. No callback fires afterwards.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Terminal() {
		s.transitionLocked(StateCancelled, ReasonCancelled)
	}
	if s.cancelAcquire != nil {
		s.cancelAcquire()
	}
	s.releaseLocked()
}

func (s *Session) releaseLocked() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

// Run processes the subscription opened by Start, one reading at a time, until
// the session arrives or is stopped, the subscription ends, or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	sub, st := s.sub, s.state
	s.mu.Unlock()

	if sub == nil {
		if st.Terminal() {
			return nil
		}
		return fmt.Errorf("%w: run while %s without a subscription", ErrInvalidTransition, st)
	}
	updates := sub.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			s.OnPositionUpdate(p)
			if s.State().Terminal() {
				return nil
			}
		}
	}
}

func (s *Session) transitionLocked(to State, reason Reason) {
	from := s.state
	s.state = to
	metrics.SessionTransitions.WithLabelValues(from.String(), to.String()).Inc()

	change := StateChange{From: from, To: to, Reason: reason, At: s.now()}
	if reason == ReasonPositionUnavailable {
		change.Fallback = s.man.FallbackInstruction
	}
	if from != to {
		s.log.Info("navigation state changed", "from", from.String(), "to", to.String(), "reason", string(reason))
	}
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(change)
	}
}
