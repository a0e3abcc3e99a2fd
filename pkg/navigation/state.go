// Package navigation drives turn-by-turn guidance for one navigation attempt:
// it snaps the device position to the venue graph, follows the computed path
// tick by tick, reroutes when a QR anchor scan moves the device to another
// node, and detects arrival.
//
// # Event Ordering
//
// Position updates, heading ticks and anchor scans are handled one at a time
// under the session lock, so they are processed strictly in arrival order and
// never overlap. Run drains a PositionSource subscription in order.
//
// # Callbacks
//
// Callbacks run while the session lock is held. They must not call back into
// the session synchronously. Once Stop returns, no callback fires again.
package navigation

import (
	"errors"
	"time"

	"github.com/sanonone/wayfinder/pkg/geo"
)

var (
	// ErrNoRoute is returned when the destination is unreachable from the
	// resolved position.
	ErrNoRoute = errors.New("no route to destination")

	// ErrSessionClosed is returned by operations on an arrived or cancelled
	// session.
	ErrSessionClosed = errors.New("navigation session closed")

	// ErrInvalidTransition is returned when an operation is not valid in the
	// current state, such as starting a session twice.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPositionUnavailable is returned by a PositionSource without a fix,
	// and by Start when the attempt budget is exhausted.
	ErrPositionUnavailable = errors.New("position unavailable")
)

// State of a navigation session.
type State int

const (
	StateIdle State = iota
	StateRouting
	StateGuiding
	StateRerouting
	StateArrived
	StateCancelled
)

var stateNames = [...]string{"idle", "routing", "guiding", "rerouting", "arrived", "cancelled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the session is inert.
func (s State) Terminal() bool {
	return s == StateArrived || s == StateCancelled
}

// Reason explains a state change. The UI maps each one to a different user
// action, so "still computing", "no route" and "position unavailable" are
// kept apart.
type Reason string

const (
	ReasonComputing           Reason = "computing"
	ReasonPositionUnavailable Reason = "position-unavailable"
	ReasonNoRoute             Reason = "no-route"
	ReasonRouteFound          Reason = "route-found"
	ReasonAnchorScan          Reason = "anchor-scan"
	ReasonRerouted            Reason = "rerouted"
	ReasonArrived             Reason = "arrived"
	ReasonCancelled           Reason = "cancelled"
)

// StateChange is delivered to Callbacks.OnStateChange. From equals To for a
// degraded-state notice while Routing is stalled. Fallback carries the
// manifest's printed-landmark instruction when the position is unavailable.
type StateChange struct {
	From     State
	To       State
	Reason   Reason
	Fallback string
	At       time.Time
}

// Instruction is the per-tick guidance toward the next path node.
type Instruction struct {
	NextNodeID string
	// Bearing is degrees clockwise from true north.
	Bearing  float64
	Cardinal geo.Cardinal
	// Turn is relative to the device heading; TurnUnknown without one.
	Turn            geo.Turn
	DistanceMeters  float64
	RemainingMeters float64
	Text            string
}

// Callbacks connect a session to the UI layer. Nil fields are skipped.
type Callbacks struct {
	OnInstruction func(Instruction)
	OnStateChange func(StateChange)
}
