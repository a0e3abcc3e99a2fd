// Package engagement records how long a visitor stays at a navigation target
// and whether they deliberately engaged with it, and emits the anonymous scan
// log for every physical anchor scan.
//
// # Thread Safety
//
// Tracker and ScanLogger are safe for concurrent use. A Tracker holds at most
// one tracking session at a time; create one per device.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanonone/wayfinder/pkg/metrics"
)

var (
	// ErrAlreadyTracking is returned by StartTracking while a session is
	// active. The running session is never silently replaced.
	ErrAlreadyTracking = errors.New("already tracking")

	// ErrEmptyTarget is returned when StartTracking gets no target id.
	ErrEmptyTarget = errors.New("target id is empty")
)

// Report is the engagement record handed to the analytics collaborator.
type Report struct {
	ID                     string    `json:"id"`
	TargetID               string    `json:"targetId"`
	EventID                string    `json:"eventId"`
	StartTime              time.Time `json:"startTime"`
	DwellMinutes           float64   `json:"dwellMinutes"`
	ActiveEngagementStatus bool      `json:"activeEngagementStatus"`
	CreatedAt              time.Time `json:"createdAt"`
}

// Reporter delivers finished reports. Queueing and retrying on failure is
// the reporter's job.
type Reporter interface {
	Deliver(ctx context.Context, r Report) error
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// Tracker is the Idle -> Tracking -> Idle state machine of one device.
type Tracker struct {
	eventID  string
	reporter Reporter
	now      func() time.Time
	log      *slog.Logger

	mu       sync.Mutex
	tracking bool
	targetID string
	start    time.Time
}

// NewTracker creates an idle tracker for eventID. reporter may be nil, in
// which case reports are only returned to the caller.
func NewTracker(eventID string, reporter Reporter, opts ...Option) *Tracker {
	t := &Tracker{
		eventID:  eventID,
		reporter: reporter,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTracking records the target and the start time.
func (t *Tracker) StartTracking(targetID string) error {
	if targetID == "" {
		return ErrEmptyTarget
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tracking {
		return fmt.Errorf("%w: %q since %s", ErrAlreadyTracking, t.targetID, t.start.Format(time.RFC3339))
	}
	t.tracking = true
	t.targetID = targetID
	t.start = t.now()
	t.log.Debug("engagement tracking started", "target_id", targetID)
	return nil
}

// StopTracking finalizes the running session and hands the report to the
// reporter. activeEngagement marks a deliberate action such as an anchor
// scan, as opposed to passive proximity.
//
// Stopping an idle tracker logs a warning and returns (nil, nil). A delivery
// failure is logged; the tracker is back to Idle either way.
func (t *Tracker) StopTracking(ctx context.Context, activeEngagement bool) (*Report, error) {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		t.log.Warn("stopTracking called while idle")
		return nil, nil
	}
	now := t.now()
	rep := Report{
		ID:                     uuid.NewString(),
		TargetID:               t.targetID,
		EventID:                t.eventID,
		StartTime:              t.start,
		DwellMinutes:           float64(now.Sub(t.start).Milliseconds()) / 60000,
		ActiveEngagementStatus: activeEngagement,
		CreatedAt:              now,
	}
	t.tracking = false
	t.targetID = ""
	t.start = time.Time{}
	t.mu.Unlock()

	metrics.DwellMinutes.Observe(rep.DwellMinutes)
	if t.reporter != nil {
		if err := t.reporter.Deliver(ctx, rep); err != nil {
			t.log.Warn("engagement report delivery failed", "target_id", rep.TargetID, "error", err)
		}
	}
	return &rep, nil
}

// Active returns the tracked target and its start time.
func (t *Tracker) Active() (targetID string, since time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetID, t.start, t.tracking
}
