package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/sanonone/wayfinder/pkg/metrics"
)

// DefaultDedupeWindow bounds how long a scan id is remembered.
const DefaultDedupeWindow = 10 * time.Minute

// ScanEvent is one physical anchor scan. ScanID identifies the physical scan
// and is what makes redelivery idempotent.
type ScanEvent struct {
	ScanID    string    `json:"scanId"`
	DeviceID  string    `json:"deviceId"`
	AnchorID  string    `json:"anchorId"`
	EventID   string    `json:"eventId"`
	BoothID   string    `json:"boothId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanSink stores scan events for the analytics subsystem.
type ScanSink interface {
	WriteScan(ctx context.Context, ev ScanEvent) error
}

// NewScanID returns a fresh, time-ordered scan id.
func NewScanID() string {
	return uuid.Must(uuid.NewV7()).String()
}

type seenScan struct {
	at time.Time
	id string
}

func seenLess(a, b seenScan) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.id < b.id
}

// ScanLogger forwards scan events to a sink at most once per ScanID within
// the dedupe window. A failed write is not remembered, so the caller may
// retry it.
type ScanLogger struct {
	sink   ScanSink
	window time.Duration
	now    func() time.Time
	log    *slog.Logger

	mu     sync.Mutex
	seen   map[string]time.Time
	expiry *btree.BTreeG[seenScan]
}

// NewScanLogger creates a logger writing to sink. A window <= 0 selects
// DefaultDedupeWindow; now may be nil.
func NewScanLogger(sink ScanSink, window time.Duration, now func() time.Time, logger *slog.Logger) *ScanLogger {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanLogger{
		sink:   sink,
		window: window,
		now:    now,
		log:    logger,
		seen:   make(map[string]time.Time),
		expiry: btree.NewBTreeG(seenLess),
	}
}

// Record emits ev unless its ScanID was already emitted. An empty ScanID is
// filled in, and a zero Timestamp defaults to now. emitted reports whether the
// sink received the event on this call.
func (l *ScanLogger) Record(ctx context.Context, ev ScanEvent) (emitted bool, err error) {
	if ev.AnchorID == "" {
		return false, errors.New("scan event without anchor id")
	}
	if ev.ScanID == "" {
		ev.ScanID = NewScanID()
	}
	now := l.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.expireLocked(now)
	if _, dup := l.seen[ev.ScanID]; dup {
		metrics.ScanEvents.WithLabelValues("duplicate").Inc()
		l.log.Debug("duplicate scan event dropped", "anchor_id", ev.AnchorID, "scan_id", ev.ScanID)
		return false, nil
	}
	if err := l.sink.WriteScan(ctx, ev); err != nil {
		metrics.ScanEvents.WithLabelValues("failed").Inc()
		return false, fmt.Errorf("write scan %s: %w", ev.ScanID, err)
	}
	l.seen[ev.ScanID] = now
	l.expiry.Set(seenScan{at: now, id: ev.ScanID})
	metrics.ScanEvents.WithLabelValues("emitted").Inc()
	return true, nil
}

func (l *ScanLogger) expireLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for {
		oldest, ok := l.expiry.Min()
		if !ok || !oldest.at.Before(cutoff) {
			return
		}
		l.expiry.Delete(oldest)
		delete(l.seen, oldest.id)
	}
}

// Remembered returns how many scan ids are inside the dedupe window.
func (l *ScanLogger) Remembered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
