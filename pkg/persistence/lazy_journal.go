package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by writes to a closed LazyJournal.
var ErrClosed = errors.New("journal closed")

// LazyJournal batches appends in memory and writes them to a Journal
// periodically or when the batch is full. A background fsync bounds the loss
// window on crash to SyncInterval.
type LazyJournal struct {
	underlying *Journal

	mu      sync.Mutex
	pending []Frame
	stopped bool

	opts   LazyOptions
	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *slog.Logger
}

// LazyOptions tunes the batching.
type LazyOptions struct {
	FlushInterval time.Duration
	SyncInterval  time.Duration
	MaxPending    int
	Logger        *slog.Logger
}

const (
	DefaultLazyFlushInterval = 100 * time.Millisecond
	DefaultForceSyncInterval = 1 * time.Second
	DefaultMaxPending        = 256
)

// DefaultLazyOptions flushes every 100ms and fsyncs every second.
func DefaultLazyOptions() LazyOptions {
	return LazyOptions{
		FlushInterval: DefaultLazyFlushInterval,
		SyncInterval:  DefaultForceSyncInterval,
		MaxPending:    DefaultMaxPending,
	}
}

// NewLazyJournal wraps j. j must not be used directly afterwards.
func NewLazyJournal(j *Journal, opts LazyOptions) *LazyJournal {
	d := DefaultLazyOptions()
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = d.FlushInterval
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = d.SyncInterval
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = d.MaxPending
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	lj := &LazyJournal{
		underlying: j,
		pending:    make([]Frame, 0, opts.MaxPending),
		opts:       opts,
		stopCh:     make(chan struct{}),
		log:        opts.Logger,
	}
	lj.wg.Add(1)
	go lj.background()

	lj.log.Debug("lazy journal started",
		"path", j.Path(),
		"flush_interval", opts.FlushInterval,
		"sync_interval", opts.SyncInterval,
	)
	return lj
}

// Append queues a frame. The payload is copied.
func (lj *LazyJournal) Append(op OpCode, payload []byte) error {
	lj.mu.Lock()
	defer lj.mu.Unlock()

	if lj.stopped {
		return ErrClosed
	}
	lj.pending = append(lj.pending, Frame{Op: op, Payload: append([]byte(nil), payload...)})
	if len(lj.pending) >= lj.opts.MaxPending {
		return lj.flushLocked()
	}
	return nil
}

// Flush writes queued frames to the OS.
func (lj *LazyJournal) Flush() error {
	lj.mu.Lock()
	defer lj.mu.Unlock()
	return lj.flushLocked()
}

func (lj *LazyJournal) flushLocked() error {
	if len(lj.pending) > 0 {
		for _, f := range lj.pending {
			if err := lj.underlying.Append(f.Op, f.Payload); err != nil {
				return fmt.Errorf("failed to write to journal: %w", err)
			}
		}
		lj.pending = lj.pending[:0]
	}
	if err := lj.underlying.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal buffer: %w", err)
	}
	return nil
}

// Sync flushes queued frames and fsyncs.
func (lj *LazyJournal) Sync() error {
	lj.mu.Lock()
	defer lj.mu.Unlock()
	if err := lj.flushLocked(); err != nil {
		return err
	}
	return lj.underlying.Sync()
}

// Size is the on-disk size after flushing queued frames.
func (lj *LazyJournal) Size() (int64, error) {
	if err := lj.Flush(); err != nil {
		return 0, err
	}
	return lj.underlying.Size()
}

// ReplaceWith flushes, then swaps the underlying file.
func (lj *LazyJournal) ReplaceWith(newFilePath string) error {
	lj.mu.Lock()
	defer lj.mu.Unlock()
	if err := lj.flushLocked(); err != nil {
		return err
	}
	return lj.underlying.ReplaceWith(newFilePath)
}

func (lj *LazyJournal) Path() string { return lj.underlying.Path() }

// Close stops the background loop, writes everything and closes the file.
func (lj *LazyJournal) Close() error {
	lj.mu.Lock()
	if lj.stopped {
		lj.mu.Unlock()
		return ErrClosed
	}
	lj.stopped = true
	lj.mu.Unlock()

	close(lj.stopCh)
	lj.wg.Wait()

	lj.mu.Lock()
	defer lj.mu.Unlock()
	if err := lj.flushLocked(); err != nil {
		lj.log.Error("failed to flush journal during close", "error", err)
	}
	if err := lj.underlying.Sync(); err != nil {
		lj.log.Error("failed to sync journal during close", "error", err)
	}
	return lj.underlying.Close()
}

func (lj *LazyJournal) background() {
	defer lj.wg.Done()
	flush := time.NewTicker(lj.opts.FlushInterval)
	defer flush.Stop()
	fsync := time.NewTicker(lj.opts.SyncInterval)
	defer fsync.Stop()

	for {
		select {
		case <-flush.C:
			if err := lj.Flush(); err != nil {
				lj.log.Error("periodic journal flush failed", "error", err)
			}
		case <-fsync.C:
			if err := lj.Sync(); err != nil {
				lj.log.Error("periodic journal sync failed", "error", err)
			}
		case <-lj.stopCh:
			return
		}
	}
}
