// Package editor is the venue-editing side of wayfinder: a mutable working
// graph whose every change is appended to a journal, and a publish step that
// snapshots it into an immutable manifest.
//
// Basic usage:
//
//	ws, err := editor.Open(editor.DefaultOptions("./data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ws.Close()
//
//	ws.AddNode(graph.Node{ID: "entrance", X: 0, Y: 0, Kind: graph.KindEntrance})
//	m, path, err := ws.Publish("venue-1", "")
//
// Edits are serialized by the workspace lock. Publish holds the same lock
// while it snapshots, so a manifest never observes a half-applied edit.
package editor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sanonone/wayfinder/pkg/persistence"
)

// Options configures a Workspace.
type Options struct {
	// DataDir holds the journal and the manifest archive. Created if missing.
	DataDir string `yaml:"data_dir" validate:"required"`

	// JournalFile is the journal name inside DataDir (default: "venue.journal").
	JournalFile string `yaml:"journal_file" validate:"required"`

	// FlushInterval and SyncInterval drive the lazy journal.
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gte=0"`
	SyncInterval  time.Duration `yaml:"sync_interval" validate:"gte=0"`

	// CompactPercentage triggers a journal compaction when the journal grows
	// past its size after the last compaction by this percentage. 0 disables.
	CompactPercentage int `yaml:"compact_percentage" validate:"gte=0"`

	// MaintenanceInterval is how often the compaction policy is evaluated.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" validate:"gte=0"`

	Logger *slog.Logger `yaml:"-"`
	Now    func() time.Time `yaml:"-"`
}

// DefaultOptions returns the standard configuration rooted at dataDir.
//
// Defaults:
//   - JournalFile: "venue.journal"
//   - Flush every 100ms, fsync every second
//   - Compact at 100% growth, checked every 10s
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:             dataDir,
		JournalFile:         "venue.journal",
		FlushInterval:       persistence.DefaultLazyFlushInterval,
		SyncInterval:        persistence.DefaultForceSyncInterval,
		CompactPercentage:   100,
		MaintenanceInterval: 10 * time.Second,
	}
}

// minCompactSize keeps tiny journals from being rewritten over and over.
const minCompactSize = 64 * 1024

// ErrClosed is returned by edits on a closed workspace.
var ErrClosed = errors.New("workspace closed")

// Workspace is an editable venue backed by a journal.
type Workspace struct {
	mu       sync.Mutex
	st       *state
	journal  persistence.Writer
	baseSize int64
	edits    int64

	archive *Archive
	opts    Options
	log     *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open creates DataDir if needed, replays the journal into a fresh working
// graph and starts background compaction. A torn tail left by a crash is
// truncated away and reported in the log.
func Open(opts Options) (*Workspace, error) {
	def := DefaultOptions(opts.DataDir)
	if opts.JournalFile == "" {
		opts.JournalFile = def.JournalFile
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = def.MaintenanceInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(opts.DataDir, opts.JournalFile)
	j, err := persistence.OpenJournal(path)
	if err != nil {
		return nil, err
	}

	w := &Workspace{
		st:      newState(),
		archive: NewArchive(ArchiveDir(opts.DataDir)),
		opts:    opts,
		log:     opts.Logger,
		closed:  make(chan struct{}),
	}
	if err := w.replay(j); err != nil {
		j.Close()
		return nil, fmt.Errorf("failed to replay journal: %w", err)
	}

	w.journal = persistence.NewLazyJournal(j, persistence.LazyOptions{
		FlushInterval: opts.FlushInterval,
		SyncInterval:  opts.SyncInterval,
		Logger:        opts.Logger,
	})
	w.baseSize, _ = w.journal.Size()

	w.wg.Add(1)
	go w.backgroundTasks()
	return w, nil
}

func (w *Workspace) replay(j *persistence.Journal) error {
	f, err := os.Open(j.Path())
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	stats, err := persistence.Replay(f, func(fr persistence.Frame) error {
		return w.st.apply(edit{op: fr.Op, payload: fr.Payload})
	})
	if err != nil {
		return err
	}
	if stats.Damaged != nil {
		w.log.Warn("journal tail damaged, truncating", "path", j.Path(), "valid_bytes", stats.Valid, "error", stats.Damaged)
		if err := j.TruncateTo(stats.Valid); err != nil {
			return fmt.Errorf("truncate damaged tail: %w", err)
		}
	}
	w.log.Info("journal replayed",
		"path", j.Path(),
		"edits", stats.Frames,
		"nodes", w.st.graph.NodeCount(),
		"duration", time.Since(start),
	)
	return nil
}

// Archive returns the manifest archive this workspace publishes into.
func (w *Workspace) Archive() *Archive { return w.archive }

// Close stops background tasks and closes the journal. Safe to call twice.
func (w *Workspace) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		w.wg.Wait()

		w.mu.Lock()
		defer w.mu.Unlock()
		err = w.journal.Close()
	})
	return err
}

func (w *Workspace) isClosed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}

func (w *Workspace) backgroundTasks() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closed:
			return
		case <-ticker.C:
			w.checkMaintenance()
		}
	}
}

// checkMaintenance compacts the journal once it has outgrown the last
// compaction by CompactPercentage.
func (w *Workspace) checkMaintenance() {
	if w.opts.CompactPercentage <= 0 {
		return
	}
	size, err := w.journal.Size()
	if err != nil {
		w.log.Error("journal size check failed", "error", err)
		return
	}
	threshold := w.baseSize + w.baseSize*int64(w.opts.CompactPercentage)/100
	if threshold < minCompactSize {
		threshold = minCompactSize
	}
	if size > threshold {
		if err := w.Compact(); err != nil {
			w.log.Error("background journal compaction failed", "error", err)
		}
	}
}

// Compact rewrites the journal as the minimal edit sequence for the current
// state and swaps it in atomically.
func (w *Workspace) Compact() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isClosed() {
		return ErrClosed
	}

	edits, err := w.st.snapshot()
	if err != nil {
		return err
	}

	tmpPath := w.journal.Path() + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp journal: %w", err)
	}
	fw := persistence.NewFrameWriter(f)
	for _, e := range edits {
		if err := fw.WriteFrame(e.op, e.payload); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write compacted journal: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	before, _ := w.journal.Size()
	if err := w.journal.ReplaceWith(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	w.baseSize, _ = w.journal.Size()
	w.edits = 0
	w.log.Info("journal compacted", "path", w.journal.Path(), "before_bytes", before, "after_bytes", w.baseSize, "edits", len(edits))
	return nil
}
