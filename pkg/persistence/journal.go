package persistence

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// Writer is the append side of a journal.
type Writer interface {
	Append(op OpCode, payload []byte) error
	Flush() error
	Sync() error
	Size() (int64, error)
	ReplaceWith(newFilePath string) error
	Path() string
	Close() error
}

var (
	_ Writer = (*Journal)(nil)
	_ Writer = (*LazyJournal)(nil)
)

// Journal appends frames to a file through a buffered writer.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{
		file: file,
		buf:  bufio.NewWriter(file),
		path: path,
	}, nil
}

// Append writes one frame to the buffer.
func (j *Journal) Append(op OpCode, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.buf.Write(EncodeFrame(op, payload))
	return err
}

// Flush hands buffered frames to the OS.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buf.Flush()
}

// Sync flushes and fsyncs.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Size returns the on-disk size, excluding unflushed frames.
func (j *Journal) Size() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	info, err := j.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// TruncateTo drops everything after the first n bytes, discarding any
// buffered frames. Used to cut a damaged tail found during replay.
func (j *Journal) TruncateTo(n int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf.Reset(j.file)
	if err := j.file.Truncate(n); err != nil {
		return err
	}
	_, err := j.file.Seek(n, 0)
	return err
}

// ReplaceWith atomically renames newFilePath over the journal and switches
// to it. Used at the end of compaction. On failure newFilePath is removed and
// the journal keeps appending to its current file.
func (j *Journal) ReplaceWith(newFilePath string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		_ = os.Remove(newFilePath)
		return fmt.Errorf("failed to flush journal before replace: %w", err)
	}
	// The handle follows the inode through the rename.
	file, err := os.OpenFile(newFilePath, os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		_ = os.Remove(newFilePath)
		return fmt.Errorf("failed to open replacement journal: %w", err)
	}
	if err := os.Rename(newFilePath, j.path); err != nil {
		_ = file.Close()
		_ = os.Remove(newFilePath)
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	_ = j.file.Close()
	j.file = file
	j.buf.Reset(file)
	return nil
}

func (j *Journal) Path() string { return j.path }

// Close flushes and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}
