package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ReplayStats summarizes a replay. Valid is the byte length of the intact
// prefix; when Damaged is set everything after it should be discarded.
type ReplayStats struct {
	Frames  int
	Valid   int64
	Damaged error
}

// Replay feeds every intact frame of r to fn, in order. A torn or corrupt
// frame ends the replay without an error; it is reported in
// ReplayStats.Damaged so the caller can truncate the tail. An error returned
// by fn aborts the replay.
func Replay(r io.Reader, fn func(Frame) error) (ReplayStats, error) {
	var stats ReplayStats
	br := bufio.NewReader(r)
	for {
		f, n, err := ReadFrame(br)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			stats.Damaged = fmt.Errorf("frame %d at offset %d: %w", stats.Frames, stats.Valid, err)
			return stats, nil
		}
		if err := fn(f); err != nil {
			return stats, fmt.Errorf("apply frame %d at offset %d: %w", stats.Frames, stats.Valid, err)
		}
		stats.Frames++
		stats.Valid += int64(n)
	}
}
