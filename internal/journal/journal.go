// Package journal persists every accepted event as gzip-compressed JSON
// lines, rotated by size. The journal is an audit trail and a replay source;
// it is never read on the hot path.
package journal

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ernie/hlstatsd/internal/domain"
)

// Journal writes events to rotating segment files named
// events-<unix-nanos>.jsonl.gz under a directory.
type Journal struct {
	dir      string
	maxBytes int64

	mu      sync.Mutex
	file    *os.File
	gz      *gzip.Writer
	written int64
}

// Open creates the journal directory if needed and starts the first segment.
func Open(dir string, maxBytes int64) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	j := &Journal{dir: dir, maxBytes: maxBytes}
	if err := j.openSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append writes one event to the current segment, rotating first when the
// segment is full.
func (j *Journal) Append(ev *domain.GameEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.ID, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.written+int64(len(data))+1 > j.maxBytes {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}

	if _, err := j.gz.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	// Track uncompressed size; close enough for rotation purposes.
	j.written += int64(len(data)) + 1
	return nil
}

// Sync flushes buffered data through to the filesystem.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.gz.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Close finalizes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeSegmentLocked()
}

func (j *Journal) openSegment() error {
	name := fmt.Sprintf("events-%d.jsonl.gz", time.Now().UnixNano())
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating journal segment: %w", err)
	}
	j.file = f
	j.gz = gzip.NewWriter(f)
	j.written = 0
	log.Printf("Journal: writing segment %s", name)
	return nil
}

func (j *Journal) rotateLocked() error {
	if err := j.closeSegmentLocked(); err != nil {
		return err
	}
	return j.openSegment()
}

func (j *Journal) closeSegmentLocked() error {
	if j.gz == nil {
		return nil
	}
	if err := j.gz.Close(); err != nil {
		j.file.Close()
		return fmt.Errorf("closing journal segment: %w", err)
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("closing journal file: %w", err)
	}
	j.gz = nil
	j.file = nil
	return nil
}
