// Package journal appends per-iteration gain records and completed round
// trips to newline-delimited JSON files. The files are write-only from the
// engine's point of view and exist for offline analysis; they can be
// archived to object storage and truncated in place.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

const (
	gainsFile      = "gains.jsonl"
	roundTripsFile = "round_trips.jsonl"
)

// Writer appends JSONL records under a journal directory. It is safe for
// concurrent use.
type Writer struct {
	mu    sync.Mutex
	dir   string
	files map[string]*appendFile
}

type appendFile struct {
	f *os.File
	w *bufio.Writer
}

// NewWriter creates a Writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}
	return &Writer{
		dir:   dir,
		files: make(map[string]*appendFile),
	}, nil
}

// RecordGains appends one per-iteration gains record.
func (w *Writer) RecordGains(rec domain.GainRecord) error {
	return w.append(gainsFile, rec)
}

// RecordRoundTrip appends one completed round trip.
func (w *Writer) RecordRoundTrip(rt domain.RoundTrip) error {
	return w.append(roundTripsFile, rt)
}

// append writes v as one JSON line and flushes so tailers see it.
func (w *Writer) append(name string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	af, err := w.openLocked(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal: marshal record: %w", err)
	}
	if _, err := af.w.Write(data); err != nil {
		return fmt.Errorf("journal: write %s: %w", name, err)
	}
	if err := af.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("journal: write %s: %w", name, err)
	}
	if err := af.w.Flush(); err != nil {
		return fmt.Errorf("journal: flush %s: %w", name, err)
	}
	return nil
}

func (w *Writer) openLocked(name string) (*appendFile, error) {
	if af, ok := w.files[name]; ok {
		return af, nil
	}
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", name, err)
	}
	af := &appendFile{f: f, w: bufio.NewWriterSize(f, 64*1024)}
	w.files[name] = af
	return af, nil
}

// Archive uploads both journal files to blob storage under prefix, keyed by
// the current timestamp, and truncates them locally on success. Empty files
// are skipped.
func (w *Writer) Archive(ctx context.Context, blob domain.BlobWriter, prefix string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	stamp := time.Now().UTC().Format("20060102T150405Z")
	for _, name := range []string{gainsFile, roundTripsFile} {
		if err := w.archiveLocked(ctx, blob, prefix, name, stamp); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) archiveLocked(ctx context.Context, blob domain.BlobWriter, prefix, name, stamp string) error {
	path := filepath.Join(w.dir, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("journal: read %s: %w", name, err)
	}

	key := fmt.Sprintf("%s/%s-%s", prefix, stamp, name)
	if err := blob.Put(ctx, key, bytes.NewReader(data), "application/x-ndjson"); err != nil {
		return fmt.Errorf("journal: archive %s: %w", name, err)
	}

	if af, ok := w.files[name]; ok {
		if err := af.f.Truncate(0); err != nil {
			return fmt.Errorf("journal: truncate %s: %w", name, err)
		}
		if _, err := af.f.Seek(0, 0); err != nil {
			return fmt.Errorf("journal: rewind %s: %w", name, err)
		}
		af.w.Reset(af.f)
	} else if err := os.Truncate(path, 0); err != nil {
		return fmt.Errorf("journal: truncate %s: %w", name, err)
	}
	return nil
}

// Close flushes and closes all open files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for name, af := range w.files {
		if err := af.w.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("journal: flush %s: %w", name, err)
		}
		if err := af.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("journal: close %s: %w", name, err)
		}
	}
	w.files = make(map[string]*appendFile)
	return firstErr
}
