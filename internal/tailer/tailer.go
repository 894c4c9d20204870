// Package tailer follows a single log file, delivering newly appended
// bytes on each pull.
package tailer

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Tailer keeps an open handle and read position on one log file.
type Tailer struct {
	path   string
	file   *os.File
	offset int64
}

// Open opens the log at path. seekBack is the number of bytes to rewind
// from the end so existing tail content is visible on the first pull; it
// is clamped to the start of the file.
func Open(path string, seekBack int64) (*Tailer, error) {
	t := &Tailer{path: path}
	if err := t.open(seekBack); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tailer) open(seekBack int64) error {
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	offset := int64(0)
	if seekBack > 0 {
		if info, err := file.Stat(); err == nil {
			if offset = info.Size() - seekBack; offset < 0 {
				offset = 0
			}
		}
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			offset = 0
		}
	}
	t.file = file
	t.offset = offset
	return nil
}

// Pull reads everything appended since the previous pull. It returns an
// empty string when nothing new arrived. A file that shrank since the
// last pull was truncated or rotated in place; reading restarts from the
// beginning.
func (t *Tailer) Pull() (string, error) {
	if info, err := t.file.Stat(); err == nil && info.Size() < t.offset {
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("rewind log: %w", err)
		}
		t.offset = 0
	}
	data, err := io.ReadAll(t.file)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read log: %w", err)
	}
	t.offset += int64(len(data))
	return string(data), nil
}

// Reopen closes and reopens the underlying file. Used when a new log
// appears at the same path (rotation, or a fresh build in a reused
// directory).
func (t *Tailer) Reopen(seekBack int64) error {
	t.Close()
	return t.open(seekBack)
}

// Path returns the followed file's path.
func (t *Tailer) Path() string { return t.path }

// Close releases the file handle. Safe to call twice.
func (t *Tailer) Close() {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}
