package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultFilePoll = 250 * time.Millisecond

// FileSource follows a newline-delimited JSON file the way tail -f does.
// Only complete lines are returned; a trailing line without its newline is
// held back until the rest is written. A truncated file is re-read from the
// start. The stream ends with ErrStreamClosed once the file is removed or
// replaced.
type FileSource struct {
	Path string
	// FromStart replays the existing content before following. By default
	// only lines appended after Connect are read.
	FromStart bool
	// PollInterval bounds how long an append can go unnoticed when no
	// filesystem notification arrives.
	PollInterval time.Duration
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Connect(ctx context.Context) (Stream, error) {
	abs, err := filepath.Abs(s.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", abs, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}

	var offset int64
	if !s.FromStart {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek %s: %w", abs, err)
		}
	}

	poll := s.PollInterval
	if poll <= 0 {
		poll = defaultFilePoll
	}

	st := &fileStream{
		path:   abs,
		f:      f,
		info:   info,
		r:      bufio.NewReader(f),
		offset: offset,
		poll:   poll,
		done:   make(chan struct{}),
	}
	// Notifications only shorten the wait; polling still works without them.
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(filepath.Dir(abs)); err == nil {
			st.watcher = w
		} else {
			w.Close()
		}
	}
	return st, nil
}

type fileStream struct {
	path    string
	f       *os.File
	info    os.FileInfo
	r       *bufio.Reader
	watcher *fsnotify.Watcher
	poll    time.Duration

	offset  int64 // end of the last complete line
	partial []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (s *fileStream) Next(ctx context.Context) ([]byte, error) {
	for {
		line, err := s.readLine()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.path, err)
		}
		if line != nil {
			return line, nil
		}
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// readLine returns the next non-blank complete line, or nil when only a
// partial line (or nothing) is available yet.
func (s *fileStream) readLine() ([]byte, error) {
	for {
		chunk, err := s.r.ReadBytes('\n')
		s.partial = append(s.partial, chunk...)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		s.offset += int64(len(s.partial))
		line := bytes.TrimSpace(s.partial)
		if len(line) > maxLineBytes {
			line = nil
		}
		out := bytes.Clone(line)
		s.partial = s.partial[:0]
		if len(out) > 0 {
			return out, nil
		}
	}
}

// wait blocks until the file may have changed. It also handles truncation
// and reports removal.
func (s *fileStream) wait(ctx context.Context) error {
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrStreamClosed
	case err != nil:
		return fmt.Errorf("stat %s: %w", s.path, err)
	case !os.SameFile(info, s.info):
		return ErrStreamClosed
	case info.Size() < s.offset+int64(len(s.partial)):
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek %s: %w", s.path, err)
		}
		s.r.Reset(s.f)
		s.offset = 0
		s.partial = s.partial[:0]
		return nil
	}

	var events <-chan fsnotify.Event
	if s.watcher != nil {
		events = s.watcher.Events
	}
	timer := time.NewTimer(s.poll)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrStreamClosed
		case <-timer.C:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == s.path {
				return nil
			}
		}
	}
}

func (s *fileStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
		err = s.f.Close()
	})
	return err
}
