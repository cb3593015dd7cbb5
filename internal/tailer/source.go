package tailer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ErrSourceMissing is returned by Poll when the file is temporarily gone
var ErrSourceMissing = errors.New("log source missing")

// LineSource yields the lines appended to one log file since the last poll
type LineSource interface {
	Key() string
	Path() string
	Poll() ([]string, error)
	Close() error
}

// Source tails a single file across rotation and truncation. It owns its
// handle exclusively and is not safe for concurrent use.
//
// A rotation (inode change) reopens the path and reads the new generation
// from offset 0. Lines written to the old generation between the last poll
// and the rotation are lost, and a generation that is truncated and reused
// under the same inode may be counted twice. Both are accepted.
type Source struct {
	key     string
	path    string
	file    *os.File
	reader  *bufio.Reader
	inode   uint64
	pos     int64  // bytes read from the current generation
	partial []byte // trailing bytes not yet terminated by a newline
}

// OpenSource opens path for tailing. With startAtEnd the existing content is
// skipped and only lines appended afterwards are returned.
func OpenSource(key, path string, startAtEnd bool) (*Source, error) {
	f, ino, err := openGeneration(path)
	if err != nil {
		return nil, err
	}

	s := &Source{key: key, path: path}
	s.reset(f, ino)

	if startAtEnd {
		end, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to seek %s: %w", path, err)
		}
		s.reader.Reset(f)
		s.pos = end
	}

	return s, nil
}

// Key returns the logical key the source was opened for
func (s *Source) Key() string { return s.key }

// Path returns the tailed path
func (s *Source) Path() string { return s.path }

// Offset returns the read position within the current generation
func (s *Source) Offset() int64 { return s.pos }

// Poll returns the complete lines appended since the previous call
func (s *Source) Poll() ([]string, error) {
	ino, size, err := statPath(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Keep the handle, the file is usually mid-rotation
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, s.path)
		}
		return nil, err
	}

	switch {
	case ino != 0 && ino != s.inode:
		f, newIno, err := openGeneration(s.path)
		if err != nil {
			return nil, err
		}
		s.file.Close()
		s.reset(f, newIno)

	case size < s.pos:
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind %s: %w", s.path, err)
		}
		s.reset(s.file, s.inode)
	}

	return s.readLines()
}

// Close releases the file handle
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Source) reset(f *os.File, ino uint64) {
	s.file = f
	s.inode = ino
	s.pos = 0
	s.partial = nil
	if s.reader == nil {
		s.reader = bufio.NewReaderSize(f, 64*1024)
	} else {
		s.reader.Reset(f)
	}
}

func (s *Source) readLines() ([]string, error) {
	var lines []string
	for {
		b, err := s.reader.ReadBytes('\n')
		s.pos += int64(len(b))

		if len(b) > 0 {
			if b[len(b)-1] == '\n' {
				if len(s.partial) > 0 {
					b = append(s.partial, b...)
					s.partial = nil
				}
				lines = append(lines, strings.TrimRight(string(b), "\r\n"))
			} else {
				s.partial = append(s.partial, b...)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return lines, fmt.Errorf("failed to read %s: %w", s.path, err)
		}
	}
}

func openGeneration(path string) (*os.File, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	ino, err := fileInode(f)
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return f, ino, nil
}
