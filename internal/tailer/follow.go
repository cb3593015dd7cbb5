package tailer

import (
	"fmt"
	"io"

	"github.com/nxadm/tail"
)

// FollowSource tails a file with nxadm/tail, which watches the file with
// inotify (or polling) in its own goroutine. Poll drains whatever the
// follower has buffered without blocking.
type FollowSource struct {
	key  string
	path string
	t    *tail.Tail
}

// OpenFollowSource starts following path. ReOpen makes the follower reopen
// the path after rotation and restart from the beginning after truncation.
func OpenFollowSource(key, path string, startAtEnd, poll bool) (*FollowSource, error) {
	config := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      poll,
		Logger:    tail.DiscardingLogger,
	}
	if startAtEnd {
		config.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to tail file %s: %w", path, err)
	}

	return &FollowSource{key: key, path: path, t: t}, nil
}

// Key returns the logical key the source was opened for
func (f *FollowSource) Key() string { return f.key }

// Path returns the followed path
func (f *FollowSource) Path() string { return f.path }

// Poll returns the lines delivered by the follower since the previous call
func (f *FollowSource) Poll() ([]string, error) {
	var lines []string
	for {
		select {
		case line, ok := <-f.t.Lines:
			if !ok {
				if err := f.t.Err(); err != nil {
					return lines, fmt.Errorf("follower for %s stopped: %w", f.path, err)
				}
				return lines, fmt.Errorf("%w: follower for %s stopped", ErrSourceMissing, f.path)
			}
			if line.Err != nil {
				return lines, fmt.Errorf("failed to read %s: %w", f.path, line.Err)
			}
			lines = append(lines, line.Text)
		default:
			return lines, nil
		}
	}
}

// Close stops the follower and releases its file handle
func (f *FollowSource) Close() error {
	// The follower blocks on unbuffered sends, drain until it closes Lines
	go func() {
		for range f.t.Lines {
		}
	}()
	err := f.t.Stop()
	f.t.Cleanup()
	return err
}
