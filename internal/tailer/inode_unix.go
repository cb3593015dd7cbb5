//go:build unix

package tailer

import (
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// statPath returns the inode and size of the file currently at path
func statPath(path string) (uint64, int64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return uint64(st.Ino), st.Size, nil
}

// fileInode returns the inode of an open handle
func fileInode(f *os.File) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, &fs.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}
	return uint64(st.Ino), nil
}
