//go:build !unix

package tailer

import "os"

// Inodes are not available here; rotation is only detected as truncation.

func statPath(path string) (uint64, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return 0, info.Size(), nil
}

func fileInode(f *os.File) (uint64, error) {
	return 0, nil
}
