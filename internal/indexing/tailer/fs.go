package tailer

import (
	"io"
	"os"
	"time"
)

// FileID is the identity and size of a file at one point in time.
// Inode is nil on platforms without inode numbers.
type FileID struct {
	Inode   *uint64
	Size    int64
	ModTime time.Time
}

// SameInode reports whether both identities name the same inode. Two unknown
// inodes are treated as the same file.
func (id FileID) SameInode(inode *uint64) bool {
	if id.Inode == nil || inode == nil {
		return id.Inode == nil && inode == nil
	}
	return *id.Inode == *inode
}

// File is an open, seekable log file.
type File interface {
	io.ReadSeekCloser
	// Identity stats the open handle, not the path.
	Identity() (FileID, error)
}

// FS opens and stats the watched path.
type FS interface {
	Open(name string) (File, error)
	Stat(name string) (FileID, error)
}

// OSFS is the local filesystem.
type OSFS struct{}

func (OSFS) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (OSFS) Stat(name string) (FileID, error) {
	return statPath(name)
}

type osFile struct {
	*os.File
}

func (f osFile) Identity() (FileID, error) {
	return statFile(f.File)
}
