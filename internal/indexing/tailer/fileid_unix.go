//go:build linux || darwin

package tailer

import (
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func statPath(path string) (FileID, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return FileID{}, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return fromStat(&st), nil
}

func statFile(f *os.File) (FileID, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return FileID{}, &fs.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}
	return fromStat(&st), nil
}

func fromStat(st *unix.Stat_t) FileID {
	inode := uint64(st.Ino)
	return FileID{
		Inode:   &inode,
		Size:    st.Size,
		ModTime: time.Unix(st.Mtim.Unix()),
	}
}
