//go:build !linux && !darwin

package tailer

import (
	"io/fs"
	"os"
)

func statPath(path string) (FileID, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileID{}, err
	}
	return fromInfo(info), nil
}

func statFile(f *os.File) (FileID, error) {
	info, err := f.Stat()
	if err != nil {
		return FileID{}, err
	}
	return fromInfo(info), nil
}

func fromInfo(info fs.FileInfo) FileID {
	return FileID{Size: info.Size(), ModTime: info.ModTime()}
}
