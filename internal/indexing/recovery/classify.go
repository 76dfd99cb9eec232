package recovery

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/vietddude/tailwatch/internal/core/domain"
)

// Message fragments per kind, checked in this order.
var patterns = []struct {
	kind     domain.ErrorKind
	contains []string
}{
	{domain.ErrorKindStream, []string{
		"underlying stream is not seekable",
		"illegal seek",
		"file already closed",
		"bad file descriptor",
	}},
	{domain.ErrorKindPermission, []string{"permission denied", "access denied", "operation not permitted"}},
	{domain.ErrorKindNotFound, []string{"no such file", "file not found"}},
	{domain.ErrorKindNetwork, []string{"connection", "network"}},
	{domain.ErrorKindDisk, []string{"disk", "space", "input/output error"}},
}

// Classify maps an error to its kind. Wrapped sentinel errors are checked
// first, then the message text.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindUnknown
	}

	switch {
	case errors.Is(err, os.ErrClosed),
		errors.Is(err, syscall.ESPIPE),
		errors.Is(err, syscall.EBADF):
		return domain.ErrorKindStream
	case errors.Is(err, fs.ErrPermission):
		return domain.ErrorKindPermission
	case errors.Is(err, fs.ErrNotExist):
		return domain.ErrorKindNotFound
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EIO):
		return domain.ErrorKindDisk
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrorKindNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, s := range p.contains {
			if strings.Contains(msg, s) {
				return p.kind
			}
		}
	}
	return domain.ErrorKindUnknown
}
