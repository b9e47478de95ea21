package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// newSink returns an anonymous in-memory file.
func newSink() (*os.File, error) {
	fd, err := unix.MemfdCreate("bfjit-output", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), "bfjit-output"), nil
}
