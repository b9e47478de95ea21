//go:build !linux

package engine

import "os"

// newSink returns an unlinked temporary file.
func newSink() (*os.File, error) {
	f, err := os.CreateTemp("", "bfjit-output-*")
	if err != nil {
		return nil, err
	}
	os.Remove(f.Name())
	return f, nil
}
