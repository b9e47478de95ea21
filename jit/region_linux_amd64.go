package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/chazu/bfjit/pkg/codegen"
)

// Supported reports whether native execution is available.
const Supported = true

// callNative calls the routine at entry and returns its eax.
// Implemented in native_linux_amd64.s.
//
//go:noescape
func callNative(entry uintptr) uint64

func mapTape(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: tape: %w", ErrMapping, err)
	}
	return b, nil
}

func mapWritable(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: code: %w", ErrMapping, err)
	}
	return b, nil
}

func protectExec(region []byte) error {
	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("%w: mprotect: %w", ErrMapping, err)
	}
	return nil
}

func unmap(region []byte) error {
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("%w: munmap: %w", ErrMapping, err)
	}
	return nil
}

func tapeBase(t []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(t)))
}

func invoke(region []byte) codegen.Status {
	return codegen.Status(uint32(callNative(uintptr(unsafe.Pointer(unsafe.SliceData(region))))))
}
