//go:build !(linux && amd64)

package jit

import "github.com/chazu/bfjit/pkg/codegen"

// Supported reports whether native execution is available.
const Supported = false

func mapTape(int) ([]byte, error) { return nil, ErrUnsupportedPlatform }

func mapWritable(int) ([]byte, error) { return nil, ErrUnsupportedPlatform }

func protectExec([]byte) error { return ErrUnsupportedPlatform }

func unmap([]byte) error { return nil }

func tapeBase([]byte) uintptr { return 0 }

func invoke([]byte) codegen.Status { return codegen.StatusOK }
