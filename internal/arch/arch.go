// Package arch derives the MSBuild platform from a target triple.
package arch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedTarget is returned for triples that map to no platform.
var ErrUnsupportedTarget = errors.New("unsupported target")

// Selector is the architecture class of a build.
type Selector int

const (
	X86 Selector = iota + 1
	X64
)

// FromTriple classifies a target triple. Triples containing "x86_64",
// or whose architecture component is amd64/x64, are 64-bit; the x86
// family of 32-bit names maps to X86. Anything else is rejected rather
// than guessed.
func FromTriple(triple string) (Selector, error) {
	if strings.Contains(triple, "x86_64") {
		return X64, nil
	}
	cpu, _, _ := strings.Cut(strings.ToLower(triple), "-")
	switch cpu {
	case "amd64", "x64":
		return X64, nil
	case "i386", "i486", "i586", "i686", "x86", "386":
		return X86, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedTarget, triple)
}

// Platform returns the MSBuild Platform property value.
func (s Selector) Platform() string {
	switch s {
	case X64:
		return "x64"
	case X86:
		return "x86"
	}
	return ""
}

// Subdir returns the output subdirectory MSBuild uses for the platform.
// 32-bit outputs land directly under the configuration directory, so the
// X86 segment is empty.
func (s Selector) Subdir() string {
	if s == X64 {
		return "x64"
	}
	return ""
}

// GOARCH returns the Go architecture the bindings are generated for.
func (s Selector) GOARCH() string {
	switch s {
	case X64:
		return "amd64"
	case X86:
		return "386"
	}
	return ""
}

// PointerSize returns the size of a native pointer in bytes.
func (s Selector) PointerSize() int {
	if s == X64 {
		return 8
	}
	return 4
}

func (s Selector) String() string {
	if p := s.Platform(); p != "" {
		return p
	}
	return fmt.Sprintf("Selector(%d)", int(s))
}
