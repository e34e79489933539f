// Package link derives the directives that make a cgo host package link
// the freshly built native library.
package link

import (
	"bytes"
	"errors"
	"fmt"
	"go/format"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rawsock/wsrbuild/internal/arch"
)

// ErrArtifactNotFound is returned when the native build reported success
// but the expected library is missing.
var ErrArtifactNotFound = errors.New("artifact not found")

// Prefix starts every textual directive line.
const Prefix = "wsrbuild:"

// ArtifactDir returns where MSBuild leaves the outputs of profile:
// stagedRoot/x64/profile for 64-bit builds, stagedRoot/profile for 32-bit.
func ArtifactDir(stagedRoot string, sel arch.Selector, profile string) string {
	return filepath.Join(stagedRoot, sel.Subdir(), profile)
}

// Config describes a finished native build.
type Config struct {
	ArtifactDir string
	// Libraries are link names; each must exist as <name>.dll.
	Libraries []string
	// IncludeDir holds the public header the bindings compile against.
	IncludeDir string
	// Watch lists the files whose change invalidates the bindings.
	Watch []string
}

// Directives tell the host build how to link the native library.
type Directives struct {
	SearchPath     string
	Libraries      []string
	IncludeDir     string
	RerunIfChanged []string
}

// Configure checks that every library was produced and returns the
// directives for it. Nothing is returned when a library is missing.
func Configure(c Config) (*Directives, error) {
	if len(c.Libraries) == 0 {
		return nil, fmt.Errorf("%w: no library configured", ErrArtifactNotFound)
	}
	for _, lib := range c.Libraries {
		dll := filepath.Join(c.ArtifactDir, lib+".dll")
		info, err := os.Stat(dll)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, dll)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrArtifactNotFound, dll)
		}
	}
	return &Directives{
		SearchPath:     c.ArtifactDir,
		Libraries:      append([]string(nil), c.Libraries...),
		IncludeDir:     c.IncludeDir,
		RerunIfChanged: append([]string(nil), c.Watch...),
	}, nil
}

// Lines renders the directives in the textual form, search path first.
func (d *Directives) Lines() []string {
	lines := []string{Prefix + "link-search=native=" + d.SearchPath}
	for _, lib := range d.Libraries {
		lines = append(lines, Prefix+"link-lib=dylib="+lib)
	}
	for _, path := range d.RerunIfChanged {
		lines = append(lines, Prefix+"rerun-if-changed="+path)
	}
	return lines
}

// WriteTo writes one directive per line.
func (d *Directives) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, line := range d.Lines() {
		k, err := io.WriteString(w, line+"\n")
		n += int64(k)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ParseLines reads directives written by WriteTo. Lines without the
// prefix are ignored, so mixed tool output can be fed in.
func ParseLines(r io.Reader) (*Directives, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	d := &Directives{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		rest, ok := strings.CutPrefix(line, Prefix)
		if !ok {
			continue
		}
		key, val, _ := strings.Cut(rest, "=")
		switch key {
		case "link-search":
			d.SearchPath = strings.TrimPrefix(val, "native=")
		case "link-lib":
			d.Libraries = append(d.Libraries, strings.TrimPrefix(val, "dylib="))
		case "rerun-if-changed":
			d.RerunIfChanged = append(d.RerunIfChanged, val)
		default:
			return nil, fmt.Errorf("unknown directive %q", line)
		}
	}
	return d, nil
}

// CgoFileName returns the name of the generated link file.
func CgoFileName(pkg, goarch string) string {
	return "z" + pkg + "_link_windows_" + goarch + ".go"
}

// CgoFile renders a Go file for package pkg carrying the directives as
// cgo flags.
func (d *Directives) CgoFile(pkg, goarch string) ([]byte, error) {
	var ld []string
	ld = append(ld, "-L"+cgoPath(d.SearchPath))
	for _, lib := range d.Libraries {
		ld = append(ld, "-l"+lib)
	}

	var b bytes.Buffer
	b.WriteString("// Code generated by wsrbuild. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "//go:build windows && %s\n\n", goarch)
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	if d.IncludeDir != "" {
		fmt.Fprintf(&b, "// #cgo CFLAGS: -I%s\n", cgoPath(d.IncludeDir))
	}
	fmt.Fprintf(&b, "// #cgo LDFLAGS: %s\n", strings.Join(ld, " "))
	b.WriteString("import \"C\"\n")
	return format.Source(b.Bytes())
}

// cgoPath spells a path for a #cgo line. cgo treats backslashes as
// escapes and splits on spaces.
func cgoPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if strings.ContainsAny(p, " \t") {
		return `"` + p + `"`
	}
	return p
}

// WriteFiles writes the directives to the text file at path and the cgo
// file into dir.
func (d *Directives) WriteFiles(path, dir, pkg, goarch string) (string, error) {
	var text bytes.Buffer
	if _, err := d.WriteTo(&text); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, text.Bytes(), 0o644); err != nil {
		return "", err
	}

	src, err := d.CgoFile(pkg, goarch)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	cgo := filepath.Join(dir, CgoFileName(pkg, goarch))
	return cgo, os.WriteFile(cgo, src, 0o644)
}
