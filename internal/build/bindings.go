package build

import (
	"os"
	"path/filepath"

	"github.com/rawsock/wsrbuild/internal/arch"
	"github.com/rawsock/wsrbuild/internal/bindgen"
	"github.com/rawsock/wsrbuild/internal/cheader"
	"github.com/rawsock/wsrbuild/internal/env"
)

// Bindings parses the header at path and generates the Go bindings for
// sel. The pipeline passes the staged copy, which is the header the DLL
// was compiled against.
func Bindings(proj *env.Project, sel arch.Selector, path string) (*bindgen.Output, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	opts := []cheader.Option{cheader.PointerSize(sel.PointerSize())}
	switch sel {
	case arch.X64:
		opts = append(opts, cheader.Define("_WIN64", "1"), cheader.Define("_M_X64", "100"), cheader.Define("_AMD64_", "1"))
	case arch.X86:
		opts = append(opts, cheader.Define("_M_IX86", "600"), cheader.Define("_X86_", "1"))
	}
	h, err := cheader.Parse(filepath.Base(path), src, opts...)
	if err != nil {
		return nil, err
	}
	return bindgen.Generate(h, bindgen.Options{
		Package: proj.Package,
		Include: filepath.Base(path),
		GOARCH:  sel.GOARCH(),
		Opaque:  proj.Opaque,
	})
}

// WriteBindings writes src to the binding directory and returns its path.
// The file is replaced on every call.
func WriteBindings(proj *env.Project, e env.Environment, sel arch.Selector, src []byte) (string, error) {
	dir := proj.BindingPath(e)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, bindgen.FileName(proj.Package, sel.GOARCH()))
	return path, os.WriteFile(path, src, 0o644)
}
