package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qiniu/x/config"
	"gopkg.in/yaml.v3"
)

// Project file names looked up in the manifest directory, in order.
const (
	ProjectFileJSON = "wsrbuild.json"
	ProjectFileYAML = "wsrbuild.yaml"
)

// Project describes the native project layout. The zero value is not
// useful; start from DefaultProject.
type Project struct {
	// Name is the project directory under the manifest dir, also the
	// staged directory name under the output dir.
	Name string `json:"name" yaml:"name"`
	// Solution is the solution file relative to the project directory.
	Solution string `json:"solution" yaml:"solution"`
	// Targets are the only targets MSBuild is asked to build.
	Targets []string `json:"targets" yaml:"targets"`
	// Library is the link name of the produced dynamic library.
	Library string `json:"library" yaml:"library"`
	// Header is the public header relative to the project directory.
	Header string `json:"header" yaml:"header"`
	// Opaque lists native types exposed only as opaque placeholders.
	Opaque []string `json:"opaque" yaml:"opaque"`
	// Package is the Go package name of the generated bindings.
	Package string `json:"package" yaml:"package"`
	// BindingDir is where generated Go files are written. Relative paths
	// are resolved against the output dir.
	BindingDir string `json:"binding_dir" yaml:"binding_dir"`
	// MinMSBuild optionally rejects older toolchains, e.g. "17.0".
	MinMSBuild string `json:"min_msbuild" yaml:"min_msbuild"`
}

// DefaultProject returns the WinSockRaw layout.
func DefaultProject() *Project {
	return &Project{
		Name:     "WinSockRaw",
		Solution: "WinSockRaw.sln",
		Targets:  []string{"WinSockRawDll", "WinSockRawDriver"},
		Library:  "WinSockRawDll",
		Header:   filepath.Join("WinSockRawDll", "winsockraw.h"),
		Opaque:   []string{"_IMAGE_TLS_DIRECTORY64"},
		Package:  "winsockraw",
	}
}

// LoadProject reads the project file from dir, falling back to the
// defaults when none exists. Fields left empty in the file keep their
// default values.
func LoadProject(dir string) (*Project, error) {
	p := DefaultProject()

	path := filepath.Join(dir, ProjectFileJSON)
	err := config.LoadFile(p, path)
	if err == nil {
		return p.fill(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	path = filepath.Join(dir, ProjectFileYAML)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p.fill(), nil
}

// fill restores defaults for fields a project file explicitly emptied.
func (p *Project) fill() *Project {
	def := DefaultProject()
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Solution == "" {
		p.Solution = def.Solution
	}
	if len(p.Targets) == 0 {
		p.Targets = def.Targets
	}
	if p.Library == "" {
		p.Library = def.Library
	}
	if p.Header == "" {
		p.Header = def.Header
	}
	if p.Package == "" {
		p.Package = def.Package
	}
	return p
}

// SourceDir returns the native project directory inside the manifest dir.
func (p *Project) SourceDir(e Environment) string {
	return filepath.Join(e.ManifestDir, p.Name)
}

// StagedDir returns the staged copy of the project inside the output dir.
func (p *Project) StagedDir(e Environment) string {
	return filepath.Join(e.OutDir, p.Name)
}

// BindingPath returns the directory generated Go files are written to.
func (p *Project) BindingPath(e Environment) string {
	if p.BindingDir == "" {
		return e.OutDir
	}
	if filepath.IsAbs(p.BindingDir) {
		return p.BindingDir
	}
	return filepath.Join(e.OutDir, p.BindingDir)
}

// HeaderPath returns the public header in the source tree.
func (p *Project) HeaderPath(e Environment) string {
	return filepath.Join(p.SourceDir(e), p.Header)
}

// StagedHeaderPath returns the public header in the staged tree.
func (p *Project) StagedHeaderPath(e Environment) string {
	return filepath.Join(p.StagedDir(e), p.Header)
}

// WatchPath returns the header path relative to the manifest dir, in
// slash form, as reported in rerun directives.
func (p *Project) WatchPath() string {
	return filepath.ToSlash(filepath.Join(p.Name, p.Header))
}
