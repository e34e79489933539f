package env

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadProjectDefaults(t *testing.T) {
	p, err := LoadProject(t.TempDir())
	if err != nil {
		t.Fatalf("LoadProject() = %v", err)
	}
	if !reflect.DeepEqual(p, DefaultProject()) {
		t.Fatalf("LoadProject() = %+v, want defaults", p)
	}
}

func TestLoadProjectJSON(t *testing.T) {
	dir := t.TempDir()
	data := `{
  # comments are allowed
  "library": "RawDll",
  "opaque": ["_A", "_B"],
  "min_msbuild": "17.0"
}
`
	if err := os.WriteFile(filepath.Join(dir, ProjectFileJSON), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject() = %v", err)
	}
	if p.Library != "RawDll" {
		t.Errorf("Library = %q", p.Library)
	}
	if !reflect.DeepEqual(p.Opaque, []string{"_A", "_B"}) {
		t.Errorf("Opaque = %v", p.Opaque)
	}
	if p.MinMSBuild != "17.0" {
		t.Errorf("MinMSBuild = %q", p.MinMSBuild)
	}
	if p.Solution != "WinSockRaw.sln" {
		t.Errorf("Solution = %q, want default", p.Solution)
	}
}

func TestLoadProjectYAML(t *testing.T) {
	dir := t.TempDir()
	data := "name: Raw\ntargets: [A, B]\npackage: raw\nbinding_dir: gen\n"
	if err := os.WriteFile(filepath.Join(dir, ProjectFileYAML), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject() = %v", err)
	}
	if p.Name != "Raw" || p.Package != "raw" {
		t.Errorf("project = %+v", p)
	}
	if !reflect.DeepEqual(p.Targets, []string{"A", "B"}) {
		t.Errorf("Targets = %v", p.Targets)
	}

	e := Environment{ManifestDir: "/m", OutDir: "/o"}
	if got := p.StagedDir(e); got != filepath.Join("/o", "Raw") {
		t.Errorf("StagedDir() = %q", got)
	}
	if got := p.BindingPath(e); got != filepath.Join("/o", "gen") {
		t.Errorf("BindingPath() = %q", got)
	}
}

func TestLoadProjectInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProjectFileJSON), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProject(dir); err == nil {
		t.Fatal("LoadProject() with invalid JSON succeeded")
	}
}

func TestProjectPaths(t *testing.T) {
	p := DefaultProject()
	e := Environment{ManifestDir: filepath.Join("m"), OutDir: filepath.Join("o")}
	if got, want := p.HeaderPath(e), filepath.Join("m", "WinSockRaw", "WinSockRawDll", "winsockraw.h"); got != want {
		t.Errorf("HeaderPath() = %q, want %q", got, want)
	}
	if got, want := p.StagedHeaderPath(e), filepath.Join("o", "WinSockRaw", "WinSockRawDll", "winsockraw.h"); got != want {
		t.Errorf("StagedHeaderPath() = %q, want %q", got, want)
	}
	if got := p.WatchPath(); got != "WinSockRaw/WinSockRawDll/winsockraw.h" {
		t.Errorf("WatchPath() = %q", got)
	}
	if got := p.BindingPath(e); got != "o" {
		t.Errorf("BindingPath() = %q, want output dir", got)
	}
}
