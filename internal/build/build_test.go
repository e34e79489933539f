package build

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rawsock/wsrbuild/internal/arch"
	"github.com/rawsock/wsrbuild/internal/env"
	"github.com/rawsock/wsrbuild/internal/link"
	"github.com/rawsock/wsrbuild/internal/stage"
	"github.com/rawsock/wsrbuild/internal/toolchain"
	"github.com/rawsock/wsrbuild/pkgs/buildsys/msbuild"
)

const fakeMSBuild = `C:\VS\MSBuild\Current\Bin\MSBuild.exe`

func newEnv(t *testing.T, target string) env.Environment {
	t.Helper()
	return env.Environment{
		ManifestDir: setupManifest(t),
		OutDir:      t.TempDir(),
		Profile:     "debug",
		Target:      target,
	}
}

func newPipeline(r *mockRunner, stdout *bytes.Buffer) *Pipeline {
	return &Pipeline{
		Locator: mockLocator{path: fakeMSBuild},
		Runner:  r,
		Stdout:  stdout,
		Now: func() time.Time {
			return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
		},
	}
}

func TestPipelineRunX64(t *testing.T) {
	e := newEnv(t, "x86_64-pc-windows-msvc")
	r := &mockRunner{dlls: []string{"WinSockRawDll"}}
	var stdout bytes.Buffer

	res, err := newPipeline(r, &stdout).Run(e)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	staged := filepath.Join(e.OutDir, "WinSockRaw")
	if res.StagedDir != staged {
		t.Errorf("StagedDir = %q, want %q", res.StagedDir, staged)
	}
	if _, err := os.Stat(filepath.Join(staged, "WinSockRawDriver", "driver.c")); err != nil {
		t.Errorf("project not staged: %v", err)
	}

	if len(r.calls) != 1 {
		t.Fatalf("runner calls = %v, want one MSBuild run", r.calls)
	}
	wantArgs := []string{
		filepath.Join(staged, "WinSockRaw.sln"),
		"-target:WinSockRawDll;WinSockRawDriver",
		"-p:Configuration=debug;Platform=x64",
	}
	if r.calls[0].bin != fakeMSBuild || !reflect.DeepEqual(r.calls[0].args, wantArgs) {
		t.Errorf("MSBuild call = %v, want %s %v", r.calls[0], fakeMSBuild, wantArgs)
	}

	artifacts := filepath.Join(staged, "x64", "debug")
	if res.ArtifactDir != artifacts {
		t.Errorf("ArtifactDir = %q, want %q", res.ArtifactDir, artifacts)
	}
	wantLines := "wsrbuild:link-search=native=" + artifacts + "\n" +
		"wsrbuild:link-lib=dylib=WinSockRawDll\n" +
		"wsrbuild:rerun-if-changed=WinSockRaw/WinSockRawDll/winsockraw.h\n"
	if stdout.String() != wantLines {
		t.Errorf("stdout = %q, want %q", stdout.String(), wantLines)
	}
	data, err := os.ReadFile(filepath.Join(e.OutDir, DirectivesFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != wantLines {
		t.Errorf("%s = %q, want %q", DirectivesFile, data, wantLines)
	}

	if want := filepath.Join(e.OutDir, "zwinsockraw_link_windows_amd64.go"); res.LinkFile != want {
		t.Errorf("LinkFile = %q, want %q", res.LinkFile, want)
	}
	if want := filepath.Join(e.OutDir, "zwinsockraw_windows_amd64.go"); res.BindingFile != want {
		t.Errorf("BindingFile = %q, want %q", res.BindingFile, want)
	}
	src, err := os.ReadFile(res.BindingFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"//go:build windows && amd64",
		"package winsockraw",
		`#include "winsockraw.h"`,
		"func SocketRawBind(hSocket HANDLE, InterfaceIndex ULONG) (ret BOOL)",
		"type _IMAGE_TLS_DIRECTORY64 struct",
	} {
		if !strings.Contains(string(src), want) {
			t.Errorf("binding file missing %q", want)
		}
	}

	if stale, reason, err := Stale(env.DefaultProject(), e); err != nil || stale {
		t.Errorf("Stale after run = %v %q %v", stale, reason, err)
	}
	cache, err := loadCache(e.OutDir)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := cache.get("x64", "debug")
	if !ok || entry.MSBuild != fakeMSBuild || entry.Profile != "debug" {
		t.Errorf("build record = %+v", entry)
	}
}

func TestPipelineRunX86(t *testing.T) {
	e := newEnv(t, "i686-pc-windows-msvc")
	r := &mockRunner{dlls: []string{"WinSockRawDll"}}
	var stdout bytes.Buffer

	res, err := newPipeline(r, &stdout).Run(e)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Arch != arch.X86 {
		t.Errorf("Arch = %v, want x86", res.Arch)
	}
	if got := r.calls[0].args[2]; got != "-p:Configuration=debug;Platform=x86" {
		t.Errorf("properties = %q", got)
	}
	artifacts := filepath.Join(e.OutDir, "WinSockRaw", "debug")
	if res.ArtifactDir != artifacts {
		t.Errorf("ArtifactDir = %q, want %q", res.ArtifactDir, artifacts)
	}
	if !strings.HasPrefix(stdout.String(), "wsrbuild:link-search=native="+artifacts+"\n") {
		t.Errorf("stdout = %q", stdout.String())
	}
	if filepath.Base(res.BindingFile) != "zwinsockraw_windows_386.go" {
		t.Errorf("BindingFile = %q", res.BindingFile)
	}
}

func TestPipelineBindingDir(t *testing.T) {
	e := newEnv(t, "x86_64-pc-windows-msvc")
	proj := env.DefaultProject()
	proj.BindingDir = "bindings"
	p := newPipeline(&mockRunner{dlls: []string{"WinSockRawDll"}}, &bytes.Buffer{})
	p.Project = proj

	res, err := p.Run(e)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	dir := filepath.Join(e.OutDir, "bindings")
	if filepath.Dir(res.BindingFile) != dir || filepath.Dir(res.LinkFile) != dir {
		t.Errorf("generated files %q, %q not in %q", res.BindingFile, res.LinkFile, dir)
	}
}

func TestPipelineFailures(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		runner   *mockRunner
		locator  toolchain.Locator
		min      string
		step     Step
		want     error
		wantRuns int
	}{
		{
			name:    "unsupported target",
			target:  "aarch64-pc-windows-msvc",
			runner:  &mockRunner{},
			locator: mockLocator{path: fakeMSBuild},
			step:    StepEnv,
			want:    arch.ErrUnsupportedTarget,
		},
		{
			name:    "no toolchain",
			target:  "x86_64-pc-windows-msvc",
			runner:  &mockRunner{},
			locator: mockLocator{err: toolchain.ErrToolchainNotFound},
			step:    StepLocate,
			want:    toolchain.ErrToolchainNotFound,
		},
		{
			name:     "toolchain too old",
			target:   "x86_64-pc-windows-msvc",
			runner:   &mockRunner{version: "16.11.2.50704"},
			locator:  mockLocator{path: fakeMSBuild},
			min:      "17.0",
			step:     StepLocate,
			want:     toolchain.ErrToolchainTooOld,
			wantRuns: 1,
		},
		{
			name:     "build fails",
			target:   "x86_64-pc-windows-msvc",
			runner:   &mockRunner{fail: errors.New("exit status 1")},
			locator:  mockLocator{path: fakeMSBuild},
			step:     StepBuild,
			want:     msbuild.ErrNativeBuild,
			wantRuns: 1,
		},
		{
			name:     "artifact missing",
			target:   "x86_64-pc-windows-msvc",
			runner:   &mockRunner{dlls: []string{"Other"}},
			locator:  mockLocator{path: fakeMSBuild},
			step:     StepLink,
			want:     link.ErrArtifactNotFound,
			wantRuns: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.target)
			var stdout bytes.Buffer
			p := newPipeline(tt.runner, &stdout)
			p.Locator = tt.locator
			if tt.min != "" {
				p.Project = env.DefaultProject()
				p.Project.MinMSBuild = tt.min
			}

			res, err := p.Run(e)
			if res != nil {
				t.Errorf("Run returned result %+v", res)
			}
			var se *StepError
			if !errors.As(err, &se) || se.Step != tt.step {
				t.Fatalf("Run error = %v, want failure in step %s", err, tt.step)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Run error = %v, want %v", err, tt.want)
			}
			if len(tt.runner.calls) != tt.wantRuns {
				t.Errorf("runner calls = %v, want %d", tt.runner.calls, tt.wantRuns)
			}
			if stdout.Len() != 0 {
				t.Errorf("directives emitted on failure: %q", stdout.String())
			}
			if _, err := os.Stat(filepath.Join(e.OutDir, cacheFile)); err == nil {
				t.Error("build recorded on failure")
			}
		})
	}
}

func TestPipelineMissingEnv(t *testing.T) {
	r := &mockRunner{}
	_, err := newPipeline(r, &bytes.Buffer{}).Run(env.Environment{Profile: "debug"})
	if !errors.Is(err, env.ErrMissingEnv) {
		t.Fatalf("Run error = %v, want ErrMissingEnv", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("runner called without environment: %v", r.calls)
	}
}

func TestPipelineStagingFailure(t *testing.T) {
	e := newEnv(t, "x86_64-pc-windows-msvc")
	if err := os.RemoveAll(filepath.Join(e.ManifestDir, "WinSockRaw")); err != nil {
		t.Fatal(err)
	}
	r := &mockRunner{}
	_, err := newPipeline(r, &bytes.Buffer{}).Run(e)
	if !errors.Is(err, stage.ErrStaging) {
		t.Fatalf("Run error = %v, want ErrStaging", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("MSBuild ran after staging failed: %v", r.calls)
	}
}

func TestPipelineRebuildRestages(t *testing.T) {
	e := newEnv(t, "x86_64-pc-windows-msvc")
	r := &mockRunner{dlls: []string{"WinSockRawDll"}}
	p := newPipeline(r, &bytes.Buffer{})
	if _, err := p.Run(e); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	header := env.DefaultProject().HeaderPath(e)
	if err := os.WriteFile(header, []byte("#define WINSOCKRAW_VERSION 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(e); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(r.calls) != 2 {
		t.Errorf("MSBuild ran %d times, want 2", len(r.calls))
	}
	staged, err := os.ReadFile(env.DefaultProject().StagedHeaderPath(e))
	if err != nil {
		t.Fatal(err)
	}
	if string(staged) != "#define WINSOCKRAW_VERSION 2\n" {
		t.Errorf("staged header not refreshed: %q", staged)
	}
	if stale, _, err := Stale(env.DefaultProject(), e); err != nil || stale {
		t.Errorf("Stale after rebuild = %v %v", stale, err)
	}
}

func TestPipelineBindsStagedHeader(t *testing.T) {
	e := newEnv(t, "x86_64-pc-windows-msvc")
	source := env.DefaultProject().HeaderPath(e)
	before, err := os.ReadFile(source)
	if err != nil {
		t.Fatal(err)
	}
	// The compiled project sees a header that differs from the source tree.
	r := &mockRunner{
		dlls: []string{"WinSockRawDll"},
		onRun: func(sln string) error {
			staged := filepath.Join(filepath.Dir(sln), "WinSockRawDll", "winsockraw.h")
			f, err := os.OpenFile(staged, os.O_APPEND|os.O_WRONLY, 0)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = f.WriteString("\n#define WINSOCKRAW_STAGED 7\n")
			return err
		},
	}

	res, err := newPipeline(r, &bytes.Buffer{}).Run(e)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	src, err := os.ReadFile(res.BindingFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(src), "WINSOCKRAW_STAGED") {
		t.Error("bindings not generated from the staged header")
	}

	// The record still fingerprints the source header.
	after, err := os.ReadFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("source header modified")
	}
	if stale, reason, err := Stale(env.DefaultProject(), e); err != nil || stale {
		t.Errorf("Stale after run = %v %q %v", stale, reason, err)
	}
}
