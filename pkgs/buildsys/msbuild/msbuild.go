package msbuild

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rawsock/wsrbuild/internal/arch"
	"github.com/rawsock/wsrbuild/internal/toolchain"
	"github.com/rawsock/wsrbuild/pkgs/buildsys"
)

// ErrNativeBuild is returned when MSBuild exits unsuccessfully. MSBuild's
// own diagnostics have already been streamed to the output by then.
var ErrNativeBuild = errors.New("native build failed")

// MSBuild wraps an MSBuild invocation with chainable configuration.
type MSBuild struct {
	exe           string
	runner        toolchain.Runner
	solution      string
	targets       []string
	configuration string
	platform      arch.Selector
	props         map[string]string
	env           map[string]string
}

var _ buildsys.BuildSystem = (*MSBuild)(nil)

// New creates an MSBuild helper for the executable at exe.
func New(exe string, r toolchain.Runner) *MSBuild {
	return &MSBuild{
		exe:    exe,
		runner: r,
		props:  map[string]string{},
		env:    map[string]string{},
	}
}

func (m *MSBuild) Source(solution string) {
	m.solution = solution
}

// Targets restricts the build to the named projects. Without targets
// MSBuild builds the whole solution.
func (m *MSBuild) Targets(names ...string) *MSBuild {
	m.targets = append([]string(nil), names...)
	return m
}

func (m *MSBuild) Configuration(name string) *MSBuild {
	m.configuration = name
	return m
}

func (m *MSBuild) Platform(sel arch.Selector) *MSBuild {
	m.platform = sel
	return m
}

// Property sets an extra -p: property. Configuration and Platform are
// managed by their own setters.
func (m *MSBuild) Property(key, value string) *MSBuild {
	if m.props == nil {
		m.props = map[string]string{}
	}
	m.props[key] = value
	return m
}

func (m *MSBuild) Env(key, value string) {
	if m.env == nil {
		m.env = map[string]string{}
	}
	m.env[key] = value
}

// Args returns the command line Build passes to MSBuild, extra excluded.
func (m *MSBuild) Args() []string {
	args := []string{m.solution}
	if len(m.targets) > 0 {
		args = append(args, "-target:"+strings.Join(m.targets, ";"))
	}
	if p := m.propsArg(); p != "" {
		args = append(args, p)
	}
	return args
}

// Build invokes MSBuild and blocks until it exits.
func (m *MSBuild) Build(args ...string) error {
	if m.solution == "" {
		return fmt.Errorf("%w: no solution set", ErrNativeBuild)
	}
	cmdArgs := append(m.Args(), args...)
	if err := m.runner.Run(m.exe, cmdArgs, m.env); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNativeBuild, filepath.Base(m.solution), err)
	}
	return nil
}

// OutputDir returns where MSBuild places the configuration's outputs:
// <solution dir>/<platform subdir>/<configuration>.
func (m *MSBuild) OutputDir() string {
	return filepath.Join(filepath.Dir(m.solution), m.platform.Subdir(), m.configuration)
}

func (m *MSBuild) propsArg() string {
	var kvs []string
	if m.configuration != "" {
		kvs = append(kvs, "Configuration="+m.configuration)
	}
	if p := m.platform.Platform(); p != "" {
		kvs = append(kvs, "Platform="+p)
	}
	keys := make([]string, 0, len(m.props))
	for k := range m.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kvs = append(kvs, k+"="+m.props[k])
	}
	if len(kvs) == 0 {
		return ""
	}
	return "-p:" + strings.Join(kvs, ";")
}
