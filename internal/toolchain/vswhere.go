package toolchain

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qiniu/x/osx"
	"golang.org/x/mod/semver"
)

var (
	// ErrToolchainNotFound is returned when MSBuild cannot be located.
	ErrToolchainNotFound = errors.New("toolchain not found")
	// ErrToolchainTooOld is returned when MSBuild is older than required.
	ErrToolchainTooOld = errors.New("toolchain too old")
)

// vswhereArgs asks for the newest installation, prereleases included, of
// any product that ships the MSBuild component, and prints the path of
// MSBuild.exe itself.
var vswhereArgs = []string{
	"-latest",
	"-prerelease",
	"-products", "*",
	"-requires", "Microsoft.Component.MSBuild",
	"-find", `MSBuild\**\Bin\MSBuild.exe`,
}

// Locator finds the build tool executable.
type Locator interface {
	Locate() (string, error)
}

// VSWhere locates MSBuild through the Visual Studio installer's
// vswhere.exe. It resolves the path on every call.
type VSWhere struct {
	// Path overrides the vswhere.exe location. When empty the fixed
	// installer path under Program Files (x86) is used.
	Path   string
	Runner Runner
}

var _ Locator = (*VSWhere)(nil)

// NewVSWhere returns a locator that runs vswhere.exe with r.
func NewVSWhere(r Runner) *VSWhere {
	return &VSWhere{Runner: r}
}

// DefaultVSWherePath returns the fixed installer location of vswhere.exe.
func DefaultVSWherePath() (string, error) {
	pf, err := programFilesX86()
	if err != nil {
		return "", err
	}
	return filepath.Join(pf, "Microsoft Visual Studio", "Installer", "vswhere.exe"), nil
}

func (v *VSWhere) Locate() (string, error) {
	locator := v.Path
	if locator == "" {
		p, err := DefaultVSWherePath()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrToolchainNotFound, err)
		}
		locator = p
	}
	if _, err := os.Stat(locator); err != nil {
		return "", fmt.Errorf("%w: vswhere: %v", ErrToolchainNotFound, err)
	}

	out, err := v.Runner.Output(locator, vswhereArgs...)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrToolchainNotFound, locator, err)
	}
	msbuild := firstLine(out)
	if msbuild == "" {
		return "", fmt.Errorf("%w: vswhere reported no MSBuild installation", ErrToolchainNotFound)
	}
	if _, err := os.Stat(msbuild); err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolchainNotFound, err)
	}
	return msbuild, nil
}

func firstLine(out []byte) string {
	it := osx.EnumLines(bytes.NewReader(out))
	for {
		line, ok := it.Next()
		if !ok {
			return ""
		}
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
}

// Version reports the MSBuild version as a semantic version, e.g.
// "v17.8.3" for MSBuild 17.8.3.51904.
func Version(r Runner, msbuild string) (string, error) {
	out, err := r.Output(msbuild, "-version", "-nologo")
	if err != nil {
		return "", fmt.Errorf("msbuild -version: %w", err)
	}
	var last string
	it := osx.EnumLines(bytes.NewReader(out))
	for {
		line, ok := it.Next()
		if !ok {
			break
		}
		if line = strings.TrimSpace(line); line != "" {
			last = line
		}
	}
	v := toSemver(last)
	if v == "" {
		return "", fmt.Errorf("msbuild -version: unrecognized output %q", last)
	}
	return v, nil
}

// CheckVersion fails with ErrToolchainTooOld when version is below min.
// An empty min accepts any version.
func CheckVersion(version, min string) error {
	if min == "" {
		return nil
	}
	want := toSemver(min)
	if want == "" {
		return fmt.Errorf("invalid minimum MSBuild version %q", min)
	}
	if semver.Compare(version, want) < 0 {
		return fmt.Errorf("%w: MSBuild %s, need %s", ErrToolchainTooOld, version, want)
	}
	return nil
}

// toSemver keeps at most three numeric components of a dotted version.
func toSemver(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	v := semver.Canonical("v" + strings.Join(parts, "."))
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
