package build

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type call struct {
	bin  string
	args []string
}

func (c call) String() string {
	return c.bin + " " + strings.Join(c.args, " ")
}

// mockRunner stands in for MSBuild. Run drops the configured DLLs into
// the output dir the arguments select, unless fail is set.
type mockRunner struct {
	version string
	dlls    []string
	fail    error
	calls   []call
	// onRun, when set, runs against the solution before the DLLs appear.
	onRun func(sln string) error
}

func (m *mockRunner) Output(bin string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, call{bin: bin, args: args})
	if m.version == "" {
		return nil, errors.New("exec: " + bin + ": not found")
	}
	return []byte("MSBuild version 17.8.3+195e7f5a3 for .NET Framework\r\n" + m.version + "\r\n"), nil
}

func (m *mockRunner) Run(bin string, args []string, env map[string]string) error {
	m.calls = append(m.calls, call{bin: bin, args: args})
	if m.fail != nil {
		return m.fail
	}
	if m.onRun != nil {
		if err := m.onRun(args[0]); err != nil {
			return err
		}
	}
	dir := filepath.Dir(args[0])
	var conf, plat string
	for _, arg := range args {
		props, ok := strings.CutPrefix(arg, "-p:")
		if !ok {
			continue
		}
		for _, kv := range strings.Split(props, ";") {
			k, v, _ := strings.Cut(kv, "=")
			switch k {
			case "Configuration":
				conf = v
			case "Platform":
				plat = v
			}
		}
	}
	if plat == "x64" {
		dir = filepath.Join(dir, plat)
	}
	dir = filepath.Join(dir, conf)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range m.dlls {
		if err := os.WriteFile(filepath.Join(dir, name+".dll"), []byte("MZ"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type mockLocator struct {
	path string
	err  error
}

func (m mockLocator) Locate() (string, error) {
	return m.path, m.err
}

// setupManifest lays out a WinSockRaw project under a temp manifest dir.
func setupManifest(t *testing.T) string {
	t.Helper()
	header, err := os.ReadFile(filepath.Join("..", "cheader", "testdata", "winsockraw.h"))
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	files := map[string][]byte{
		"WinSockRaw.sln":                      []byte("Microsoft Visual Studio Solution File, Format Version 12.00\r\n"),
		"WinSockRawDll/winsockraw.h":          header,
		"WinSockRawDll/WinSockRawDll.vcxproj": []byte("<Project/>"),
		"WinSockRawDriver/driver.c":           []byte("#include <ntddk.h>\n"),
	}
	for name, data := range files {
		path := filepath.Join(root, "WinSockRaw", filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}
