package env

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromLookup(t *testing.T) {
	e := FromLookup(lookupMap(map[string]string{
		KeyManifestDir: "/src",
		KeyOutDir:      "/out",
		KeyProfile:     "debug",
		KeyTarget:      "x86_64-pc-windows-msvc",
	}))
	want := Environment{ManifestDir: "/src", OutDir: "/out", Profile: "debug", Target: "x86_64-pc-windows-msvc"}
	if e != want {
		t.Fatalf("FromLookup() = %+v, want %+v", e, want)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateReportsEveryMissingKey(t *testing.T) {
	tests := []struct {
		name    string
		env     Environment
		missing []string
	}{
		{"empty", Environment{}, []string{KeyManifestDir, KeyOutDir, KeyProfile, KeyTarget}},
		{"no profile", Environment{ManifestDir: "a", OutDir: "b", Target: "c"}, []string{KeyProfile}},
		{"no dirs", Environment{Profile: "release", Target: "i686"}, []string{KeyManifestDir, KeyOutDir}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if !errors.Is(err, ErrMissingEnv) {
				t.Fatalf("Validate() = %v, want ErrMissingEnv", err)
			}
			for _, key := range tt.missing {
				if !strings.Contains(err.Error(), key) {
					t.Errorf("error %q does not mention %s", err, key)
				}
			}
		})
	}
}

func TestOverride(t *testing.T) {
	base := Environment{ManifestDir: "/src", OutDir: "/out", Profile: "debug", Target: "i686"}
	got := base.Override(Environment{Profile: "release"})
	if got.Profile != "release" || got.ManifestDir != "/src" || got.Target != "i686" {
		t.Fatalf("Override() = %+v", got)
	}
}

func TestLoadDotEnvDoesNotOverrideProcess(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "build.env")
	content := KeyProfile + "=release\n" + KeyTarget + "=i686-pc-windows-msvc\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(KeyProfile, "debug")
	t.Setenv(KeyTarget, "")
	os.Unsetenv(KeyTarget)

	e, err := Load(file)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if e.Profile != "debug" {
		t.Errorf("Profile = %q, want process value %q", e.Profile, "debug")
	}
	if e.Target != "i686-pc-windows-msvc" {
		t.Errorf("Target = %q, want dotenv value", e.Target)
	}
}

func TestLoadMissingDotEnv(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load() with missing file = %v, want nil", err)
	}
}
