package env

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	xerrors "github.com/qiniu/x/errors"
)

// Keys of the build environment. All of them are required.
const (
	KeyManifestDir = "WSR_MANIFEST_DIR"
	KeyOutDir      = "WSR_OUT_DIR"
	KeyProfile     = "WSR_PROFILE"
	KeyTarget      = "WSR_TARGET"
)

// ErrMissingEnv is returned when a required build environment key is absent.
var ErrMissingEnv = errors.New("missing build environment")

// Environment is the configuration supplied by the invoking build at the
// start of each build.
type Environment struct {
	ManifestDir string // root directory holding the native project
	OutDir      string // build-owned output directory
	Profile     string // build profile, e.g. debug or release
	Target      string // target architecture triple
}

// FromLookup builds an Environment from a lookup function such as
// os.LookupEnv. Empty values are treated as absent.
func FromLookup(lookup func(string) (string, bool)) Environment {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}
	return Environment{
		ManifestDir: get(KeyManifestDir),
		OutDir:      get(KeyOutDir),
		Profile:     get(KeyProfile),
		Target:      get(KeyTarget),
	}
}

// Load reads the environment from the process, loading dotenv files
// first. Variables already set in the process take precedence over the
// files; a missing dotenv file is not an error.
func Load(dotenv ...string) (Environment, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, file := range dotenv {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Environment{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return FromLookup(os.LookupEnv), nil
}

// Override replaces every field of e that is non-empty in o.
func (e Environment) Override(o Environment) Environment {
	if o.ManifestDir != "" {
		e.ManifestDir = o.ManifestDir
	}
	if o.OutDir != "" {
		e.OutDir = o.OutDir
	}
	if o.Profile != "" {
		e.Profile = o.Profile
	}
	if o.Target != "" {
		e.Target = o.Target
	}
	return e
}

// Validate reports every missing key at once.
func (e Environment) Validate() error {
	var errs xerrors.List
	for _, kv := range []struct{ key, val string }{
		{KeyManifestDir, e.ManifestDir},
		{KeyOutDir, e.OutDir},
		{KeyProfile, e.Profile},
		{KeyTarget, e.Target},
	} {
		if kv.val == "" {
			errs.Add(fmt.Errorf("%s is not set", kv.key))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMissingEnv, errs.ToError())
}

// Abs returns a copy of e with both directories made absolute.
func (e Environment) Abs() (Environment, error) {
	var err error
	if e.ManifestDir, err = filepath.Abs(e.ManifestDir); err != nil {
		return e, err
	}
	if e.OutDir, err = filepath.Abs(e.OutDir); err != nil {
		return e, err
	}
	return e, nil
}
