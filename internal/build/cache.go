package build

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rawsock/wsrbuild/internal/arch"
	"github.com/rawsock/wsrbuild/internal/env"
)

// Output directory layout:
//
//	outDir/
//	  .cache.json             # build record: maps "platform-profile" → buildEntry
//	  wsrbuild.directives     # link directives of the last build
//	  WinSockRaw/             # staged project
//	    x64/<profile>/        # 64-bit artifacts
//	    <profile>/            # 32-bit artifacts
//
// The record never lets a build be skipped; it only lets Stale tell
// whether the header moved on since the bindings were generated.
const cacheFile = ".cache.json"

// buildEntry contains metadata about a single successful build.
type buildEntry struct {
	HeaderSHA256 string    `json:"header_sha256"`
	MSBuild      string    `json:"msbuild"`
	Platform     string    `json:"platform"`
	Profile      string    `json:"profile"`
	BuildTime    time.Time `json:"build_time"`
}

// buildCache maps "platform-profile" keys to their build entries.
type buildCache struct {
	Cache map[string]*buildEntry `json:"cache"`
}

func cacheKey(platform, profile string) string {
	return platform + "-" + profile
}

func (c *buildCache) get(platform, profile string) (*buildEntry, bool) {
	entry, ok := c.Cache[cacheKey(platform, profile)]
	return entry, ok
}

func (c *buildCache) set(platform, profile string, entry *buildEntry) {
	if c.Cache == nil {
		c.Cache = make(map[string]*buildEntry)
	}
	c.Cache[cacheKey(platform, profile)] = entry
}

// loadCache reads the record from outDir. A missing file is an empty
// record.
func loadCache(outDir string) (*buildCache, error) {
	data, err := os.ReadFile(filepath.Join(outDir, cacheFile))
	if errors.Is(err, os.ErrNotExist) {
		return &buildCache{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cache buildCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

// saveCache writes the record to outDir.
func saveCache(outDir string, cache *buildCache) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, cacheFile), data, 0o644)
}

// HeaderSum returns the hex SHA-256 of the file at path.
func HeaderSum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stale reports whether the bindings for e need regenerating: when no
// build was recorded for its platform and profile, or the header changed
// since. reason is empty when the bindings are current.
func Stale(proj *env.Project, e env.Environment) (stale bool, reason string, err error) {
	sel, err := arch.FromTriple(e.Target)
	if err != nil {
		return false, "", err
	}
	cache, err := loadCache(e.OutDir)
	if err != nil {
		return false, "", fmt.Errorf("reading build record: %w", err)
	}
	entry, ok := cache.get(sel.Platform(), e.Profile)
	if !ok {
		return true, fmt.Sprintf("no %s|%s build recorded", e.Profile, sel.Platform()), nil
	}
	sum, err := HeaderSum(proj.HeaderPath(e))
	if err != nil {
		return false, "", err
	}
	if sum != entry.HeaderSHA256 {
		return true, fmt.Sprintf("%s changed since %s", proj.WatchPath(), entry.BuildTime.Format(time.RFC3339)), nil
	}
	return false, "", nil
}
