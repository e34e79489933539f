// Package build runs the WinSockRaw pipeline: locate MSBuild, stage the
// project, build it, emit link directives and generate the bindings.
// Steps run strictly in order and the first failure ends the run.
package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/qiniu/x/log"

	"github.com/rawsock/wsrbuild/internal/arch"
	"github.com/rawsock/wsrbuild/internal/env"
	"github.com/rawsock/wsrbuild/internal/link"
	"github.com/rawsock/wsrbuild/internal/stage"
	"github.com/rawsock/wsrbuild/internal/toolchain"
	"github.com/rawsock/wsrbuild/pkgs/buildsys/msbuild"
)

// DirectivesFile is the name of the directive listing in the output dir.
const DirectivesFile = "wsrbuild.directives"

// Step names a pipeline stage.
type Step string

const (
	StepEnv     Step = "environment"
	StepLocate  Step = "locate"
	StepStage   Step = "stage"
	StepBuild   Step = "build"
	StepLink    Step = "link"
	StepBindgen Step = "bindgen"
	StepRecord  Step = "record"
)

// StepError reports the step a pipeline run failed in.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return string(e.Step) + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Pipeline holds what a run needs besides the build environment.
type Pipeline struct {
	Locator toolchain.Locator
	Runner  toolchain.Runner
	Project *env.Project
	// Stdout receives the directive lines. Defaults to os.Stdout.
	Stdout io.Writer
	// Now stamps the build record. Defaults to time.Now.
	Now func() time.Time
}

// Result describes a successful run.
type Result struct {
	Arch        arch.Selector
	MSBuild     string
	StagedDir   string
	ArtifactDir string
	Directives  *link.Directives
	LinkFile    string
	BindingFile string
	// Skipped lists header declarations without a binding.
	Skipped []string
}

// Run executes every step for e.
func (p *Pipeline) Run(e env.Environment) (*Result, error) {
	fail := func(step Step, err error) (*Result, error) {
		return nil, &StepError{Step: step, Err: err}
	}

	if err := e.Validate(); err != nil {
		return fail(StepEnv, err)
	}
	sel, err := arch.FromTriple(e.Target)
	if err != nil {
		return fail(StepEnv, err)
	}
	if e, err = e.Abs(); err != nil {
		return fail(StepEnv, err)
	}
	proj := p.Project
	if proj == nil {
		proj = env.DefaultProject()
	}
	res := &Result{Arch: sel}

	log.Info("locating MSBuild")
	if res.MSBuild, err = p.locate(proj); err != nil {
		return fail(StepLocate, err)
	}
	log.Debug("msbuild:", res.MSBuild)

	res.StagedDir = proj.StagedDir(e)
	log.Info("staging", proj.SourceDir(e), "->", res.StagedDir)
	if err := stage.Copy(proj.SourceDir(e), res.StagedDir); err != nil {
		return fail(StepStage, err)
	}

	log.Infof("building %v %s|%s", proj.Targets, e.Profile, sel.Platform())
	mb := msbuild.New(res.MSBuild, p.Runner)
	mb.Source(filepath.Join(res.StagedDir, proj.Solution))
	mb.Targets(proj.Targets...).Configuration(e.Profile).Platform(sel)
	if err := mb.Build(); err != nil {
		return fail(StepBuild, err)
	}

	res.ArtifactDir = link.ArtifactDir(res.StagedDir, sel, e.Profile)
	log.Info("linking", res.ArtifactDir)
	if err := p.link(res, proj, e); err != nil {
		return fail(StepLink, err)
	}

	header := proj.StagedHeaderPath(e)
	log.Info("generating bindings from", header)
	out, err := Bindings(proj, sel, header)
	if err != nil {
		return fail(StepBindgen, err)
	}
	res.Skipped = out.Skipped
	if res.BindingFile, err = WriteBindings(proj, e, sel, out.Source); err != nil {
		return fail(StepBindgen, err)
	}
	for _, s := range out.Skipped {
		log.Warn("no binding for", s)
	}

	if err := p.record(res, proj, e); err != nil {
		return fail(StepRecord, err)
	}
	return res, nil
}

func (p *Pipeline) locate(proj *env.Project) (string, error) {
	exe, err := p.Locator.Locate()
	if err != nil {
		return "", err
	}
	if proj.MinMSBuild == "" {
		return exe, nil
	}
	v, err := toolchain.Version(p.Runner, exe)
	if err != nil {
		return "", err
	}
	if err := toolchain.CheckVersion(v, proj.MinMSBuild); err != nil {
		return "", err
	}
	return exe, nil
}

func (p *Pipeline) link(res *Result, proj *env.Project, e env.Environment) error {
	d, err := link.Configure(link.Config{
		ArtifactDir: res.ArtifactDir,
		Libraries:   []string{proj.Library},
		IncludeDir:  filepath.Dir(proj.StagedHeaderPath(e)),
		Watch:       []string{proj.WatchPath()},
	})
	if err != nil {
		return err
	}
	res.Directives = d

	stdout := p.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	if _, err := d.WriteTo(stdout); err != nil {
		return err
	}
	res.LinkFile, err = d.WriteFiles(filepath.Join(e.OutDir, DirectivesFile), proj.BindingPath(e), proj.Package, res.Arch.GOARCH())
	return err
}

func (p *Pipeline) record(res *Result, proj *env.Project, e env.Environment) error {
	sum, err := HeaderSum(proj.HeaderPath(e))
	if err != nil {
		return err
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	cache, err := loadCache(e.OutDir)
	if err != nil {
		return fmt.Errorf("reading build record: %w", err)
	}
	cache.set(res.Arch.Platform(), e.Profile, &buildEntry{
		HeaderSHA256: sum,
		MSBuild:      res.MSBuild,
		Platform:     res.Arch.Platform(),
		Profile:      e.Profile,
		BuildTime:    now(),
	})
	return saveCache(e.OutDir, cache)
}
