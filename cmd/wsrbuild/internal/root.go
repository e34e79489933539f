package internal

import (
	"io"
	"os"
	"path/filepath"

	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"

	"github.com/rawsock/wsrbuild/internal/env"
	"github.com/rawsock/wsrbuild/internal/toolchain"
)

var (
	verbose    bool
	quiet      bool
	envFiles   []string
	envFlags   env.Environment
	bindingDir string
)

var rootCmd = &cobra.Command{
	Use:   "wsrbuild",
	Short: "wsrbuild builds the WinSockRaw native project and its Go bindings",
	Long: `wsrbuild locates MSBuild, stages the WinSockRaw project into the output
directory, builds it, prints the link directives for the built library
and generates Go bindings from its public header.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case verbose:
			log.SetOutputLevel(log.Ldebug)
		case quiet:
			log.SetOutputLevel(log.Lwarn)
		default:
			log.SetOutputLevel(log.Linfo)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and discard MSBuild output")
	pf.StringSliceVar(&envFiles, "env-file", nil, "Dotenv files to load (default .env)")
	pf.StringVar(&envFlags.ManifestDir, "manifest-dir", "", "Directory holding the native project (overrides "+env.KeyManifestDir+")")
	pf.StringVar(&envFlags.OutDir, "out-dir", "", "Build output directory (overrides "+env.KeyOutDir+")")
	pf.StringVar(&envFlags.Profile, "profile", "", "Build profile (overrides "+env.KeyProfile+")")
	pf.StringVar(&envFlags.Target, "target", "", "Target triple (overrides "+env.KeyTarget+")")
	pf.StringVar(&bindingDir, "binding-dir", "", "Directory for generated Go files (overrides the project file)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}

// loadEnv reads the build environment from dotenv files and the process,
// then applies the command line overrides.
func loadEnv() (env.Environment, error) {
	e, err := env.Load(envFiles...)
	if err != nil {
		return e, err
	}
	return e.Override(envFlags), nil
}

// loadProject reads the project file from the manifest dir of e. A
// --binding-dir flag is resolved against the working directory.
func loadProject(e env.Environment) (*env.Project, error) {
	proj := env.DefaultProject()
	if e.ManifestDir != "" {
		var err error
		if proj, err = env.LoadProject(e.ManifestDir); err != nil {
			return nil, err
		}
	}
	if bindingDir != "" {
		abs, err := filepath.Abs(bindingDir)
		if err != nil {
			return nil, err
		}
		proj.BindingDir = abs
	}
	return proj, nil
}

// runner returns the subprocess runner. MSBuild output goes to stderr so
// stdout carries only directives; --quiet drops its progress output but
// keeps its errors.
func runner() *toolchain.Exec {
	if quiet {
		return &toolchain.Exec{Stdout: io.Discard, Stderr: os.Stderr}
	}
	return &toolchain.Exec{Stdout: os.Stderr, Stderr: os.Stderr}
}
