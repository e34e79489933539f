package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"

	"github.com/rawsock/wsrbuild/internal/build"
	"github.com/rawsock/wsrbuild/internal/toolchain"
)

var (
	buildOutput  string
	buildVSWhere string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the full pipeline",
	Long: `Build locates MSBuild, stages the project into the output directory,
builds the native targets, prints link directives and regenerates the Go
bindings.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Also export the artifacts (directory, .zip or .tar.xz)")
	buildCmd.Flags().StringVar(&buildVSWhere, "vswhere", "", "Path to vswhere.exe")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	proj, err := loadProject(e)
	if err != nil {
		return err
	}

	// Resolve output path to absolute before build
	if buildOutput != "" {
		abs, err := filepath.Abs(buildOutput)
		if err != nil {
			return fmt.Errorf("failed to resolve output path: %w", err)
		}
		buildOutput = abs
	}

	r := runner()
	p := &build.Pipeline{
		Locator: &toolchain.VSWhere{Path: buildVSWhere, Runner: r},
		Runner:  r,
		Project: proj,
		Stdout:  os.Stdout,
	}
	res, err := p.Run(e)
	if err != nil {
		return err
	}
	log.Info("bindings written to", res.BindingFile)

	if buildOutput != "" {
		if err := outputResult(res.ArtifactDir, buildOutput); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		log.Info("artifacts exported to", buildOutput)
	}
	return nil
}
