package internal

import (
	"fmt"

	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"

	"github.com/rawsock/wsrbuild/internal/arch"
	"github.com/rawsock/wsrbuild/internal/build"
	"github.com/rawsock/wsrbuild/internal/env"
)

var bindgenStdout bool

var bindgenCmd = &cobra.Command{
	Use:   "bindgen",
	Short: "Generate the Go bindings from the project header",
	Long: `Bindgen parses the public header in the manifest directory and writes
the Go bindings for the target architecture. No native build is run.`,
	Args: cobra.NoArgs,
	RunE: runBindgen,
}

func init() {
	bindgenCmd.Flags().BoolVar(&bindgenStdout, "stdout", false, "Print the bindings instead of writing them")
	rootCmd.AddCommand(bindgenCmd)
}

func runBindgen(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if e.ManifestDir == "" {
		return fmt.Errorf("--manifest-dir or %s is required", env.KeyManifestDir)
	}
	sel, err := arch.FromTriple(e.Target)
	if err != nil {
		return err
	}
	proj, err := loadProject(e)
	if err != nil {
		return err
	}
	out, err := build.Bindings(proj, sel, proj.HeaderPath(e))
	if err != nil {
		return err
	}
	for _, s := range out.Skipped {
		log.Warn("no binding for", s)
	}
	if bindgenStdout {
		_, err := cmd.OutOrStdout().Write(out.Source)
		return err
	}
	path, err := build.WriteBindings(proj, e, sel, out.Source)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
