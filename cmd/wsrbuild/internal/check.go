package internal

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rawsock/wsrbuild/internal/build"
)

// errStale makes check exit non-zero.
var errStale = errors.New("bindings are stale")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether the header changed since the last build",
	Long: `Check compares the header fingerprint with the one recorded by the last
successful build for the same platform and profile, and fails when they
differ or no build was recorded.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	proj, err := loadProject(e)
	if err != nil {
		return err
	}
	stale, reason, err := build.Stale(proj, e)
	if err != nil {
		return err
	}
	if stale {
		return fmt.Errorf("%w: %s", errStale, reason)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "bindings are up to date")
	return nil
}
