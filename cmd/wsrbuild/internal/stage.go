package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rawsock/wsrbuild/internal/stage"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Copy the native project into the output directory",
	Args:  cobra.NoArgs,
	RunE:  runStage,
}

func init() {
	rootCmd.AddCommand(stageCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
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
	dst := proj.StagedDir(e)
	if err := stage.Copy(proj.SourceDir(e), dst); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), dst)
	return nil
}
