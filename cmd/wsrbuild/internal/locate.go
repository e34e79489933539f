package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rawsock/wsrbuild/internal/toolchain"
)

var locateVSWhere string

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Print the MSBuild path and version",
	Args:  cobra.NoArgs,
	RunE:  runLocate,
}

func init() {
	locateCmd.Flags().StringVar(&locateVSWhere, "vswhere", "", "Path to vswhere.exe")
	rootCmd.AddCommand(locateCmd)
}

func runLocate(cmd *cobra.Command, args []string) error {
	r := runner()
	exe, err := (&toolchain.VSWhere{Path: locateVSWhere, Runner: r}).Locate()
	if err != nil {
		return err
	}
	v, err := toolchain.Version(r, exe)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), exe)
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}
