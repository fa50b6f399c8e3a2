package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/isodrop/isodrop/pkg/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "List the installers an install would offer for a mounted volume",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	root := args[0]
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	candidates := scan.New().Scan(root)
	out := cmd.OutOrStdout()
	if len(candidates) == 0 {
		fmt.Fprintf(out, "No installers found in %s\n", root)
		return nil
	}

	fmt.Fprintln(out, renderTable(
		[]string{"#", "NAME", "KIND", "TYPE", "PATH"},
		candidateRows(candidates),
		[]columnAlignment{alignRight}))
	return nil
}

func candidateRows(candidates []scan.Candidate) [][]string {
	rows := make([][]string, 0, len(candidates))
	for i, c := range candidates {
		kind := "other"
		if c.Setup {
			kind = "setup"
		}
		typ := "exe"
		if c.IsPackage() {
			typ = "msi"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), c.Name(), kind, typ, c.Path})
	}
	return rows
}
