package commands

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/isodrop/isodrop/internal/config"
	"github.com/isodrop/isodrop/pkg/bottle"
	"github.com/isodrop/isodrop/pkg/errors"
)

var bottlesCurrent string

var bottlesCmd = &cobra.Command{
	Use:   "bottles",
	Short: "List the Wine bottles software can be installed into",
	RunE:  runBottles,
}

func init() {
	rootCmd.AddCommand(bottlesCmd)
	bottlesCmd.Flags().StringVar(&bottlesCurrent, "current", "", "Bottle name or path to mark as the default")
}

func runBottles(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	fs := afero.NewOsFs()
	bottles, err := bottle.List(fs, cfg.BottlesDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(bottles) == 0 {
		fmt.Fprintf(out, "No bottles found in %s\n", cfg.BottlesDir)
		return nil
	}

	fmt.Fprintln(out, renderTable(
		[]string{"NAME", "ROOT", "DEFAULT"},
		bottleRows(bottles, currentBottleHint(fs, cfg.BottlesDir, bottlesCurrent)),
		nil))
	return nil
}

func bottleRows(bottles []bottle.Bottle, current string) [][]string {
	def, _ := bottle.Default(bottles, current)
	rows := make([][]string, 0, len(bottles))
	for _, b := range bottles {
		mark := ""
		if b.Root == def.Root {
			mark = "*"
		}
		rows = append(rows, []string{b.Name, b.Root, mark})
	}
	return rows
}
