package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "tckfactory",
	Short: "tckfactory — structural connectome pipeline",
	Long: `tckfactory builds structural connectivity matrices from a preprocessed
diffusion-weighted image and an integer-labeled atlas by sequencing the
FSL and MRtrix command-line tools.

Every run works in a disposable temporary directory, logs every external
command it issues, and records the run in ~/.tckfactory/tckfactory.db.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(dbCmd)
}
