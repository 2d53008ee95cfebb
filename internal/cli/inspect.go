package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/tckfactory/internal/connectome"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <connectome-file>",
	Short: "Summarize an emitted connectivity matrix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := connectome.Load(args[0])
		if err != nil {
			return err
		}
		s, err := connectome.Summarize(m)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "nodes:        %d\n", s.Nodes)
		fmt.Fprintf(w, "edges:        %d\n", s.Edges)
		fmt.Fprintf(w, "density:      %.4f\n", s.Density)
		fmt.Fprintf(w, "total weight: %.2f\n", s.TotalWeight)
		fmt.Fprintf(w, "symmetric:    %v\n", s.Symmetric)
		return nil
	},
}
