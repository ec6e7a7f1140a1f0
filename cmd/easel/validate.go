package main

import (
	"fmt"

	"github.com/aretw0/easel/internal/cli"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <graph.json>",
	Short: "Check a graph file against the payload schema",
	Long:  `Parses a graph JSON file with the rules applied to program output and reports every invalid field.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := cli.ValidateGraphFile(args[0])
		if err != nil {
			return fmt.Errorf("validation failed:\n%s", domain.Diagnostic(err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Graph is valid! ✅ (%d nodes, %d handles, %d edges)\n",
			len(payload.Nodes), len(payload.Handles), len(payload.Edges))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
