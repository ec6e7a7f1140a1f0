package main

import (
	"github.com/aretw0/easel/internal/cli"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply <program>",
	Short: "Run a transformation program offline and print the plan",
	Long: `Runs a program against a graph file (or an empty canvas) in the sandbox and
prints what accepting it would change. Nothing is persisted.

The language follows the program extension (.lua for Lua, JavaScript otherwise).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		graphPath, _ := cmd.Flags().GetString("graph")
		lang, _ := cmd.Flags().GetString("lang")
		format, _ := cmd.Flags().GetString("format")
		width, _ := cmd.Flags().GetInt("width")

		return cli.RunApply(cmd.Context(), cmd.OutOrStdout(), cli.ApplyOptions{
			ProgramPath: args[0],
			GraphPath:   graphPath,
			Language:    lang,
			Format:      format,
			Width:       width,
			Logger:      logger,
		})
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringP("graph", "g", "", "Graph JSON file with nodes, edges and handles")
	applyCmd.Flags().String("lang", "", "Program language: javascript or lua")
	applyCmd.Flags().StringP("format", "f", "markdown", "Output format: markdown, json or mermaid")
	applyCmd.Flags().Int("width", 100, "Word wrap width for markdown output")
}
