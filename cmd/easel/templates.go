package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/aretw0/easel/pkg/templates"
	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the node templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		catalog, err := templates.Builtin()
		if cfg.Templates != "" {
			catalog, err = templates.Load(cfg.Templates)
		}
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalog.List())
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tNAME\tHANDLES")
		for _, tpl := range catalog.List() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", tpl.ID, tpl.NodeType, tpl.Name, len(tpl.Handles))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.Flags().Bool("json", false, "Print templates as JSON")
}
