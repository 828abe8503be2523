package main

import (
	"github.com/spf13/cobra"

	"github.com/dan-strohschein/ydbsql-driver/client"
)

func newPropertiesCmd(global *globalFlags) *cobra.Command {
	var changedOnly bool

	cmd := &cobra.Command{
		Use:   "properties",
		Short: "List the connection properties and their effective values",
		Long: `properties lists every connection property accepted in a DSN, an options
file or OptionsFromProperties, with its default and the value in effect
after --config and --set are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := global.options()
			if err != nil {
				return err
			}
			values := opts.PropertyValues()
			defaults := client.DefaultOptions().PropertyValues()

			rows := make([][]string, 0, len(values))
			for _, p := range client.Properties() {
				if changedOnly && values[p.Name] == defaults[p.Name] {
					continue
				}
				rows = append(rows, []string{p.Name, values[p.Name], p.Default, p.Description})
			}

			w := cmd.OutOrStdout()
			printHeader(w, "Connection properties")
			return printTable(w, []string{"Name", "Value", "Default", "Description"}, rows)
		},
	}

	cmd.Flags().BoolVar(&changedOnly, "changed", false, "Only list properties that differ from the defaults")
	return cmd
}
