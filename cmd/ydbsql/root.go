package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/ydbsql-driver/client"
)

type globalFlags struct {
	config string
	set    []string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "ydbsql",
		Short: "Offline tools for the ydbsql driver",
		Long: `ydbsql classifies SQL-like query text the way the driver does, shows the
YQL it would send, and lists the connection properties the driver accepts.

Connection properties come from defaults, an optional TOML file (--config)
and --set name=value overrides, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&flags.config, "config", "", "TOML file with connection properties")
	root.PersistentFlags().StringArrayVar(&flags.set, "set", nil, "Set a connection property (name=value), repeatable")

	root.AddCommand(
		newParseCmd(flags),
		newPropertiesCmd(flags),
		newVersionCmd(),
	)
	return root
}

// options resolves the connection options from the global flags.
func (f *globalFlags) options() (client.Options, error) {
	opts := client.DefaultOptions()
	if f.config != "" {
		loaded, err := client.LoadOptionsFile(f.config)
		if err != nil {
			return client.Options{}, err
		}
		opts = loaded
	}

	if len(f.set) > 0 {
		props := make(map[string]string, len(f.set))
		for _, kv := range f.set {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || name == "" {
				return client.Options{}, fmt.Errorf("invalid --set %q, expected name=value", kv)
			}
			props[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
		if err := opts.Apply(props); err != nil {
			return client.Options{}, err
		}
	}

	if err := opts.Validate(); err != nil {
		return client.Options{}, err
	}
	return opts, nil
}
