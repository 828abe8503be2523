package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dan-strohschein/ydbsql-driver/client"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ydbsql %s\n", client.Version)
			return nil
		},
	}
}
