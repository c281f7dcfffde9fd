package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/philsphicas/stationsync/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sample [PATH]",
		Short: "Print a sample configuration, or write it to PATH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_, err := io.WriteString(cmd.OutOrStdout(), config.Sample())
				return err
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}
