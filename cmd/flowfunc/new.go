package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/internal/definition"
)

func newNewCmd(_ *cli) *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "new NAME",
		Short: "Write a runnable starter workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := definition.Scaffold(args[0])
			if err != nil {
				return err
			}
			path := output
			if path == "" {
				path = definition.WorkflowName(args[0]) + ".yaml"
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "file to write (default: NAME.yaml)")
	flags.BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
