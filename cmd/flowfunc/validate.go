package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/pkg/schema"
)

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate WORKFLOW_FILE...",
		Short: "Check workflow files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			invalid := 0
			for _, path := range args {
				_, result := a.validator.ValidateFile(a.loader, path)
				printValidation(out, path, result)
				if !result.Valid() {
					invalid++
				}
			}
			if invalid > 0 {
				return &reportedError{err: fmt.Errorf("%d of %d workflow files are invalid", invalid, len(args))}
			}
			return nil
		},
	}
}

func printValidation(w io.Writer, path string, result *schema.ValidationResult) {
	if result.Valid() {
		fmt.Fprintf(w, "%s: ok", path)
		if n := len(result.Warnings); n > 0 {
			fmt.Fprintf(w, " (%d warnings)", n)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "%s: invalid\n", path)
	}
	for _, issue := range slices.Concat(result.Errors, result.Warnings) {
		fmt.Fprintf(w, "  %s\n", issue)
	}
}
