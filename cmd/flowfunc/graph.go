package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/internal/diagram"
)

func newGraphCmd(c *cli) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "graph WORKFLOW_FILE",
		Short: "Draw the wiring of a workflow",
		Long: `Draw the wiring of a workflow as ASCII art, a Mermaid flowchart or an image.

Images need --output; the file extension picks PNG or SVG.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			wf, plan, err := a.compile(args[0])
			if err != nil {
				return err
			}
			model, err := diagram.Build(plan, wf)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "ascii":
				data = []byte(diagram.RenderASCII(model))
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model))
			case "image":
				if output == "" {
					return fmt.Errorf("--format image needs --output")
				}
				imgFormat, err := diagram.ParseImageFormat(filepath.Ext(output))
				if err != nil {
					return err
				}
				if data, err = diagram.RenderImage(cmd.Context(), model, imgFormat); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q: want ascii, mermaid or image", format)
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&format, "format", "f", "ascii", "output format: ascii, mermaid or image")
	flags.StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
