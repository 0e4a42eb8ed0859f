package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/internal/pipeline"
)

func newDescribeCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "describe WORKFLOW_FILE",
		Short: "Show the compiled plan of a workflow: steps, wiring and inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			_, plan, err := a.compile(args[0])
			if err != nil {
				return err
			}
			graph, err := a.engine.Build(plan)
			if err != nil {
				return err
			}
			desc := pipeline.Description{CompiledPlan: plan, GraphInfo: a.engine.Info(graph)}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(desc)
			}
			return printDescription(out, desc)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func printDescription(w io.Writer, desc pipeline.Description) error {
	fmt.Fprintf(w, "workflow: %s\n", desc.Name)
	if desc.Options.Scope != "" {
		fmt.Fprintf(w, "scope:    %s\n", desc.Options.Scope)
	}
	fmt.Fprintf(w, "inputs:   %s\n", listOrDash(desc.Inputs))
	fmt.Fprintf(w, "required: %s\n\n", listOrDash(desc.RequiredInputs))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tFUNC\tARGUMENTS\tDEFAULTS\tOUTPUTS\tMODE\tMAPSPEC\tSCOPE\tRESOURCES")
	for _, step := range desc.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			step.StepName,
			step.FuncRef,
			listOrDash(arguments(step)),
			listOrDash(pairs(step.Defaults)),
			listOrDash(step.OutputNames),
			step.MapMode.OrDefault(),
			orDash(step.Mapspec),
			orDash(desc.ScopeFor(step)),
			listOrDash(pairs(step.Resources)),
		)
	}
	return tw.Flush()
}

// pairs renders a map as sorted key=value items.
func pairs(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return out
}

// arguments renders each argument with its source when renamed.
func arguments(step *pipeline.ResolvedStepOptions) []string {
	out := make([]string, 0, len(step.Arguments))
	for _, arg := range step.Arguments {
		if src := step.SourceFor(arg); src != arg {
			out = append(out, arg+"<-"+src)
			continue
		}
		out = append(out, arg)
	}
	return out
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
