package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/internal/run"
	"github.com/rendis/flowfunc/pkg/schema"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		paramsJSON string
		paramsFile string
		pairs      []string
		runName    string
	)

	cmd := &cobra.Command{
		Use:   "run WORKFLOW_FILE",
		Short: "Run a workflow file",
		Long: `Run a workflow file and write its artifacts and summary into a new run directory.

Parameters are layered: the workflow's params, then --params-file or --params,
then every --param key=value pair.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, file, err := cliParams(paramsJSON, paramsFile, pairs)
			if err != nil {
				return err
			}

			a, err := c.newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, runErr := a.coordinator().Execute(cmd.Context(), run.Request{
				WorkflowFile: args[0],
				RunName:      runName,
				ParamsFile:   file,
				Params:       params,
			})
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary)
			}
			if runErr != nil && summary != nil {
				return &reportedError{err: runErr}
			}
			return runErr
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&paramsJSON, "params", "", "parameters as a JSON object")
	flags.StringVar(&paramsFile, "params-file", "", "parameters file (.json, .yaml or .yml)")
	flags.StringArrayVar(&pairs, "param", nil, "a single parameter as key=value (repeatable)")
	flags.StringVar(&runName, "name", "", "prefix for the generated run id")
	cmd.MarkFlagsMutuallyExclusive("params", "params-file")
	return cmd
}

// cliParams turns the parameter flags into request fields. Without --param
// pairs the params file is left to the coordinator; with pairs it is read
// here so the pairs can be layered over it.
func cliParams(paramsJSON, paramsFile string, pairs []string) (map[string]any, string, error) {
	var (
		params map[string]any
		err    error
	)
	switch {
	case paramsJSON != "":
		params, err = run.ParseParamsJSON(paramsJSON)
	case paramsFile != "" && len(pairs) > 0:
		params, err = run.LoadParamsFile(paramsFile)
	case paramsFile != "":
		return nil, paramsFile, nil
	}
	if err != nil {
		return nil, "", err
	}
	if len(pairs) == 0 {
		return params, "", nil
	}
	params, err = run.ApplyParamPairs(params, pairs)
	return params, "", err
}

func printSummary(w io.Writer, s *schema.Summary) {
	fmt.Fprintf(w, "run:      %s\n", s.RunID)
	fmt.Fprintf(w, "workflow: %s\n", s.WorkflowName)
	fmt.Fprintf(w, "status:   %s\n", s.Status)
	if d := s.DurationSeconds(); d != nil {
		fmt.Fprintf(w, "duration: %.3fs\n", *d)
	}
	if s.RunDir != "" {
		fmt.Fprintf(w, "run dir:  %s\n", s.RunDir)
	}
	for _, name := range sortedKeys(s.Artifacts) {
		fmt.Fprintf(w, "artifact: %s -> %s\n", name, s.Artifacts[name])
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(w, "error:    %s\n", s.ErrorMessage)
	}
}
