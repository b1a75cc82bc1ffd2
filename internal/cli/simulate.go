package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartkart/kart/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	ShowTrace bool
}

// NewSimulateCommand creates the simulate command: run a scenario file
// through the correlator and check its expectations.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>...",
		Short: "Replay scenario files deterministically",
		Long: `Replay one or more scenario YAML files through the correlator and
verify the expected transaction sequence. The same scenario always
produces the same transactions; a mismatch exits non-zero.

Example:
  kart simulate scenarios/exact_match.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.ShowTrace, "trace", false, "print the committed transaction trace")

	return cmd
}

func simulate(cmd *cobra.Command, opts *SimulateOptions, paths []string) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, path := range paths {
		sc, err := harness.LoadScenario(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load scenario", err)
		}

		result, err := harness.Run(sc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s failed to run", sc.Name), err)
		}

		if result.Passed() {
			fmt.Fprintf(out, "PASS %s (%d transactions)\n", sc.Name, len(result.Transactions))
		} else {
			failed++
			fmt.Fprintf(out, "FAIL %s\n", sc.Name)
			for _, f := range result.Failures {
				fmt.Fprintf(out, "  %s\n", f)
			}
		}

		if opts.ShowTrace {
			data, err := harness.Snapshot(sc.Name, result.Transactions).Marshal()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to render trace", err)
			}
			fmt.Fprint(out, string(data))
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", failed))
	}
	return nil
}
