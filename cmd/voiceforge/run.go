package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/service"
)

func newRunCommand(app *App) *cobra.Command {
	var (
		scenarioID string
		file       string
		languages  []string
		inMemory   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one scenario synchronously and print a summary",
		Long: `Execute one scenario in this process. --file imports a YAML script first
(as a new version when the ID exists). Exits 1 when the execution fails.`,
		Example: `  voiceforge run --memory --file scenarios/weather.yaml --lang en-US --lang de-DE
  voiceforge run --scenario weather`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if scenarioID == "" && file == "" {
				return fmt.Errorf("--scenario or --file is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := wire(ctx, app.Config, wireOptions{memory: inMemory})
			if err != nil {
				return err
			}
			defer st.Close()

			if file != "" {
				data, err := os.ReadFile(file) //nolint:gosec // G304: path is operator-supplied
				if err != nil {
					return fmt.Errorf("read scenario: %w", err)
				}
				sc, err := st.scenarios.Import(ctx, data)
				if err != nil {
					return err
				}
				scenarioID = sc.ID
			}

			e, err := st.orchestrator.Execute(ctx, service.ExecuteRequest{
				ScenarioID: scenarioID,
				Languages:  languages,
			})
			if err != nil {
				return err
			}
			sum, err := st.orchestrator.Summary(ctx, e.ID)
			if err != nil {
				return err
			}
			if err := printSummary(cmd.OutOrStdout(), sum); err != nil {
				return err
			}
			if sum.Execution.Status != execution.StatusCompleted {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "ID of a stored scenario")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML scenario to import before running")
	cmd.Flags().StringSliceVarP(&languages, "lang", "l", nil, "languages to run (default: every variant)")
	cmd.Flags().BoolVar(&inMemory, "memory", false, "use the in-memory store instead of Postgres")
	return cmd
}

func printSummary(out io.Writer, sum *execution.Summary) error {
	e := sum.Execution
	fmt.Fprintf(out, "execution %s  scenario %s v%d  %s\n", e.ID, e.ScenarioID, e.ScriptVersion, e.Status)
	if e.Error != "" {
		fmt.Fprintf(out, "reason: %s\n", e.Error)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tLANG\tPRIMARY\tPASSED\tCLASSIFICATION\tCONFIDENCE\tLATENCY_MS\tERROR")
	for i := range sum.Steps {
		r := &sum.Steps[i]
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%t\t%s\t%.2f\t%d\t%s\n",
			r.StepPosition, r.Language, r.Primary, r.Passed, r.Classification, r.Confidence, r.LatencyMS, r.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d/%d step results passed\n", sum.PassedCount(), len(sum.Steps))
	return nil
}
