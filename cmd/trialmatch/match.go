package main

import (
	"fmt"
	"os"
	"time"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/matching"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newMatchCmd() *cobra.Command {
	var (
		patientFile   string
		maxResults    int
		minConfidence float64
		timeout       time.Duration
		verbose       bool
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Rank trials for a patient profile",
		Long: `Match reads a patient profile from a YAML or JSON file, searches the registry
for candidate trials, reasons about eligibility for each one and prints the
ranked results as JSON.`,
		Example: "  trialmatch match --patient patient.yaml --max-results 5",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, err := readPatient(patientFile)
			if err != nil {
				return err
			}
			opts := matching.MatchOptions{MaxResults: maxResults}
			if cmd.Flags().Changed("min-confidence") {
				opts.MinConfidence = &minConfidence
			}
			if timeout > 0 {
				opts.Deadline = time.Now().Add(timeout)
			}
			if verbose {
				opts.Observer = func(e matching.Event) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", e.Type, e.State, e.TrialID)
				}
			}

			return withApp(cmd, func(a *app.App) error {
				outcome, err := a.Orchestrator.Execute(cmd.Context(), patient, opts)
				if err != nil {
					printJSON(cmd.OutOrStdout(), map[string]any{
						"error":    domain.APIErrorFrom(err, outcome.Metadata.RequestID),
						"metadata": outcome.Metadata,
					})
					return fmt.Errorf("match failed: %s", domain.KindOf(err))
				}
				return printJSON(cmd.OutOrStdout(), outcome)
			})
		},
	}
	cmd.Flags().StringVar(&patientFile, "patient", "", "patient profile file (YAML or JSON)")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "maximum trials to return (default from config)")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum confidence in [0,1] (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline (default from config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print progress events to stderr")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

// readPatient loads a profile. JSON is accepted since it is valid YAML.
func readPatient(path string) (*domain.PatientProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patient file: %w", err)
	}
	var patient domain.PatientProfile
	if err := yaml.Unmarshal(data, &patient); err != nil {
		return nil, fmt.Errorf("parsing patient file: %w", err)
	}
	if err := patient.Validate(); err != nil {
		return nil, err
	}
	return &patient, nil
}
