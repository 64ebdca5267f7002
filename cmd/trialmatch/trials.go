package main

import (
	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var (
		filters   domain.SearchFilters
		pageToken string
	)
	cmd := &cobra.Command{
		Use:     "search",
		Short:   "Search the trial registry",
		Example: "  trialmatch search --condition \"type 2 diabetes\" --status RECRUITING",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				page, err := a.Trials.Search(cmd.Context(), filters, pageToken)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	cmd.Flags().StringSliceVar(&filters.Conditions, "condition", nil, "condition to search for (repeatable)")
	cmd.Flags().StringSliceVar(&filters.Terms, "term", nil, "free-text term (repeatable)")
	cmd.Flags().StringSliceVar(&filters.Statuses, "status", nil, "recruitment status (repeatable)")
	cmd.Flags().IntVar(&filters.PageSize, "page-size", 0, "results per page (default from config)")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "token from a previous page")
	return cmd
}

func newTrialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trial <nct-id>",
		Short: "Show one trial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				trial, err := a.Trials.GetTrial(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), trial)
			})
		},
	}
}
