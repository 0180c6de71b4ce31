package cli

import (
	"context"

	"github.com/docmgr/docstore/search"
	"github.com/spf13/cobra"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Key         string
	Eq          string
	BeginsWith  string
	DocumentIDs []string
	page        pageFlags
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find documents by tag",
		Long: `Find documents carrying a tag key, optionally restricted to an exact
value (--eq) or a value prefix (--begins-with). With --document-id the search
is limited to the given documents and returns a single page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				engine, err := search.New(s.backend.Store,
					search.WithStrictDates(s.cfg.StrictDates),
					search.WithLogger(s.logger),
				)
				if err != nil {
					return err
				}

				q := search.Query{
					Tag:         search.Criteria{Key: opts.Key, Eq: opts.Eq, BeginsWith: opts.BeginsWith},
					DocumentIDs: opts.DocumentIDs,
				}

				results, err := engine.Search(ctx, s.site, q, opts.page.cursor, opts.page.limit)
				if err != nil {
					return err
				}

				return s.out.Success(newSearchView(results))
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "tag key (required)")
	cmd.Flags().StringVar(&opts.Eq, "eq", "", "exact tag value")
	cmd.Flags().StringVar(&opts.BeginsWith, "begins-with", "", "tag value prefix")
	cmd.Flags().StringSliceVar(&opts.DocumentIDs, "document-id", nil, "restrict the search to these documents")
	cmd.MarkFlagsMutuallyExclusive("eq", "begins-with")
	_ = cmd.MarkFlagRequired("key")
	opts.page.register(cmd)

	return cmd
}
