package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	SkipSchemaValidation bool
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or validate the storage schema",
		Long: `Create the items table and its secondary indexes where the backend
supports it, and verify that an existing schema has the expected layout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				if err := s.backend.Init(ctx, opts.SkipSchemaValidation); err != nil {
					return fmt.Errorf("failed to initialize %s backend: %w", s.cfg.Backend, err)
				}

				return s.out.Success(Message{Message: fmt.Sprintf("%s backend ready", s.cfg.Backend)})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.SkipSchemaValidation, "skip-schema-validation", false, "do not verify the layout of an existing schema")

	return cmd
}
