package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/lock"
	"github.com/spf13/cobra"
)

// NewLockCommand creates the lock command group.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect document locks",
	}

	cmd.AddCommand(newLockInspectCommand(rootOpts))

	return cmd
}

func newLockInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "inspect <documentId>",
		Short: "Show the holder of a document lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				doc, err := keys.Document(s.site, args[0])
				if err != nil {
					return err
				}

				key, err := keys.Lock(doc.PK, name)
				if err != nil {
					return err
				}

				locks, err := lock.New(s.backend.Store, lock.WithLogger(s.logger))
				if err != nil {
					return err
				}

				l, err := locks.Inspect(ctx, key)
				if err != nil {
					return err
				}

				if l == nil {
					return s.out.Success(Message{Message: fmt.Sprintf("lock %s of document %s is free", name, args[0])})
				}

				return s.out.Success(newLockView(l, time.Now()))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "actions", "lock name")

	return cmd
}
