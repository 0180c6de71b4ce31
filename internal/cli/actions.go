package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docmgr/docstore/actions"
	"github.com/docmgr/docstore/model"
	"github.com/spf13/cobra"
)

// NewActionsCommand creates the actions command group.
func NewActionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List and drive document actions",
	}

	cmd.AddCommand(newActionsGetCommand(rootOpts))
	cmd.AddCommand(newActionsQueuedCommand(rootOpts))
	cmd.AddCommand(newActionsOutstandingCommand(rootOpts))
	cmd.AddCommand(newActionsByStatusCommand(rootOpts))
	cmd.AddCommand(newActionsSetStatusCommand(rootOpts))

	return cmd
}

func newActionService(s *session) (*actions.Service, error) {
	return actions.New(s.backend.Store,
		actions.WithLockTimeout(s.cfg.Lock.AcquireTimeout),
		actions.WithLockLease(s.cfg.Lock.Lease),
		actions.WithStrictDates(s.cfg.StrictDates),
		actions.WithLogger(s.logger),
	)
}

func newActionsGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <documentId>",
		Short: "List the actions of a document in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				svc, err := newActionService(s)
				if err != nil {
					return err
				}

				list, err := svc.GetActions(ctx, s.site, args[0])
				if err != nil {
					return err
				}

				return s.out.Success(newActionsView(list, ""))
			})
		},
	}
}

func newActionsQueuedCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		actionType string
		queueID    string
		page       pageFlags
	)

	cmd := &cobra.Command{
		Use:   "queued",
		Short: "List the actions waiting in a queue, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				svc, err := newActionService(s)
				if err != nil {
					return err
				}

				t := model.ActionType(strings.ToUpper(actionType))

				result, err := svc.ListQueuedActions(ctx, s.site, t, queueID, page.cursor, page.limit)
				if err != nil {
					return err
				}

				return s.out.Success(newActionsView(result.Actions, result.Cursor))
			})
		},
	}

	cmd.Flags().StringVar(&actionType, "type", string(model.ActionTypeQueue), "action type")
	cmd.Flags().StringVar(&queueID, "queue", "", "queue id (required)")
	_ = cmd.MarkFlagRequired("queue")
	page.register(cmd)

	return cmd
}

func newActionsOutstandingCommand(rootOpts *RootOptions) *cobra.Command {
	var page pageFlags

	cmd := &cobra.Command{
		Use:   "outstanding",
		Short: "List the actions of every document that are not complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				svc, err := newActionService(s)
				if err != nil {
					return err
				}

				result, err := svc.ListOutstandingActions(ctx, s.site, page.cursor, page.limit)
				if err != nil {
					return err
				}

				return s.out.Success(newActionsView(result.Actions, result.Cursor))
			})
		},
	}

	page.register(cmd)

	return cmd
}

func newActionsByStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var page pageFlags

	cmd := &cobra.Command{
		Use:   "by-status <status>",
		Short: "List the actions of every document with a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				svc, err := newActionService(s)
				if err != nil {
					return err
				}

				status := model.ActionStatus(strings.ToUpper(args[0]))

				result, err := svc.ListActionsByStatus(ctx, s.site, status, page.cursor, page.limit)
				if err != nil {
					return err
				}

				return s.out.Success(newActionsView(result.Actions, result.Cursor))
			})
		},
	}

	page.register(cmd)

	return cmd
}

func newActionsSetStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "set-status <documentId> <index> <status>",
		Short: "Move an action to another status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid action index %q: %w", args[1], err)
			}

			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				svc, err := newActionService(s)
				if err != nil {
					return err
				}

				status := model.ActionStatus(strings.ToUpper(args[2]))

				a, err := svc.UpdateActionStatus(ctx, s.site, args[0], index, status, message)
				if err != nil {
					return err
				}

				if a == nil {
					return fmt.Errorf("action %d of document %s not found", index, args[0])
				}

				return s.out.Success(newActionsView([]*model.Action{a}, ""))
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "status message")

	return cmd
}
