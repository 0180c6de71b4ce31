package cli

import (
	"context"
	"fmt"

	"github.com/docmgr/docstore/documents"
	"github.com/spf13/cobra"
)

// NewDocumentsCommand creates the documents command group.
func NewDocumentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Read documents and their tags",
	}

	cmd.AddCommand(newDocumentsGetCommand(rootOpts))
	cmd.AddCommand(newDocumentsTagsCommand(rootOpts))
	cmd.AddCommand(newDocumentsDeleteTagCommand(rootOpts))

	return cmd
}

func newDocumentService(s *session) (*documents.Service, error) {
	return documents.New(s.backend.Store,
		documents.WithStrictDates(s.cfg.StrictDates),
		documents.WithLogger(s.logger),
	)
}

func newDocumentsGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <documentId>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				docs, err := newDocumentService(s)
				if err != nil {
					return err
				}

				doc, err := docs.FindDocument(ctx, s.site, args[0])
				if err != nil {
					return err
				}

				if doc == nil {
					return fmt.Errorf("document %s not found", args[0])
				}

				return s.out.Success(newDocumentView(doc))
			})
		},
	}
}

func newDocumentsTagsCommand(rootOpts *RootOptions) *cobra.Command {
	var page pageFlags

	cmd := &cobra.Command{
		Use:   "tags <documentId>",
		Short: "List the tags of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				docs, err := newDocumentService(s)
				if err != nil {
					return err
				}

				tags, err := docs.FindDocumentTags(ctx, s.site, args[0], page.cursor, page.limit)
				if err != nil {
					return err
				}

				v := TagsView{Tags: make([]TagView, 0, len(tags.Tags)), Cursor: tags.Cursor}
				for _, t := range tags.Tags {
					v.Tags = append(v.Tags, newTagView(t))
				}

				return s.out.Success(v)
			})
		},
	}

	page.register(cmd)

	return cmd
}

func newDocumentsDeleteTagCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-tag <documentId> <tagKey>",
		Short: "Remove a tag and all its values from a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(ctx context.Context, s *session) error {
				docs, err := newDocumentService(s)
				if err != nil {
					return err
				}

				if err := docs.DeleteDocumentTag(ctx, s.site, args[0], args[1]); err != nil {
					return err
				}

				return s.out.Success(Message{Message: fmt.Sprintf("tag %s removed from document %s", args[1], args[0])})
			})
		},
	}
}

// pageFlags are the paging flags shared by listing commands.
type pageFlags struct {
	cursor string
	limit  int32
}

func (p *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.cursor, "cursor", "", "cursor returned by the previous page")
	cmd.Flags().Int32Var(&p.limit, "limit", 0, "maximum number of items per page (0 for the default)")
}
