package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/ntriples"
)

type bulkResult struct {
	Space      string `json:"space"`
	Statements int    `json:"statements"`
}

// NewResetCommand creates the reset command
func NewResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [space]",
		Short: "Remove every statement of a space (default: entities)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			store, err := opts.space(name)
			if err != nil {
				return err
			}
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), bulkResult{Space: store.Name()}, func(w io.Writer) {
				fmt.Fprintf(w, "Reset %s\n", store.Name())
			})
		},
	}
}

// NewImportCommand creates the import command
func NewImportCommand(opts *RootOptions) *cobra.Command {
	var mimeType string

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a document into the entities space in one commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !ntriples.Supported(mimeType) {
				return errors.Wrapf(models.ErrUnsupportedFormat, "%q", mimeType)
			}
			in, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			n, err := opts.entities.Import(cmd.Context(), bufio.NewReader(in), mimeType)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), bulkResult{Space: opts.entities.Name(), Statements: n}, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d statements into %s\n", n, opts.entities.Name())
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mimetype", ntriples.MimeNTriples, "document format")
	return cmd
}

// NewExportCommand creates the export command
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var space string

	cmd := &cobra.Command{
		Use:   "export <file|->",
		Short: "Write every statement of a space as N-Triples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.space(space)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if args[0] != "-" {
				f, err := os.Create(args[0])
				if err != nil {
					return errors.Wrap(err, "create export file")
				}
				defer f.Close()
				out = f
			}
			w := bufio.NewWriter(out)
			n, err := store.Export(cmd.Context(), w)
			if err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return errors.Wrap(err, "flush export")
			}
			opts.logger.Info().Int("statements", n).Str("space", store.Name()).Msg("Exported")
			if args[0] == "-" {
				return nil
			}
			return opts.print(cmd.ErrOrStderr(), bulkResult{Space: store.Name(), Statements: n}, func(w io.Writer) {
				fmt.Fprintf(w, "Exported %d statements from %s\n", n, store.Name())
			})
		},
	}
	cmd.Flags().StringVar(&space, "space", "entities", "statement space (entities|applications)")
	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open import file")
	}
	return f, nil
}
