// Document commands.

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/maruel/docstore/internal/docstore"
	"github.com/maruel/ksid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var errNotFound = errors.New("not found")

// run opens the store and a printer around fn.
func (o *RootOptions) run(cmd *cobra.Command, fn func(s *docstore.Store, p *printer) error) error {
	s, err := o.openStore()
	if err != nil {
		return err
	}
	p := newPrinter(o.Format, cmd.OutOrStdout())
	err = fn(s, p)
	if err2 := p.close(); err == nil {
		err = err2
	}
	return err
}

// conflict prints the stored document, when known, and returns the
// conflict exit error.
func conflict(p *printer, res docstore.Result) error {
	if res.Current != nil {
		if err := p.print(res.Current); err != nil {
			return err
		}
	}
	return &ExitError{Code: ExitCodeConflict, Err: errConflict}
}

func newPutCommand(opts *RootOptions) *cobra.Command {
	var newID, updateRev bool
	cmd := &cobra.Command{
		Use:   "put [file|-]",
		Short: "Create or update a document",
		Long: `Read one document from a file or stdin and store it.

The document must have a type and an id, or --new-id. Without a rev it is
created; with a rev it replaces the stored document at that revision. Files
named *.yaml or *.yml are read as YAML, everything else as JSON.

Exits with status 3 on conflict after printing the stored document, if any.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "-"
			if len(args) == 1 {
				name = args[0]
			}
			doc, err := readDocument(cmd.InOrStdin(), name)
			if err != nil {
				return err
			}
			if newID {
				doc[docstore.KeyID] = ksid.NewID().String()
			}
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				res, err := s.Put(doc, docstore.PutOptions{UpdateRev: updateRev})
				if err != nil {
					return err
				}
				if !res.OK() {
					return conflict(p, res)
				}
				if updateRev {
					return p.print(doc)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&newID, "new-id", false, "assign a generated, time sortable id")
	cmd.Flags().BoolVar(&updateRev, "update-rev", false, "print the stored document with its new rev")
	return cmd
}

// readDocument reads a document from the named file, or stdin for "-".
func readDocument(stdin io.Reader, name string) (docstore.Document, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name) //nolint:gosec // G304: file chosen by the user
	}
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var doc docstore.Document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		if doc == nil {
			return nil, fmt.Errorf("%s: not a document", name)
		}
		return doc, nil
	default:
		doc, err := docstore.JSONCodec{}.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		return doc, nil
	}
}

func newGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get TYPE ID",
		Short: "Print a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				doc := s.Get(args[0], args[1])
				if doc == nil {
					return fmt.Errorf("%s/%s: %w", args[0], args[1], errNotFound)
				}
				return p.print(doc)
			})
		},
	}
}

func newDeleteCommand(opts *RootOptions) *cobra.Command {
	var rev int64
	cmd := &cobra.Command{
		Use:   "delete TYPE ID --rev N",
		Short: "Delete a document at a revision",
		Long: `Delete a document if its stored revision is N.

A document that is unreadable counts as already deleted. Exits with status 3
on conflict after printing the stored document, if any.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := docstore.Document{docstore.KeyType: args[0], docstore.KeyID: args[1], docstore.KeyRev: rev}
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				res, err := s.Delete(doc)
				if err != nil {
					return err
				}
				if !res.OK() {
					return conflict(p, res)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&rev, "rev", -1, "revision expected to be stored")
	_ = cmd.MarkFlagRequired("rev")
	return cmd
}

func newListCommand(opts *RootOptions) *cobra.Command {
	var match, suffix []string
	var q docstore.QueryOptions
	cmd := &cobra.Command{
		Use:   "list TYPE",
		Short: "Print documents of a type",
		Long: `Print the documents of a type ordered by their file name.

--match and --suffix select ids by regular expression or suffix; a document
is kept when any of them matches. --skip and --limit page through the
selection. --count prints the number of selected documents instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter []docstore.Matcher
			for _, m := range match {
				re, err := regexp.Compile(m)
				if err != nil {
					return fmt.Errorf("invalid --match: %w", err)
				}
				filter = append(filter, re)
			}
			for _, s := range suffix {
				filter = append(filter, docstore.Suffix(s))
			}
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				if q.Count {
					n, err := s.Count(args[0], filter, q)
					if err != nil {
						return err
					}
					return p.print(n)
				}
				docs, err := s.GetMany(args[0], filter, q)
				if err != nil {
					return err
				}
				return p.print(docs)
			})
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&match, "match", nil, "regular expression on the id; repeatable")
	f.StringArrayVar(&suffix, "suffix", nil, "id suffix; repeatable")
	f.IntVar(&q.Skip, "skip", 0, "number of selected documents to skip")
	f.IntVar(&q.Limit, "limit", 0, "maximum number of documents; 0 is unlimited")
	f.BoolVar(&q.Descending, "desc", false, "reverse the order")
	f.BoolVar(&q.Count, "count", false, "print the number of documents")
	return cmd
}

func newIDsCommand(opts *RootOptions) *cobra.Command {
	var realIDs bool
	cmd := &cobra.Command{
		Use:   "ids TYPE",
		Short: "Print the ids of a type",
		Long: `Print the ids of a type as derived from the file names, which are
neutralized. --real reads every file and prints the ids as stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				list := s.IDs
				if realIDs {
					list = s.RealIDs
				}
				ids, err := list(args[0])
				if err != nil {
					return err
				}
				return p.print(ids)
			})
		},
	}
	cmd.Flags().BoolVar(&realIDs, "real", false, "read the ids from the documents")
	return cmd
}

func newTypesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "Print the document types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				types, err := s.Types()
				if err != nil {
					return err
				}
				return p.print(types)
			})
		},
	}
}

func newPurgeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge TYPE",
		Short: "Delete every document of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				return s.Purge(args[0])
			})
		},
	}
}
