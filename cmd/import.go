package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/app"
	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/bookmarks"
	"github.com/JakeFAU/bookmark-archiver/internal/folderpath"
	"github.com/JakeFAU/bookmark-archiver/internal/status"
)

func newImportCmd() *cobra.Command {
	var withStatus bool
	cmd := &cobra.Command{
		Use:   "import <bookmarks-file>",
		Short: "Prints the bookmarks of a Chrome Bookmarks file with their folder paths",
		Long: `Reads a Chrome "Bookmarks" JSON file and lists every bookmarked page with
the folder its snapshot would be filed under. With --status the archive
state of each page is read from the configured status store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportCommand(cmd, args[0], withStatus)
		},
	}
	cmd.Flags().BoolVar(&withStatus, "status", false, "include the archive state of each page")
	return cmd
}

func runImportCommand(cmd *cobra.Command, path string, withStatus bool) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	f, err := os.Open(path) //nolint:gosec // path is a CLI argument
	if err != nil {
		return fmt.Errorf("open bookmarks file: %w", err)
	}
	defer func() { _ = f.Close() }()

	tree := bookmarks.New(bookmarks.Options{Logger: e.logger})
	n, err := tree.LoadChromeJSON(f)
	if err != nil {
		return err
	}

	var store *status.Store
	if withStatus {
		s, closeStore, err := app.OpenStore(cmd.Context(), e.cfg, e.logger)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := closeStore(); cerr != nil {
				e.logger.Warn("failed to close status store", zap.Error(cerr))
			}
		}()
		store = s
	}

	if err := printTree(cmd.Context(), cmd.OutOrStdout(), tree, store); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d nodes imported\n", n)
	return nil
}

func printTree(ctx context.Context, out io.Writer, tree *bookmarks.Tree, store *status.Store) error {
	paths := folderpath.New(tree)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	var walk func(id string) error
	walk = func(id string) error {
		children, err := tree.Children(ctx, id)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.IsFolder() {
				if err := walk(child.ID); err != nil {
					return err
				}
				continue
			}
			p, err := paths.Resolve(ctx, child)
			if err != nil {
				return err
			}
			state := ""
			if store != nil {
				rec, err := store.Get(ctx, child.URL)
				if err != nil {
					return fmt.Errorf("read record: %w", err)
				}
				state = rec.State().String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.String(), child.Title, child.URL, state)
		}
		return nil
	}
	if err := walk(bookmarks.RootID); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write tree: %w", err)
	}
	return nil
}

// compile-time check that the tree satisfies the reader the resolver needs.
var _ archive.BookmarkReader = (*bookmarks.Tree)(nil)
