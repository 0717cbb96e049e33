package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/marmos91/tenantfs/pkg/files"
	"github.com/marmos91/tenantfs/pkg/pathutil"
	"github.com/spf13/cobra"
)

func newListCommand(opts *globalOptions) *cobra.Command {
	var (
		where    files.Where
		find     files.FindOptions
		mime     string
		dirsOnly bool
		fresh    bool
	)

	cmd := &cobra.Command{
		Use:   "ls [folder]",
		Short: "List files of a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if dirsOnly {
				dirs, err := store.AllDirectories(ctx, fresh)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, d := range dirs {
					fmt.Fprintf(out, "/%s\n", d.FieldValue())
				}
				return nil
			}

			if len(args) == 1 {
				where.Folder = args[0]
			}
			if mime != "" {
				where.MimeSuper, where.MimeSub, _ = strings.Cut(mime, "/")
			}

			found, err := store.Find(ctx, where, find)
			if err != nil {
				return err
			}
			printFiles(cmd, found)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&find.Recursive, "recursive", "r", false, "descend into subfolders")
	f.StringVarP(&where.Search, "search", "s", "", "case-insensitive name substring (implies --recursive)")
	f.StringVar(&mime, "mime", "", "filter by mime type, e.g. image or image/png")
	f.BoolVar(&where.InDB, "in-db", false, "only files with a database record")
	f.StringVar(&find.OrderBy, "order-by", "filename", "filename, uploaded_at or size_kb")
	f.BoolVar(&find.Descending, "desc", false, "reverse the order")
	f.IntVar(&find.Limit, "limit", 0, "maximum number of results")
	f.BoolVar(&dirsOnly, "dirs", false, "list every directory of the tenant")
	f.BoolVar(&fresh, "no-cache", false, "bypass the directory cache with --dirs")
	return cmd
}

func printFiles(cmd *cobra.Command, found []*files.File) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tROLE\tSIZE_KB\tMIME\tPATH")
	for _, f := range found {
		kind, mime := "file", f.Mimetype()
		if f.IsDirectory {
			kind, mime = "dir", "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", kind, f.MinRoleRead, f.SizeKB, mime, f.FieldValue())
	}
	_ = w.Flush()
}

func newMkdirCommand(opts *globalOptions) *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			f, err := store.NewFolder(ctx, args[0], in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", f.FieldValue())
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "parent folder")
	return cmd
}

func newPutCommand(opts *globalOptions) *cobra.Command {
	var (
		folder   string
		role     int
		user     int
		keepBoth bool
		mimetype string
	)

	cmd := &cobra.Command{
		Use:   "put <local-file>...",
		Short: "Upload local files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			var userID *int
			if cmd.Flags().Changed("user") {
				userID = &user
			}

			for _, src := range args {
				data, err := os.ReadFile(src)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", src, err)
				}

				dir, name := folder, filepath.Base(src)
				if keepBoth {
					rel, err := store.GetNewPath(ctx, pathutil.JoinRelative(folder, name), true)
					if err != nil {
						return err
					}
					dir, name = path.Dir(rel), path.Base(rel)
					if dir == "." {
						dir = ""
					}
				}

				f, err := store.FromContents(ctx, name, mimetype, data, userID, role, dir)
				if err != nil {
					return fmt.Errorf("failed to store %s: %w", src, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", f.FieldValue())
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&folder, "folder", "", "destination folder")
	f.IntVar(&role, "role", 0, "min_role_read (default 100, public)")
	f.IntVar(&user, "user", 0, "owner user id")
	f.BoolVar(&keepBoth, "keep-both", false, "suffix the name instead of replacing an existing file")
	f.StringVar(&mimetype, "mime", "", "mime type (detected when empty)")
	return cmd
}

func newMoveCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <folder-or-new-name>",
		Short: "Move a file into a folder, or rename it",
		Long: `Move <path> into <folder-or-new-name> when that names an existing folder;
otherwise rename <path> in place. References to the file in database
tables are updated in both cases.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			f, err := store.FindOne(ctx, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("%s: %w", args[0], files.ErrNotFound)
			}

			target, err := store.FindOne(ctx, args[1])
			if err != nil {
				return err
			}

			var moved *files.File
			if target != nil && target.IsDirectory {
				moved, err = store.MoveToDir(ctx, f, target.FieldValue())
			} else {
				moved, err = store.Rename(ctx, f, args[1])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", f.FieldValue(), moved.FieldValue())
			return nil
		},
	}
}

func newRemoveCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete files or folders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			var failed int
			for _, arg := range args {
				f, err := store.FindOne(ctx, arg)
				if err != nil {
					return err
				}
				if f == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: not found\n", arg)
					failed++
					continue
				}
				if res := store.Delete(ctx, f, nil); !res.OK() {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", arg, res.Error)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deletions failed", failed, len(args))
			}
			return nil
		},
	}
}

func newChroleCommand(opts *globalOptions) *cobra.Command {
	var user int

	cmd := &cobra.Command{
		Use:   "chrole <path> <min-role-read>",
		Short: "Change the role required to read a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid role %q: %w", args[1], err)
			}

			ctx := cmd.Context()
			rt, store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			f, err := store.FindOne(ctx, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("%s: %w", args[0], files.ErrNotFound)
			}

			if err := store.SetRole(ctx, f, role); err != nil {
				return err
			}
			if cmd.Flags().Changed("user") {
				if err := store.SetUser(ctx, f, &user); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&user, "user", 0, "also change the owner user id")
	return cmd
}

