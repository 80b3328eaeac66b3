// cmd/scribe/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"scribe/client"
	"scribe/internal/api"
	"scribe/internal/diff"
	"scribe/internal/errors"
	"scribe/internal/parcel"
	"scribe/internal/session"
	"scribe/internal/txn"
	"scribe/internal/workspace"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// backend is either the working tree opened in-process or a running server.
type backend interface {
	OpenSession(ctx context.Context) (string, error)
	CloseSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]session.Record, error)
	Read(ctx context.Context, path string) (*api.ReadFileResponse, error)
	Write(ctx context.Context, req api.WriteFileRequest) (*parcel.Result, error)
	Edit(ctx context.Context, req api.EditFileRequest) (*parcel.Result, error)
	Remove(ctx context.Context, req api.RemoveFileRequest) (*parcel.Result, error)
	Chmod(ctx context.Context, req api.ChmodRequest) (*parcel.Result, error)
	Recover(ctx context.Context) (txn.RecoveryReport, error)
	Close() error
}

var (
	_ backend = (*local)(nil)
	_ backend = (*client.Client)(nil)
)

var (
	logger, _ = zap.NewDevelopment()

	dirFlag     string
	serverFlag  string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Scribe applies targeted edits to files and commits every one of them",
	Long: `Scribe locates edit targets with whitespace-tolerant matching, refuses
to touch anything the repository could not restore, and records each accepted
change in git. Edits made in one session amend a single commit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verboseFlag {
			return nil
		}
		logger = zap.NewNop()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "C", "", "Directory inside the working tree (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", os.Getenv("SCRIBE_SERVER"), "URL of a running scribe server to send requests to")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log what the engine does")

	var readCmd = &cobra.Command{
		Use:   "read <path>",
		Short: "Print a file and the hash to pass to edit --hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			resp, err := b.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			faint := color.New(color.Faint)
			faint.Fprintf(os.Stderr, "%s  %s  %s\n", resp.Path, resp.Hash, resp.LineEnding)
			fmt.Print(resp.Content)
			return nil
		},
	}

	var writeCmd = &cobra.Command{
		Use:   "write <path>",
		Short: "Replace the content of a file with stdin or --from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			message, _ := cmd.Flags().GetString("message")

			content, err := readInput(from)
			if err != nil {
				return err
			}

			return inSession(cmd, func(b backend, id string) (*parcel.Result, error) {
				return b.Write(cmd.Context(), api.WriteFileRequest{
					Session:     id,
					Path:        args[0],
					Content:     content,
					Description: message,
				})
			})
		},
	}
	writeCmd.Flags().String("from", "-", "File to take the new content from, - for stdin")

	var editCmd = &cobra.Command{
		Use:   "edit <path>",
		Short: "Replace one occurrence of --old with --new",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldString, _ := cmd.Flags().GetString("old")
			newString, _ := cmd.Flags().GetString("new")
			count, _ := cmd.Flags().GetInt("count")
			hash, _ := cmd.Flags().GetString("hash")
			message, _ := cmd.Flags().GetString("message")

			return inSession(cmd, func(b backend, id string) (*parcel.Result, error) {
				return b.Edit(cmd.Context(), api.EditFileRequest{
					Session:              id,
					Path:                 args[0],
					OldString:            oldString,
					NewString:            newString,
					ExpectedReplacements: count,
					Description:          message,
					ExpectedHash:         hash,
				})
			})
		},
	}
	editCmd.Flags().String("old", "", "Text to replace")
	editCmd.Flags().String("new", "", "Replacement text")
	editCmd.Flags().Int("count", 0, "Number of occurrences expected (default 1)")
	editCmd.Flags().String("hash", "", "Hash printed by read; the edit fails if the file changed since")
	editCmd.MarkFlagRequired("new")

	var rmCmd = &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a tracked file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")

			return inSession(cmd, func(b backend, id string) (*parcel.Result, error) {
				return b.Remove(cmd.Context(), api.RemoveFileRequest{
					Session:     id,
					Path:        args[0],
					Description: message,
				})
			})
		},
	}

	var chmodCmd = &cobra.Command{
		Use:   "chmod <a+x|a-x> <path>",
		Short: "Add or remove the executable bits of a tracked file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")

			return inSession(cmd, func(b backend, id string) (*parcel.Result, error) {
				return b.Chmod(cmd.Context(), api.ChmodRequest{
					Session:     id,
					Path:        args[1],
					Mode:        args[0],
					Description: message,
				})
			})
		},
	}

	for _, c := range []*cobra.Command{writeCmd, editCmd, rmCmd, chmodCmd} {
		c.Flags().StringP("message", "m", "", "Commit description")
		c.Flags().StringP("session", "s", os.Getenv("SCRIBE_SESSION"), "Session to amend; without one the change gets its own commit")
	}

	var sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage edit sessions",
	}

	var openCmd = &cobra.Command{
		Use:   "open",
		Short: "Open a session and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			id, err := b.OpenSession(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	var closeCmd = &cobra.Command{
		Use:   "close <id>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.CloseSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			color.Green("Session %s closed", args[0])
			return nil
		},
	}

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			records, err := b.ListSessions(cmd.Context())
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			faint := color.New(color.Faint).SprintFunc()
			for _, r := range records {
				state := green("open")
				if r.Closed {
					state = faint("closed")
				}
				fmt.Printf("%s  %-6s  %d commit(s)  %s\n", r.ID, state, len(r.Commits), r.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	var recoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "Settle transactions interrupted by a crash",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend()
			if err != nil {
				return err
			}
			defer b.Close()

			report, err := b.Recover(cmd.Context())
			for _, p := range report.Restored {
				color.Yellow("restored  %s", p)
			}
			for _, p := range report.Committed {
				color.Green("committed %s", p)
			}
			if err != nil {
				return err
			}
			if len(report.Restored)+len(report.Committed) == 0 {
				fmt.Println("Nothing to recover")
			}
			return nil
		},
	}

	sessionCmd.AddCommand(openCmd, closeCmd, listCmd)
	rootCmd.AddCommand(readCmd, writeCmd, editCmd, rmCmd, chmodCmd, sessionCmd, recoverCmd)
}

// inSession runs op in the --session session, or in a fresh one that is
// closed again afterwards.
func inSession(cmd *cobra.Command, op func(b backend, id string) (*parcel.Result, error)) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := cmd.Context()
	id, _ := cmd.Flags().GetString("session")
	if id == "" {
		if id, err = b.OpenSession(ctx); err != nil {
			return err
		}
		defer func() {
			if err := b.CloseSession(ctx, id); err != nil {
				logger.Warn("closing session", zap.String("session", id), zap.Error(err))
			}
		}()
	}

	res, err := op(b, id)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func openBackend() (backend, error) {
	if serverFlag != "" {
		return client.New(serverFlag), nil
	}

	dir := dirFlag
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting current directory: %w", err)
		}
		dir = cwd
	}
	root, err := workspace.FindRoot(dir)
	if err != nil {
		return nil, err
	}

	p, err := parcel.New(root, parcel.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("initializing parcel: %w", err)
	}
	return &local{p: p}, nil
}

func readInput(from string) (string, error) {
	if from == "" || from == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(from)
	return string(data), err
}

func printResult(res *parcel.Result) {
	verb := "updated"
	switch {
	case res.IsNew:
		verb = "created"
	case res.Removed:
		verb = "removed"
	case res.Mode != "":
		verb = "chmod " + res.Mode
	}
	color.New(color.FgGreen, color.Bold).Printf("%s %s", verb, res.Path)
	fmt.Printf(" in %s", shortID(res.Commit.ID))
	if res.Tier != 0 {
		fmt.Printf(" (matched %s)", res.Tier)
	}
	fmt.Println()

	if res.Diff != nil {
		printColoredDiff(res.Diff)
	}
}

func printColoredDiff(d *diff.DiffResult) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(d.Format(), "\n"), "\n") {
		switch {
		case line == "":
			fmt.Println()
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
	fmt.Printf("%d addition(s), %d deletion(s)\n", d.Stats.Additions, d.Stats.Deletions)
}

func printError(err error) {
	e, ok := errors.As(err)
	if !ok {
		color.Red("error: %v", err)
		return
	}

	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "%s: ", strings.ToLower(string(e.Type)))
	fmt.Fprintln(os.Stderr, e.Error())
	if e.Type == errors.ErrorTypeConflict {
		fmt.Fprintln(os.Stderr, "run `scribe read` again and retry with the new hash")
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}
