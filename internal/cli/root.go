// Package cli holds the chtbtr command tree: the relay server and the two
// review hook clients.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X chtbtr/internal/cli.Version=...".
var Version = "dev"

const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitUsageError = 2
)

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chtbtr",
		Short: "Relay review events to chat notifications",
		Long: `chtbtr turns code review hook events into one-on-one chat messages.

"chtbtr serve" runs the relay server. "chtbtr comment-added" and
"chtbtr reviewer-added" are called by the review server's hooks plugin and
post the event to the relay.`,
		SilenceUsage: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	root.AddCommand(newServeCmd(), newCommentAddedCmd(), newReviewerAddedCmd(), newVersionCmd())
	return root
}

// Run executes the command line and returns an exit code.
func Run(args []string) int {
	root := NewRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	// Cobra already prints the error
	if errors.As(err, new(usageError)) {
		return ExitUsageError
	}
	return ExitFailure
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print chtbtr version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chtbtr version %s\n", Version)
		},
	}
}
