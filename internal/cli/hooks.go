package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chtbtr/internal/domain"
	"chtbtr/internal/hook"
)

// Arguments the review server passes that the relay has no use for. They are
// accepted so the hook invocation does not fail.
var (
	commentIgnored  = []string{"change", "branch", "topic", "commit", "comment"}
	reviewerIgnored = []string{"change", "branch"}
)

type clientOptions struct {
	server  string
	timeout time.Duration
}

func (o *clientOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.server, "server", hook.DefaultServer, "relay server base URL")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")
}

func ignoreFlags(cmd *cobra.Command, names []string) {
	for _, n := range names {
		cmd.Flags().String(n, "", "Ignored.")
	}
}

func required(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		_ = cmd.MarkFlagRequired(n)
	}
}

func newCommentAddedCmd() *cobra.Command {
	var (
		a        hook.CommentArgs
		vOld     string
		crOld    string
		clientOp clientOptions
	)
	cmd := &cobra.Command{
		Use:   "comment-added",
		Short: "Forward a comment-added hook event",
		Long: `Catch the review server's comment-added hook.
This command is usually run by the hooks plugin and not by a user.

Label values may be negative: "--Verified -1" is accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("Verified-oldValue") {
				a.VerifiedOld = &vOld
			}
			if cmd.Flags().Changed("Code-Review-oldValue") {
				a.CodeReviewOld = &crOld
			}
			return send(cmd, &clientOp, a.Trigger())
		},
	}

	f := cmd.Flags()
	f.StringVar(&a.ChangeOwner, "change-owner", "", "the change owner's display name, 'First Last <email>'")
	f.StringVar(&a.ChangeOwnerUsername, "change-owner-username", "", "the change owner's review username")
	f.StringVar(&a.ChangeURL, "change-url", "", "the change, usually a number like '29415'")
	f.StringVar(&a.Project, "project", "", "the project the change belongs to")
	f.StringVar(&a.Author, "author", "", "the comment author's display name, 'First Last <email>'")
	f.StringVar(&a.AuthorUsername, "author-username", "", "the comment author's review username")
	// The label flag names are case sensitive.
	f.StringVar(&a.Verified, "Verified", "", "the Verified label at the time of the comment")
	f.StringVar(&vOld, "Verified-oldValue", "", "the previous Verified label; set only when it changed")
	f.StringVar(&a.CodeReview, "Code-Review", "", "the Code-Review label at the time of the comment")
	f.StringVar(&crOld, "Code-Review-oldValue", "", "the previous Code-Review label; set only when it changed")
	required(cmd, "change-owner", "change-owner-username", "change-url", "project", "author", "author-username", "Verified", "Code-Review")
	ignoreFlags(cmd, commentIgnored)
	clientOp.register(cmd)
	return cmd
}

func newReviewerAddedCmd() *cobra.Command {
	var (
		a        hook.ReviewerArgs
		clientOp clientOptions
	)
	cmd := &cobra.Command{
		Use:   "reviewer-added",
		Short: "Forward a reviewer-added hook event",
		Long: `Catch the review server's reviewer-added hook.
This command is usually run by the hooks plugin and not by a user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, &clientOp, a.Trigger())
		},
	}

	f := cmd.Flags()
	f.StringVar(&a.Reviewer, "reviewer", "", "the reviewer's display name, 'First Last <email>'")
	f.StringVar(&a.ReviewerUsername, "reviewer-username", "", "the reviewer's review username")
	f.StringVar(&a.ChangeOwner, "change-owner", "", "the change owner's display name")
	f.StringVar(&a.ChangeOwnerUsername, "change-owner-username", "", "the change owner's review username")
	f.StringVar(&a.Project, "project", "", "the project name, like 'juco'")
	f.StringVar(&a.ChangeURL, "change-url", "", "the change, usually a number like '12312'")
	required(cmd, "reviewer", "reviewer-username", "change-owner", "change-owner-username", "project", "change-url")
	ignoreFlags(cmd, reviewerIgnored)
	clientOp.register(cmd)
	return cmd
}

func send(cmd *cobra.Command, o *clientOptions, ev domain.TriggerEvent) error {
	c := hook.NewClient(o.server, o.timeout)
	reply, err := c.Send(cmd.Context(), ev)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}
