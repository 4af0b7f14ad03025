// Package rules decides whether a trigger should become a notification.
//
// Every function is pure: the same event and settings always give the same
// answer. Rules are checked in a fixed order and the first one that fails
// is reported.
package rules

import (
	"fmt"

	"chtbtr/internal/domain"
)

// Reason identifies why a notification was rejected.
type Reason uint8

const (
	AuthorAndOwnerAreTheSame Reason = iota + 1
	NoPatchStatusSet
	OwnerNotSubscribedToComments
	OwnerIgnoresCommentsByUser
	OwnerIgnoresCommentsForProject
	OwnerNotSubscribedToSubmitNotification
	OwnerNotSubscribedToVerifiedNotification
	ReviewerNotSubscribedToNotification
	ReviewerIgnoresReviewsByChangeOwner
)

var reasonNames = map[Reason]string{
	AuthorAndOwnerAreTheSame:                 "AuthorAndOwnerAreTheSame",
	NoPatchStatusSet:                         "NoPatchStatusSet",
	OwnerNotSubscribedToComments:             "OwnerNotSubscribedToComments",
	OwnerIgnoresCommentsByUser:               "OwnerIgnoresCommentsByUser",
	OwnerIgnoresCommentsForProject:           "OwnerIgnoresCommentsForProject",
	OwnerNotSubscribedToSubmitNotification:   "OwnerNotSubscribedToSubmitNotification",
	OwnerNotSubscribedToVerifiedNotification: "OwnerNotSubscribedToVerifiedNotification",
	ReviewerNotSubscribedToNotification:      "ReviewerNotSubscribedToNotification",
	ReviewerIgnoresReviewsByChangeOwner:      "ReviewerIgnoresReviewsByChangeOwner",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// Violation is a rejected notification. It is a normal outcome, not a
// failure; it implements error so callers can return it on the same path.
type Violation struct {
	Reason  Reason
	Owner   domain.Username // change owner
	User    domain.Username // comment author, or the reviewer
	Project domain.ProjectName
}

func (v *Violation) Error() string {
	switch v.Reason {
	case AuthorAndOwnerAreTheSame:
		return "Author and owner are the same."
	case NoPatchStatusSet:
		return "No patch status set."
	case OwnerNotSubscribedToComments:
		return fmt.Sprintf("%s is not subscribed to comments.", v.Owner)
	case OwnerIgnoresCommentsByUser:
		return fmt.Sprintf("%s ignores comments by %s.", v.Owner, v.User)
	case OwnerIgnoresCommentsForProject:
		return fmt.Sprintf("%s ignores comments for project %s.", v.Owner, v.Project)
	case OwnerNotSubscribedToSubmitNotification:
		return fmt.Sprintf("%s ignores submit notifications.", v.Owner)
	case OwnerNotSubscribedToVerifiedNotification:
		return fmt.Sprintf("%s ignores verified notifications.", v.Owner)
	case ReviewerNotSubscribedToNotification:
		return fmt.Sprintf("%s ignores notifications to reviews.", v.User)
	case ReviewerIgnoresReviewsByChangeOwner:
		return fmt.Sprintf("%s ignores reviews from %s.", v.User, v.Owner)
	default:
		return v.Reason.String()
	}
}

// CommentAdded decides a comment notification for the change owner.
func CommentAdded(ev domain.CommentAdded, s domain.OwnerSettings) *Violation {
	owner := ev.Base.ChangeOwnerUsername
	switch {
	case ev.AuthorUsername == owner:
		return &Violation{Reason: AuthorAndOwnerAreTheSame, Owner: owner, User: ev.AuthorUsername}
	case !s.SubscribeComment:
		return &Violation{Reason: OwnerNotSubscribedToComments, Owner: owner}
	case s.IgnoresUser(ev.AuthorUsername):
		return &Violation{Reason: OwnerIgnoresCommentsByUser, Owner: owner, User: ev.AuthorUsername}
	case s.IgnoresProject(ev.Base.Project):
		return &Violation{Reason: OwnerIgnoresCommentsForProject, Owner: owner, Project: ev.Base.Project}
	}
	return nil
}

// PatchStatusChanged decides a score-change notification for the change
// owner. A Code-Review-only change is accepted here; the composer has no
// text for it and drops it.
func PatchStatusChanged(ev domain.PatchStatusChanged, s domain.OwnerSettings) *Violation {
	owner := ev.Base.ChangeOwnerUsername
	if ev.AuthorUsername == owner {
		return &Violation{Reason: AuthorAndOwnerAreTheSame, Owner: owner, User: ev.AuthorUsername}
	}

	switch ev.PatchStatus.Kind {
	case domain.PatchBoth, domain.PatchVerified:
		if !s.SubscribeVerified {
			return &Violation{Reason: OwnerNotSubscribedToVerifiedNotification, Owner: owner}
		}
		if ev.PatchStatus.Verified == domain.VerifiedNone {
			return &Violation{Reason: NoPatchStatusSet, Owner: owner}
		}
		return nil
	case domain.PatchReadyForSubmit:
		if !s.SubscribeReadyForSubmit {
			return &Violation{Reason: OwnerNotSubscribedToSubmitNotification, Owner: owner}
		}
		return nil
	case domain.PatchCodeReview:
		return nil
	default:
		return &Violation{Reason: NoPatchStatusSet, Owner: owner}
	}
}

// ReviewerAdded decides a notification for a newly added reviewer.
func ReviewerAdded(ev domain.ReviewerAdded, s domain.ReviewerSettings) *Violation {
	switch {
	case !s.Subscribe:
		return &Violation{Reason: ReviewerNotSubscribedToNotification, Owner: ev.ChangeOwnerUsername, User: ev.ReviewerUsername}
	case s.IgnoresUser(ev.ChangeOwnerUsername):
		return &Violation{Reason: ReviewerIgnoresReviewsByChangeOwner, Owner: ev.ChangeOwnerUsername, User: ev.ReviewerUsername}
	}
	return nil
}
