// Package workflow holds the approval state machine for internal spend and
// document submissions: finance review, then co-founder review, then founder
// final approval with a signature.
package workflow

import (
	"errors"
	"strings"

	"backoffice/api/internal/rbac"
)

type Status string

const (
	StatusPendingFinance   Status = "pending_finance"
	StatusPendingCofounder Status = "pending_cofounder"
	StatusPendingFounder   Status = "pending_founder"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusChangesRequested Status = "changes_requested"
)

type Stage string

const (
	StageSubmission Stage = "submission"
	StageFinance    Stage = "finance"
	StageCofounder  Stage = "cofounder"
	StageFounder    Stage = "founder"
)

type Decision string

const (
	DecisionSubmit         Decision = "submit"
	DecisionApprove        Decision = "approve"
	DecisionReject         Decision = "reject"
	DecisionRequestChanges Decision = "request_changes"
	DecisionResubmit       Decision = "resubmit"
)

var (
	ErrUnknownStatus     = errors.New("unknown status")
	ErrInvalidDecision   = errors.New("decision must be approve, reject or request_changes")
	ErrTerminal          = errors.New("submission is closed")
	ErrNotAwaitingReview = errors.New("submission is not awaiting review")
	ErrStageMismatch     = errors.New("submission is not at the requested stage")
	ErrNotStageOwner     = errors.New("role does not own the current stage")
	ErrSignatureRequired = errors.New("founder approval requires a signature")
	ErrCommentRequired   = errors.New("a comment is required")
	ErrNotSubmitter      = errors.New("only the submitter may resubmit")
	ErrNotResubmittable  = errors.New("only submissions with requested changes may be resubmitted")
)

type stageDef struct {
	stage  Stage
	owner  rbac.Role
	action rbac.Action
	next   Status
}

// Review stages in the fixed order a submission passes through them.
var pipeline = map[Status]stageDef{
	StatusPendingFinance:   {stage: StageFinance, owner: rbac.RoleFinance, action: rbac.ActionDecideFinance, next: StatusPendingCofounder},
	StatusPendingCofounder: {stage: StageCofounder, owner: rbac.RoleCofounder, action: rbac.ActionDecideCofounder, next: StatusPendingFounder},
	StatusPendingFounder:   {stage: StageFounder, owner: rbac.RoleFounder, action: rbac.ActionDecideFounder, next: StatusApproved},
}

// Actor is whoever acts on a submission.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Transition is a validated move between two statuses.
type Transition struct {
	Stage    Stage
	Decision Decision
	From     Status
	To       Status
}

func ParseStatus(value string) (Status, error) {
	switch status := Status(strings.TrimSpace(value)); status {
	case StatusPendingFinance, StatusPendingCofounder, StatusPendingFounder,
		StatusApproved, StatusRejected, StatusChangesRequested:
		return status, nil
	default:
		return "", ErrUnknownStatus
	}
}

func ParseDecision(value string) (Decision, error) {
	switch decision := Decision(strings.ToLower(strings.TrimSpace(value))); decision {
	case DecisionApprove, DecisionReject, DecisionRequestChanges:
		return decision, nil
	default:
		return "", ErrInvalidDecision
	}
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// StageOf returns the review stage a status waits on.
func StageOf(status Status) (Stage, bool) {
	def, ok := pipeline[status]
	return def.stage, ok
}

// OwnerOf returns the role that decides at status.
func OwnerOf(status Status) (rbac.Role, bool) {
	def, ok := pipeline[status]
	return def.owner, ok
}

// CanDecide reports whether role may decide a submission sitting at status.
// Admins may act at every stage.
func CanDecide(role string, status Status) bool {
	def, ok := pipeline[status]
	if !ok {
		return false
	}
	return rbac.Can(rbac.Normalize(role), def.action)
}

// DecideInput is one reviewer decision.
type DecideInput struct {
	Current  Status
	Stage    Stage
	Decision Decision
	Actor    Actor
	Comment  string
	// HasSignature reports whether a signature image accompanied the decision.
	HasSignature bool
}

// Decide validates a reviewer decision against the current status and
// returns the resulting transition. Stage may be empty; when set it must
// match the stage the submission is waiting on.
func Decide(in DecideInput) (Transition, error) {
	if in.Current.Terminal() {
		return Transition{}, ErrTerminal
	}
	def, ok := pipeline[in.Current]
	if !ok {
		return Transition{}, ErrNotAwaitingReview
	}
	if in.Stage != "" && in.Stage != def.stage {
		return Transition{}, ErrStageMismatch
	}
	if !CanDecide(in.Actor.Role, in.Current) {
		return Transition{}, ErrNotStageOwner
	}

	transition := Transition{Stage: def.stage, Decision: in.Decision, From: in.Current}
	switch in.Decision {
	case DecisionApprove:
		if def.stage == StageFounder && !in.HasSignature {
			return Transition{}, ErrSignatureRequired
		}
		transition.To = def.next
	case DecisionReject:
		if strings.TrimSpace(in.Comment) == "" {
			return Transition{}, ErrCommentRequired
		}
		transition.To = StatusRejected
	case DecisionRequestChanges:
		if strings.TrimSpace(in.Comment) == "" {
			return Transition{}, ErrCommentRequired
		}
		transition.To = StatusChangesRequested
	default:
		return Transition{}, ErrInvalidDecision
	}
	return transition, nil
}

// Submit is the opening transition of every submission.
func Submit() Transition {
	return Transition{Stage: StageSubmission, Decision: DecisionSubmit, To: StatusPendingFinance}
}

// Resubmit sends a submission with requested changes back to the start of
// the pipeline. Only the original submitter may do it.
func Resubmit(current Status, actor Actor, submitterID string) (Transition, error) {
	if current != StatusChangesRequested {
		return Transition{}, ErrNotResubmittable
	}
	if actor.ID == "" || actor.ID != submitterID {
		return Transition{}, ErrNotSubmitter
	}
	return Transition{
		Stage:    StageSubmission,
		Decision: DecisionResubmit,
		From:     current,
		To:       StatusPendingFinance,
	}, nil
}

// Stages lists review stages in order.
func Stages() []Stage {
	return []Stage{StageFinance, StageCofounder, StageFounder}
}
