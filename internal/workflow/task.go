// Package workflow owns the task lifecycle: broadcast from a source room,
// exclusive claim in a target room, evidence collection, review and requeue.
package workflow

import (
	"slices"
	"time"

	"taskbot/internal/transport"
)

// Variant is the evidence profile of a task.
type Variant int

const (
	Simple   Variant = iota + 1 // one attachment
	Verified                    // attachment + 4-digit code
)

func (v Variant) String() string {
	switch v {
	case Simple:
		return "simple"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

// Label is the operator-facing name.
func (v Variant) Label() string {
	if v == Verified {
		return "Test"
	}
	return "SMS"
}

type Status int

const (
	Open Status = iota + 1
	Claimed
	PendingReview
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Claimed:
		return "claimed"
	case PendingReview:
		return "pending_review"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions enumerates every allowed status change.
var transitions = map[Status][]Status{
	Open:          {Claimed},
	Claimed:       {PendingReview, Open},
	PendingReview: {Done, Failed, Claimed},
	Failed:        {Open},
}

func (s Status) canMoveTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Worker is a participant acting on a task. Name is the display form;
// Username and FirstName are kept for statistics.
type Worker struct {
	ID        int64
	Name      string
	Username  string
	FirstName string
}

type Claim struct {
	Worker Worker
	Room   transport.ChatTarget
	At     time.Time
}

type Artifacts struct {
	Attachment *transport.Attachment
	Code       string
}

// Requirement is one piece of evidence a variant needs.
type Requirement string

const (
	NeedAttachment Requirement = "attachment"
	NeedCode       Requirement = "code"
)

func (v Variant) Requirements() []Requirement {
	if v == Verified {
		return []Requirement{NeedAttachment, NeedCode}
	}
	return []Requirement{NeedAttachment}
}

// Missing lists what v still needs beyond a.
func (a Artifacts) Missing(v Variant) []Requirement {
	var out []Requirement
	for _, r := range v.Requirements() {
		switch r {
		case NeedAttachment:
			if a.Attachment == nil {
				out = append(out, r)
			}
		case NeedCode:
			if a.Code == "" {
				out = append(out, r)
			}
		}
	}
	return out
}

type Task struct {
	ID        int64
	Variant   Variant
	Text      string
	Origin    int64
	Status    Status
	Claim     *Claim
	Artifacts Artifacts
	// Round counts broadcasts; it increments on every requeue.
	Round     int
	CreatedAt time.Time
	UpdatedAt time.Time

	// Posts are the copies delivered in the current round.
	Posts []transport.MessageRef
	// Reviews are the copies forwarded to reviewers for the current submission.
	Reviews []transport.MessageRef
}

func (t *Task) clone() Task {
	out := *t
	if t.Claim != nil {
		c := *t.Claim
		out.Claim = &c
	}
	if t.Artifacts.Attachment != nil {
		a := *t.Artifacts.Attachment
		out.Artifacts.Attachment = &a
	}
	out.Posts = slices.Clone(t.Posts)
	out.Reviews = slices.Clone(t.Reviews)
	return out
}

// ClaimedBy returns the claimant, or the zero Worker.
func (t Task) ClaimedBy() Worker {
	if t.Claim == nil {
		return Worker{}
	}
	return t.Claim.Worker
}
