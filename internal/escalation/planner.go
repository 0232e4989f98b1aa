// Package escalation drives the complaint reminder and escalation cascade.
// Every run is stateless: it reads open complaints, works out which tier is
// due for each, and records the send in the tier's timestamp column so the
// same tier never fires twice.
package escalation

import (
	"time"

	"backoffice/api/internal/store"
)

// Action is one email the run should send.
type Action struct {
	ComplaintID string
	Reference   string
	Tier        Tier
	// Supersede lists lower tier stamps that are still empty and get filled
	// alongside this tier.
	Supersede []string
	Age       time.Duration
	// PreviousLevel is the escalation level before the action.
	PreviousLevel int
	Complaint     store.Complaint
}

// Plan works out the due actions at now. It is a pure function.
//
// For each complaint only the highest due tier is acted on. A complaint
// that skipped tiers (for example because cron was down for a week) gets one
// email, not a burst, and the tiers it jumped over are marked superseded.
// A tier whose stamp is already set is never planned again.
func Plan(now time.Time, policy Policy, complaints []store.Complaint) []Action {
	actions := make([]Action, 0)
	for _, complaint := range complaints {
		if closedStatus(complaint.Status) {
			continue
		}
		age := now.Sub(complaint.CreatedAt)
		if age < 0 {
			continue
		}

		top := -1
		for i, tier := range policy.Tiers {
			if age >= tier.After && statusIn(complaint.Status, tier.Statuses) {
				top = i
			}
		}
		if top < 0 {
			continue
		}
		tier := policy.Tiers[top]
		if stampOf(complaint, tier.Stamp) != nil {
			continue
		}

		supersede := make([]string, 0, top)
		for _, lower := range policy.Tiers[:top] {
			if stampOf(complaint, lower.Stamp) == nil {
				supersede = append(supersede, lower.Stamp)
			}
		}

		actions = append(actions, Action{
			ComplaintID:   complaint.ID,
			Reference:     complaint.Reference,
			Tier:          tier,
			Supersede:     supersede,
			Age:           age,
			PreviousLevel: complaint.EscalationLevel,
			Complaint:     complaint,
		})
	}
	return actions
}

func closedStatus(status string) bool {
	return status == "resolved" || status == "closed"
}

func statusIn(status string, statuses []string) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func stampOf(complaint store.Complaint, stamp string) *time.Time {
	switch stamp {
	case store.StampReminder:
		return complaint.ReminderSentAt
	case store.StampEscalate3d:
		return complaint.Escalated3dAt
	case store.StampEscalate6d:
		return complaint.Escalated6dAt
	default:
		return nil
	}
}
