package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/api/internal/store"
)

var planNow = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func complaintAged(id, status string, age time.Duration) store.Complaint {
	return store.Complaint{
		ID:        id,
		Reference: "CMP-" + id,
		Status:    status,
		CreatedAt: planNow.Add(-age),
	}
}

func stamp(t time.Time) *time.Time { return &t }

func TestPlanThresholdBoundaries(t *testing.T) {
	policy := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)

	cases := []struct {
		name      string
		complaint store.Complaint
		want      TierName
	}{
		{name: "just under 48h", complaint: complaintAged("a", "sent", 48*time.Hour-time.Second)},
		{name: "exactly 48h", complaint: complaintAged("b", "sent", 48*time.Hour), want: TierReminder},
		{name: "exactly 3 days", complaint: complaintAged("c", "sent", 72*time.Hour), want: TierManagement},
		{name: "exactly 6 days", complaint: complaintAged("d", "sent", 144*time.Hour), want: TierFounders},
		{name: "in progress at 50h gets no reminder", complaint: complaintAged("e", "in_progress", 50*time.Hour)},
		{name: "in progress at 4 days escalates", complaint: complaintAged("f", "in_progress", 96*time.Hour), want: TierManagement},
		{name: "resolved never escalates", complaint: complaintAged("g", "resolved", 200*time.Hour)},
		{name: "closed never escalates", complaint: complaintAged("h", "closed", 200*time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actions := Plan(planNow, policy, []store.Complaint{tc.complaint})
			if tc.want == "" {
				assert.Empty(t, actions)
				return
			}
			require.Len(t, actions, 1)
			assert.Equal(t, tc.want, actions[0].Tier.Name)
		})
	}
}

func TestPlanSkipsAlreadyStampedTier(t *testing.T) {
	policy := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)

	reminded := complaintAged("a", "sent", 60*time.Hour)
	reminded.ReminderSentAt = stamp(planNow.Add(-10 * time.Hour))
	assert.Empty(t, Plan(planNow, policy, []store.Complaint{reminded}))

	escalated := complaintAged("b", "in_progress", 100*time.Hour)
	escalated.ReminderSentAt = stamp(planNow.Add(-50 * time.Hour))
	escalated.Escalated3dAt = stamp(planNow.Add(-28 * time.Hour))
	escalated.EscalationLevel = 1
	assert.Empty(t, Plan(planNow, policy, []store.Complaint{escalated}))

	// Once past 6 days the next tier fires even though earlier ones were sent.
	escalated.CreatedAt = planNow.Add(-145 * time.Hour)
	actions := Plan(planNow, policy, []store.Complaint{escalated})
	require.Len(t, actions, 1)
	assert.Equal(t, TierFounders, actions[0].Tier.Name)
	assert.Empty(t, actions[0].Supersede)
	assert.Equal(t, 1, actions[0].PreviousLevel)
}

func TestPlanSendsOnlyHighestDueTier(t *testing.T) {
	policy := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)

	actions := Plan(planNow, policy, []store.Complaint{complaintAged("late", "sent", 7*24*time.Hour)})
	require.Len(t, actions, 1)
	assert.Equal(t, TierFounders, actions[0].Tier.Name)
	assert.Equal(t, 2, actions[0].Tier.Level)
	assert.Equal(t, []string{store.StampReminder, store.StampEscalate3d}, actions[0].Supersede)
}

func TestPlanIgnoresFutureCreatedAt(t *testing.T) {
	policy := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)
	future := complaintAged("skew", "sent", -time.Hour)
	assert.Empty(t, Plan(planNow, policy, []store.Complaint{future}))
}

func TestPlanHandlesBatch(t *testing.T) {
	policy := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)
	complaints := []store.Complaint{
		complaintAged("1", "sent", 10*time.Hour),
		complaintAged("2", "sent", 49*time.Hour),
		complaintAged("3", "in_progress", 80*time.Hour),
		complaintAged("4", "resolved", 300*time.Hour),
	}
	actions := Plan(planNow, policy, complaints)
	require.Len(t, actions, 2)
	assert.Equal(t, "2", actions[0].ComplaintID)
	assert.Equal(t, TierReminder, actions[0].Tier.Name)
	assert.Equal(t, "3", actions[1].ComplaintID)
	assert.Equal(t, TierManagement, actions[1].Tier.Name)
}
