package escalation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	policy := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)
	require.NoError(t, policy.Validate())
	assert.Equal(t, 48*time.Hour, policy.Earliest())

	tier, ok := policy.Tier(TierFounders)
	require.True(t, ok)
	assert.Equal(t, AudienceFounders, tier.Audience)
}

func TestParsePolicyOverridesThresholdsAndRecipients(t *testing.T) {
	base := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)
	raw := []byte(`
tiers:
  reminder_48h:
    after: 36h
  escalation_6d:
    recipients:
      - board@example.com
`)
	policy, err := ParsePolicy(raw, base)
	require.NoError(t, err)

	reminder, _ := policy.Tier(TierReminder)
	assert.Equal(t, 36*time.Hour, reminder.After)
	founders, _ := policy.Tier(TierFounders)
	assert.Equal(t, []string{"board@example.com"}, founders.Recipients)

	// base is untouched
	baseReminder, _ := base.Tier(TierReminder)
	assert.Equal(t, 48*time.Hour, baseReminder.After)
}

func TestParsePolicyRejectsBadFiles(t *testing.T) {
	base := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)

	_, err := ParsePolicy([]byte("tiers:\n  escalation_9d:\n    after: 1h\n"), base)
	assert.ErrorContains(t, err, "unknown tier")

	_, err = ParsePolicy([]byte("tiers:\n  escalation_3d:\n    after: 200h\n"), base)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = ParsePolicy([]byte("tiers: [oops"), base)
	assert.Error(t, err)
}

func TestLoadPolicyFromFile(t *testing.T) {
	base := DefaultPolicy(DefaultReminderAfter, DefaultManagementAfter, DefaultFounderAfter)

	policy, err := LoadPolicy("", base)
	require.NoError(t, err)
	assert.Equal(t, base, policy)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  escalation_3d:\n    after: 60h\n"), 0o600))
	policy, err = LoadPolicy(path, base)
	require.NoError(t, err)
	tier, _ := policy.Tier(TierManagement)
	assert.Equal(t, 60*time.Hour, tier.After)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"), base)
	assert.Error(t, err)
}

func TestLoadPolicyWithoutFileRejectsMisorderedThresholds(t *testing.T) {
	// management before the reminder, as a bad environment override would set it
	base := DefaultPolicy(72*time.Hour, 48*time.Hour, 144*time.Hour)
	_, err := LoadPolicy("", base)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}
