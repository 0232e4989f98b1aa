package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"backoffice/api/internal/config"
	"backoffice/api/internal/email"
	"backoffice/api/internal/escalation"
	"backoffice/api/internal/store"
)

func runnerConfig(reminder, management, founders time.Duration) config.Config {
	var cfg config.Config
	cfg.Escalation.ReminderAfter = reminder
	cfg.Escalation.ManagementAfter = management
	cfg.Escalation.FounderAfter = founders
	cfg.Escalation.BatchSize = 50
	return cfg
}

func TestNewRunnerValidatesThresholdsFromConfig(t *testing.T) {
	mail := email.NewService(email.Config{}, zap.NewNop(), nil)
	s := store.NewPostgresStore(nil)

	runner, err := newRunner(runnerConfig(48*time.Hour, 72*time.Hour, 144*time.Hour), s, mail, nil, zap.NewNop(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, runner.Policy().Earliest())

	_, err = newRunner(runnerConfig(96*time.Hour, 72*time.Hour, 144*time.Hour), s, mail, nil, zap.NewNop(), nil, nil)
	assert.ErrorIs(t, err, escalation.ErrInvalidPolicy)
}
