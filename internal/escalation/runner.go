package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"backoffice/api/internal/metrics"
	"backoffice/api/internal/store"
	"backoffice/api/internal/tracing"
)

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("escalation run already in progress")

const lockKey = "escalation:complaints"

type complaintStore interface {
	ListEscalationCandidates(ctx context.Context, page store.CandidatePage) ([]store.Complaint, error)
	ClaimEscalation(ctx context.Context, claim store.EscalationClaim) (bool, error)
	ReleaseEscalation(ctx context.Context, claim store.EscalationClaim, previousLevel int) error
}

// Notifier sends the email for one action.
type Notifier interface {
	NotifyEscalation(ctx context.Context, action Action) error
}

// Locker serialises runs across processes. Acquire returns ok=false when the
// lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// TierCount tallies outcomes for one tier.
type TierCount struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RunReport summarises one run.
type RunReport struct {
	RunAt    time.Time              `json:"runAt"`
	Trigger  string                 `json:"trigger"`
	Scanned  int                    `json:"scanned"`
	Planned  int                    `json:"planned"`
	Sent     int                    `json:"sent"`
	Skipped  int                    `json:"skipped"`
	Failed   int                    `json:"failed"`
	ByTier   map[TierName]TierCount `json:"byTier"`
	Duration time.Duration          `json:"-"`
	Actions  []ActionResult         `json:"actions"`
}

// ActionResult is the outcome of one planned action.
type ActionResult struct {
	ComplaintID string   `json:"complaintId"`
	Reference   string   `json:"reference"`
	Tier        TierName `json:"tier"`
	Outcome     string   `json:"outcome"`
	Superseded  []string `json:"superseded,omitempty"`
	Error       string   `json:"error,omitempty"`
}

const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

type RunnerConfig struct {
	Policy    Policy
	BatchSize int
	LockTTL   time.Duration
}

type Runner struct {
	store    complaintStore
	notifier Notifier
	locker   Locker
	policy   Policy
	batch    int
	lockTTL  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   *tracing.Provider
	now      func() time.Time
}

// NewRunner wires a runner. locker, m and tracer may be nil.
func NewRunner(cfg RunnerConfig, s complaintStore, notifier Notifier, locker Locker, logger *zap.Logger, m *metrics.Metrics, tracer *tracing.Provider) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 200
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Runner{
		store:    s,
		notifier: notifier,
		locker:   locker,
		policy:   cfg.Policy,
		batch:    batch,
		lockTTL:  ttl,
		logger:   logger.Named("escalation"),
		metrics:  m,
		tracer:   tracer,
		now:      time.Now,
	}
}

func (r *Runner) Policy() Policy {
	return r.policy
}

// Preview plans without claiming or sending anything.
func (r *Runner) Preview(ctx context.Context) ([]Action, int, error) {
	now := r.clock()
	actions := make([]Action, 0)
	scanned, err := r.eachPage(ctx, now, func(page []store.Complaint) {
		actions = append(actions, Plan(now, r.policy, page)...)
	})
	if err != nil {
		return nil, scanned, err
	}
	return actions, scanned, nil
}

// eachPage walks every candidate old enough for the earliest tier, batch rows
// at a time. The (created_at, id) cursor keeps complaints that are not due
// yet from hiding newer ones that are.
func (r *Runner) eachPage(ctx context.Context, now time.Time, fn func([]store.Complaint)) (int, error) {
	page := store.CandidatePage{Cutoff: now.Add(-r.policy.Earliest()), Limit: r.batch}
	scanned := 0
	for {
		if err := ctx.Err(); err != nil {
			return scanned, err
		}
		complaints, err := r.store.ListEscalationCandidates(ctx, page)
		if err != nil {
			return scanned, err
		}
		if len(complaints) == 0 {
			return scanned, nil
		}
		scanned += len(complaints)
		fn(complaints)
		last := complaints[len(complaints)-1]
		page.AfterCreatedAt, page.AfterID = last.CreatedAt, last.ID
	}
}

// Run performs one pass of the cascade. trigger labels where it came from
// (cron, cli, ticker).
func (r *Runner) Run(ctx context.Context, trigger string) (RunReport, error) {
	started := time.Now()
	now := r.clock()
	report := RunReport{
		RunAt:   now,
		Trigger: trigger,
		ByTier:  make(map[TierName]TierCount),
		Actions: make([]ActionResult, 0),
	}

	ctx, span := r.tracer.StartSpan(ctx, "escalation.run", attribute.String("trigger", trigger))
	defer span.End()

	if r.locker != nil {
		release, ok, err := r.locker.Acquire(ctx, lockKey, r.lockTTL)
		if err != nil {
			tracing.SetError(ctx, err)
			r.metrics.EscalationRun(trigger, "error", time.Since(started))
			return report, fmt.Errorf("acquire escalation lock: %w", err)
		}
		if !ok {
			r.metrics.EscalationRun(trigger, "locked", time.Since(started))
			return report, ErrRunInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("release escalation lock", zap.Error(err))
			}
		}()
	}

	scanned, err := r.eachPage(ctx, now, func(page []store.Complaint) {
		actions := Plan(now, r.policy, page)
		report.Planned += len(actions)
		for _, action := range actions {
			if ctx.Err() != nil {
				return
			}
			r.record(&report, action, r.execute(ctx, now, action))
		}
	})
	report.Scanned = scanned
	if err != nil && ctx.Err() == nil {
		tracing.SetError(ctx, err)
		r.metrics.EscalationRun(trigger, "error", time.Since(started))
		return report, err
	}

	report.Duration = time.Since(started)
	span.SetAttributes(
		attribute.Int("escalation.scanned", report.Scanned),
		attribute.Int("escalation.sent", report.Sent),
		attribute.Int("escalation.failed", report.Failed),
	)
	result := "ok"
	if report.Failed > 0 {
		result = "partial"
	}
	r.metrics.EscalationRun(trigger, result, report.Duration)
	r.logger.Info("escalation run finished",
		zap.String("trigger", trigger),
		zap.Int("scanned", report.Scanned),
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, ctx.Err()
}

func (r *Runner) record(report *RunReport, action Action, result ActionResult) {
	report.Actions = append(report.Actions, result)
	count := report.ByTier[action.Tier.Name]
	switch result.Outcome {
	case OutcomeSent:
		report.Sent++
		count.Sent++
	case OutcomeSkipped:
		report.Skipped++
		count.Skipped++
	default:
		report.Failed++
		count.Failed++
	}
	report.ByTier[action.Tier.Name] = count
	r.metrics.EscalationAction(string(action.Tier.Name), result.Outcome)
}

// execute claims the tier, sends, and releases the claim if sending fails so
// the next run retries.
func (r *Runner) execute(ctx context.Context, now time.Time, action Action) ActionResult {
	result := ActionResult{
		ComplaintID: action.ComplaintID,
		Reference:   action.Reference,
		Tier:        action.Tier.Name,
		Superseded:  action.Supersede,
	}
	claim := store.EscalationClaim{
		ComplaintID: action.ComplaintID,
		Stamp:       action.Tier.Stamp,
		Level:       action.Tier.Level,
		Supersede:   action.Supersede,
		Statuses:    action.Tier.Statuses,
		At:          now,
	}
	logger := r.logger.With(
		zap.String("complaint", action.Reference),
		zap.String("tier", string(action.Tier.Name)),
	)

	won, err := r.store.ClaimEscalation(ctx, claim)
	if err != nil {
		logger.Error("claim escalation", zap.Error(err))
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}
	if !won {
		// Another run or a status change beat us to it.
		result.Outcome = OutcomeSkipped
		return result
	}

	if err := r.notifier.NotifyEscalation(ctx, action); err != nil {
		logger.Warn("escalation email failed, releasing claim", zap.Error(err))
		if releaseErr := r.store.ReleaseEscalation(context.WithoutCancel(ctx), claim, action.PreviousLevel); releaseErr != nil {
			logger.Error("release escalation claim", zap.Error(releaseErr))
		}
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result
	}

	logger.Info("escalation sent", zap.Duration("age", action.Age), zap.Strings("superseded", action.Supersede))
	result.Outcome = OutcomeSent
	return result
}

// clock returns now in UTC, truncated to what Postgres timestamps keep so a
// claim stamp can be matched exactly on release.
func (r *Runner) clock() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}
