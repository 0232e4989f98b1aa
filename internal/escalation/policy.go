package escalation

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"backoffice/api/internal/store"
)

type TierName string

const (
	TierReminder   TierName = "reminder_48h"
	TierManagement TierName = "escalation_3d"
	TierFounders   TierName = "escalation_6d"
)

// Audience names who receives a tier's email.
type Audience string

const (
	AudienceComplaintsTeam Audience = "complaints_team"
	AudienceManagement     Audience = "management"
	AudienceFounders       Audience = "founders"
)

// Default thresholds.
const (
	DefaultReminderAfter   = 48 * time.Hour
	DefaultManagementAfter = 72 * time.Hour  // 3 days
	DefaultFounderAfter    = 144 * time.Hour // 6 days
)

// Tier is one step of the cascade. Tiers are ordered by After.
type Tier struct {
	Name     TierName
	After    time.Duration
	Stamp    string
	Level    int
	Audience Audience
	// Statuses a complaint must be in for the tier to apply.
	Statuses []string
	// Extra recipients on top of the audience list.
	Recipients []string
}

type Policy struct {
	Tiers []Tier
}

// DefaultPolicy builds the standard three-tier cascade from thresholds.
func DefaultPolicy(reminder, management, founders time.Duration) Policy {
	open := []string{"sent", "in_progress"}
	return Policy{Tiers: []Tier{
		{
			Name:     TierReminder,
			After:    reminder,
			Stamp:    store.StampReminder,
			Level:    0,
			Audience: AudienceComplaintsTeam,
			Statuses: []string{"sent"},
		},
		{
			Name:     TierManagement,
			After:    management,
			Stamp:    store.StampEscalate3d,
			Level:    1,
			Audience: AudienceManagement,
			Statuses: open,
		},
		{
			Name:     TierFounders,
			After:    founders,
			Stamp:    store.StampEscalate6d,
			Level:    2,
			Audience: AudienceFounders,
			Statuses: open,
		},
	}}
}

type policyFile struct {
	Tiers map[string]struct {
		After      time.Duration `yaml:"after"`
		Recipients []string      `yaml:"recipients"`
	} `yaml:"tiers"`
}

// LoadPolicy overlays a YAML policy file on base. Only thresholds and extra
// recipients can be changed; tier names must be known.
//
//	tiers:
//	  reminder_48h:
//	    after: 36h
//	  escalation_6d:
//	    recipients: [board@example.com]
func LoadPolicy(path string, base Policy) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return base, base.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read escalation policy: %w", err)
	}
	return ParsePolicy(raw, base)
}

func ParsePolicy(raw []byte, base Policy) (Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Policy{}, fmt.Errorf("parse escalation policy: %w", err)
	}

	out := Policy{Tiers: make([]Tier, len(base.Tiers))}
	copy(out.Tiers, base.Tiers)
	for name, override := range file.Tiers {
		index := -1
		for i, tier := range out.Tiers {
			if string(tier.Name) == name {
				index = i
				break
			}
		}
		if index < 0 {
			return Policy{}, fmt.Errorf("parse escalation policy: unknown tier %q", name)
		}
		if override.After > 0 {
			out.Tiers[index].After = override.After
		}
		if len(override.Recipients) > 0 {
			out.Tiers[index].Recipients = append([]string(nil), override.Recipients...)
		}
	}
	if err := out.Validate(); err != nil {
		return Policy{}, err
	}
	return out, nil
}

var ErrInvalidPolicy = errors.New("invalid escalation policy")

// Validate requires strictly increasing thresholds and levels so a later
// tier always supersedes the ones before it.
func (p Policy) Validate() error {
	if len(p.Tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidPolicy)
	}
	for i, tier := range p.Tiers {
		if tier.After <= 0 {
			return fmt.Errorf("%w: %s threshold must be positive", ErrInvalidPolicy, tier.Name)
		}
		if tier.Stamp == "" || len(tier.Statuses) == 0 {
			return fmt.Errorf("%w: %s is incomplete", ErrInvalidPolicy, tier.Name)
		}
		if i > 0 {
			prev := p.Tiers[i-1]
			if tier.After <= prev.After {
				return fmt.Errorf("%w: %s must come after %s", ErrInvalidPolicy, tier.Name, prev.Name)
			}
			if tier.Level < prev.Level {
				return fmt.Errorf("%w: %s lowers the escalation level", ErrInvalidPolicy, tier.Name)
			}
		}
	}
	return nil
}

// Earliest is the smallest threshold; younger complaints need no look.
func (p Policy) Earliest() time.Duration {
	if len(p.Tiers) == 0 {
		return 0
	}
	return p.Tiers[0].After
}

func (p Policy) Tier(name TierName) (Tier, bool) {
	for _, tier := range p.Tiers {
		if tier.Name == name {
			return tier, true
		}
	}
	return Tier{}, false
}
