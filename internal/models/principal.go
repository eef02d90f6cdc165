package models

import (
	"time"

	"github.com/google/uuid"
)

// Principal statuses
const (
	PrincipalStatusActive    = "active"
	PrincipalStatusSuspended = "suspended"
	PrincipalStatusDisabled  = "disabled"
)

// Principal is the verified identity handed to this subsystem by upstream
// login. Its onboarding_completed flag is the single source of truth for
// onboarding state; sessions carry a derived snapshot only.
type Principal struct {
	ID                  uuid.UUID  `db:"id"`
	Email               string     `db:"email"`
	Name                string     `db:"name"`
	TenantID            *uuid.UUID `db:"tenant_id"`
	Status              string     `db:"status"`
	OnboardingCompleted bool       `db:"onboarding_completed"`
	OnboardingStep      int        `db:"onboarding_step"`
	Plan                string     `db:"plan"`
	PlanStatus          string     `db:"plan_status"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// CanAuthenticate reports whether sessions may be created for this principal.
func (p *Principal) CanAuthenticate() bool {
	return p.Status == PrincipalStatusActive
}

// OnboardingSnapshot derives the session-facing onboarding state.
func (p *Principal) OnboardingSnapshot() Onboarding {
	return Onboarding{
		NeedsOnboarding:     !p.OnboardingCompleted,
		OnboardingCompleted: p.OnboardingCompleted,
		OnboardingStep:      p.OnboardingStep,
	}
}

// SubscriptionSnapshot derives the session-facing subscription state.
func (p *Principal) SubscriptionSnapshot() Subscription {
	return Subscription{
		Plan:   p.Plan,
		Status: p.PlanStatus,
	}
}
