// Package router decides whether a capability selection may proceed.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/fsm"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/session"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonPremium           Reason = "premium"
	ReasonFreeAvailable     Reason = "free_available"
	ReasonUpgradeRequired   Reason = "upgrade_required"
	ReasonAllFreeConsumed   Reason = "all_free_consumed"
	ReasonUnknownCapability Reason = "unknown_capability"
	ReasonUnavailable       Reason = "unavailable"
)

type Decision struct {
	Granted bool
	Reason  Reason
}

// Entitlements is the part of the quota ledger the router consults.
type Entitlements interface {
	IsAllowed(ctx context.Context, user domain.UserID, c domain.Capability) (bool, error)
	IsPremium(ctx context.Context, user domain.UserID) (bool, error)
	AllFreeConsumed(ctx context.Context, user domain.UserID) (bool, error)
	Grant(ctx context.Context, user domain.UserID, principal domain.Principal) error
	Revoke(ctx context.Context, user domain.UserID) error
}

type Options struct {
	Entitlements Entitlements
	// Available reports whether a capability's backing services are
	// configured. Nil means everything is available.
	Available func(domain.Capability) bool
	Now       func() time.Time
	Logger    *infra.Logger
}

type Router struct {
	ent       Entitlements
	available func(domain.Capability) bool
	now       func() time.Time
	logger    *infra.Logger
}

func New(opts Options) *Router {
	available := opts.Available
	if available == nil {
		available = func(domain.Capability) bool { return true }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{ent: opts.Entitlements, available: available, now: now, logger: infra.OrDiscard(opts.Logger)}
}

// Reconcile reports whether sess holds an unexpired premium login and brings
// the ledger's grant in line with it. A grant the session does not back, such
// as one left over from a session that no longer exists, is revoked.
func Reconcile(ctx context.Context, ent Entitlements, user domain.UserID, sess *session.Session, now time.Time) (bool, error) {
	if sess.Principal != nil && now.After(sess.Principal.ExpiresAt) {
		sess.Principal = nil
	}
	active := sess.Principal != nil
	if !active {
		sess.PremiumContext = false
	}
	granted, err := ent.IsPremium(ctx, user)
	if err != nil {
		return false, fmt.Errorf("check premium: %w", err)
	}
	switch {
	case granted && !active:
		if err := ent.Revoke(ctx, user); err != nil {
			return false, fmt.Errorf("revoke premium: %w", err)
		}
	case active && !granted:
		if err := ent.Grant(ctx, user, *sess.Principal); err != nil {
			return false, fmt.Errorf("grant premium: %w", err)
		}
	}
	return active, nil
}

// Select checks entitlement for c and, when granted, moves sess into the
// awaiting state for c. Quota is never consumed here.
func (r *Router) Select(ctx context.Context, user domain.UserID, c domain.Capability, sess *session.Session) (Decision, error) {
	if _, ok := domain.LookupCapability(string(c)); !ok {
		return Decision{Reason: ReasonUnknownCapability}, nil
	}
	if !r.available(c) {
		return Decision{Reason: ReasonUnavailable}, nil
	}

	premium, err := Reconcile(ctx, r.ent, user, sess, r.now())
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{Granted: true, Reason: ReasonPremium}
	if !premium {
		allowed, err := r.ent.IsAllowed(ctx, user, c)
		if err != nil {
			return Decision{}, fmt.Errorf("check allowance: %w", err)
		}
		decision = Decision{Granted: allowed, Reason: ReasonFreeAvailable}
		if !allowed {
			decision.Reason = ReasonUpgradeRequired
			done, err := r.ent.AllFreeConsumed(ctx, user)
			if err != nil {
				return Decision{}, fmt.Errorf("check free usage: %w", err)
			}
			if done {
				decision.Reason = ReasonAllFreeConsumed
			}
		}
	}

	r.logger.Debug().
		Str("user_id", string(user)).
		Str("capability", string(c)).
		Bool("granted", decision.Granted).
		Str("reason", string(decision.Reason)).
		Msg("router: selection")

	if !decision.Granted {
		return decision, nil
	}

	next, err := fsm.Transition(sess.State, fsm.EventCapabilityGranted)
	if err != nil {
		return Decision{}, err
	}
	sess.State = next
	sess.AwaitingCapability = c
	sess.PremiumContext = premium
	sess.LastArtifact = nil
	return decision, nil
}
