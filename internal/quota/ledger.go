// Package quota tracks one-time free usage per capability and premium grants.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/kv"
)

// Grant binds a user to a premium principal until ExpiresAt.
type Grant struct {
	Principal string    `json:"principal"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Record is the per-user entitlement state. Capabilities is the set the
// record was created with; it never grows afterwards.
type Record struct {
	Capabilities []domain.Capability        `json:"capabilities"`
	Used         map[domain.Capability]bool `json:"used"`
	Premium      *Grant                     `json:"premium,omitempty"`
}

func (r Record) clone() Record {
	out := Record{
		Capabilities: append([]domain.Capability(nil), r.Capabilities...),
		Used:         make(map[domain.Capability]bool, len(r.Used)),
	}
	for k, v := range r.Used {
		out.Used[k] = v
	}
	if r.Premium != nil {
		g := *r.Premium
		out.Premium = &g
	}
	return out
}

// Options configures a Ledger.
type Options struct {
	Store        kv.Store[Record]
	Capabilities []domain.Capability
	Now          func() time.Time
	Logger       *infra.Logger
}

// Ledger is the Quota Ledger. All mutations are serialised per user.
type Ledger struct {
	store  kv.Store[Record]
	locks  *kv.KeyedMutex
	caps   []domain.Capability
	now    func() time.Time
	logger *infra.Logger
}

func NewLedger(opts Options) *Ledger {
	store := opts.Store
	if store == nil {
		store = kv.NewMemory[Record]()
	}
	caps := opts.Capabilities
	if len(caps) == 0 {
		caps = domain.CapabilityNames()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		store:  store,
		locks:  kv.NewKeyedMutex(),
		caps:   append([]domain.Capability(nil), caps...),
		now:    now,
		logger: infra.OrDiscard(opts.Logger),
	}
}

// load returns the user's record, initialising the full capability set
// together on first sight. Callers must hold the user lock.
func (l *Ledger) load(ctx context.Context, user domain.UserID) (Record, error) {
	rec, ok, err := l.store.Get(ctx, string(user))
	if err != nil {
		return Record{}, fmt.Errorf("load quota record: %w", err)
	}
	if ok {
		return rec.clone(), nil
	}
	rec = Record{
		Capabilities: append([]domain.Capability(nil), l.caps...),
		Used:         make(map[domain.Capability]bool, len(l.caps)),
	}
	for _, c := range l.caps {
		rec.Used[c] = false
	}
	if err := l.store.Set(ctx, string(user), rec); err != nil {
		return Record{}, fmt.Errorf("init quota record: %w", err)
	}
	return rec.clone(), nil
}

func (l *Ledger) known(c domain.Capability) bool {
	for _, k := range l.caps {
		if k == c {
			return true
		}
	}
	return false
}

func (l *Ledger) premiumActive(rec Record) bool {
	return rec.Premium != nil && !l.now().After(rec.Premium.ExpiresAt)
}

// IsAllowed reports whether user may run capability right now.
func (l *Ledger) IsAllowed(ctx context.Context, user domain.UserID, c domain.Capability) (bool, error) {
	if !l.known(c) {
		return false, fmt.Errorf("%w: %s", domain.ErrUnknownCapability, c)
	}
	unlock := l.locks.Lock(string(user))
	defer unlock()
	rec, err := l.load(ctx, user)
	if err != nil {
		return false, err
	}
	if l.premiumActive(rec) {
		return true, nil
	}
	return !rec.Used[c], nil
}

// Consume marks the free use of capability as spent. It must only be called
// after the capability's action fully succeeded. Repeated calls and calls for
// premium users leave the record unchanged.
func (l *Ledger) Consume(ctx context.Context, user domain.UserID, c domain.Capability) error {
	if !l.known(c) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownCapability, c)
	}
	unlock := l.locks.Lock(string(user))
	defer unlock()
	rec, err := l.load(ctx, user)
	if err != nil {
		return err
	}
	if l.premiumActive(rec) || rec.Used[c] {
		return nil
	}
	rec.Used[c] = true
	if err := l.store.Set(ctx, string(user), rec); err != nil {
		return fmt.Errorf("save quota record: %w", err)
	}
	l.logger.Info().
		Str("user_id", string(user)).
		Str("capability", string(c)).
		Msg("quota: free use consumed")
	return nil
}

// IsPremium evaluates expiry on every call.
func (l *Ledger) IsPremium(ctx context.Context, user domain.UserID) (bool, error) {
	unlock := l.locks.Lock(string(user))
	defer unlock()
	rec, err := l.load(ctx, user)
	if err != nil {
		return false, err
	}
	return l.premiumActive(rec), nil
}

// AllFreeConsumed reports whether every capability in the record's own set
// has been used. Capabilities added after the record was created are ignored.
func (l *Ledger) AllFreeConsumed(ctx context.Context, user domain.UserID) (bool, error) {
	unlock := l.locks.Lock(string(user))
	defer unlock()
	rec, err := l.load(ctx, user)
	if err != nil {
		return false, err
	}
	for _, c := range rec.Capabilities {
		if !rec.Used[c] {
			return false, nil
		}
	}
	return true, nil
}

// Usage returns a copy of the user's record for rendering menus.
func (l *Ledger) Usage(ctx context.Context, user domain.UserID) (Record, error) {
	unlock := l.locks.Lock(string(user))
	defer unlock()
	rec, err := l.load(ctx, user)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Grant binds the user to principal for the session.
func (l *Ledger) Grant(ctx context.Context, user domain.UserID, principal domain.Principal) error {
	unlock := l.locks.Lock(string(user))
	defer unlock()
	rec, err := l.load(ctx, user)
	if err != nil {
		return err
	}
	rec.Premium = &Grant{Principal: principal.Handle, ExpiresAt: principal.ExpiresAt}
	if err := l.store.Set(ctx, string(user), rec); err != nil {
		return fmt.Errorf("save quota record: %w", err)
	}
	return nil
}

// Revoke drops any premium grant, used on logout.
func (l *Ledger) Revoke(ctx context.Context, user domain.UserID) error {
	unlock := l.locks.Lock(string(user))
	defer unlock()
	rec, err := l.load(ctx, user)
	if err != nil {
		return err
	}
	if rec.Premium == nil {
		return nil
	}
	rec.Premium = nil
	if err := l.store.Set(ctx, string(user), rec); err != nil {
		return fmt.Errorf("save quota record: %w", err)
	}
	return nil
}
