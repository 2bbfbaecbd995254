package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/kv"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLedger(clock *fakeClock, caps ...domain.Capability) (*Ledger, *kv.Memory[Record]) {
	store := kv.NewMemory[Record]()
	return NewLedger(Options{Store: store, Capabilities: caps, Now: clock.now}), store
}

func TestFreeUseIsConsumedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	ledger, _ := newTestLedger(clock)

	ok, err := ledger.IsAllowed(ctx, "u1", domain.CapabilityText)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ledger.Consume(ctx, "u1", domain.CapabilityText))
	require.NoError(t, ledger.Consume(ctx, "u1", domain.CapabilityText))

	ok, err = ledger.IsAllowed(ctx, "u1", domain.CapabilityText)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = ledger.IsAllowed(ctx, "u1", domain.CapabilityAudioTranslate)
	require.NoError(t, err)
	require.True(t, ok, "other capabilities stay available")

	ok, err = ledger.IsAllowed(ctx, "u2", domain.CapabilityText)
	require.NoError(t, err)
	require.True(t, ok, "users are independent")
}

func TestFirstSightInitialisesFullCapabilitySet(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger(&fakeClock{t: time.Now()})

	_, err := ledger.IsPremium(ctx, "u1")
	require.NoError(t, err)

	rec, ok, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.CapabilityNames(), rec.Capabilities)
	require.Len(t, rec.Used, len(domain.CapabilityNames()))
}

func TestPremiumAllowsRegardlessOfFreeFlags(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	ledger, store := newTestLedger(clock)

	require.NoError(t, ledger.Consume(ctx, "u1", domain.CapabilityImage))
	require.NoError(t, ledger.Grant(ctx, "u1", domain.Principal{Handle: "ana", ExpiresAt: clock.t.Add(24 * time.Hour)}))

	ok, err := ledger.IsAllowed(ctx, "u1", domain.CapabilityImage)
	require.NoError(t, err)
	require.True(t, ok)

	before, _, _ := store.Get(ctx, "u1")
	require.NoError(t, ledger.Consume(ctx, "u1", domain.CapabilityText))
	after, _, _ := store.Get(ctx, "u1")
	require.Equal(t, before, after, "premium consumption must not mutate the record")

	clock.t = clock.t.Add(25 * time.Hour)
	premium, err := ledger.IsPremium(ctx, "u1")
	require.NoError(t, err)
	require.False(t, premium, "expiry is evaluated on every call")
	ok, err = ledger.IsAllowed(ctx, "u1", domain.CapabilityImage)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokeDropsGrant(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	ledger, _ := newTestLedger(clock)

	require.NoError(t, ledger.Grant(ctx, "u1", domain.Principal{Handle: "ana", ExpiresAt: clock.t.Add(time.Hour)}))
	require.NoError(t, ledger.Revoke(ctx, "u1"))
	premium, err := ledger.IsPremium(ctx, "u1")
	require.NoError(t, err)
	require.False(t, premium)
}

func TestAllFreeConsumedIgnoresCapabilitiesAddedLater(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	store := kv.NewMemory[Record]()
	old := NewLedger(Options{Store: store, Capabilities: []domain.Capability{domain.CapabilityText, domain.CapabilityAudioTranslate}, Now: clock.now})

	require.NoError(t, old.Consume(ctx, "u1", domain.CapabilityText))
	done, err := old.AllFreeConsumed(ctx, "u1")
	require.NoError(t, err)
	require.False(t, done)
	require.NoError(t, old.Consume(ctx, "u1", domain.CapabilityAudioTranslate))
	done, err = old.AllFreeConsumed(ctx, "u1")
	require.NoError(t, err)
	require.True(t, done)

	grown := NewLedger(Options{Store: store, Now: clock.now})
	done, err = grown.AllFreeConsumed(ctx, "u1")
	require.NoError(t, err)
	require.True(t, done)

	ok, err := grown.IsAllowed(ctx, "u1", domain.CapabilityImage)
	require.NoError(t, err)
	require.True(t, ok, "a capability missing from an old record counts as unused")
}

func TestUnknownCapability(t *testing.T) {
	ledger, _ := newTestLedger(&fakeClock{t: time.Now()}, domain.CapabilityText)
	_, err := ledger.IsAllowed(context.Background(), "u1", domain.CapabilityImage)
	require.True(t, errors.Is(err, domain.ErrUnknownCapability))
	require.True(t, errors.Is(ledger.Consume(context.Background(), "u1", "bogus"), domain.ErrUnknownCapability))
}

func TestUsageReturnsCopy(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(&fakeClock{t: time.Now()})
	rec, err := ledger.Usage(ctx, "u1")
	require.NoError(t, err)
	rec.Used[domain.CapabilityText] = true

	ok, err := ledger.IsAllowed(ctx, "u1", domain.CapabilityText)
	require.NoError(t, err)
	require.True(t, ok)
}
