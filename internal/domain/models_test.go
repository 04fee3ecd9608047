package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEscrowCanTransition(t *testing.T) {
	e := &Escrow{Status: EscrowPending}
	assert.True(t, e.CanTransition(EscrowReleased))
	assert.True(t, e.CanTransition(EscrowExpired))
	assert.False(t, e.CanTransition(EscrowPending))

	for _, terminal := range []EscrowStatus{EscrowReleased, EscrowExpired} {
		e := &Escrow{Status: terminal}
		assert.False(t, e.CanTransition(EscrowReleased), terminal)
		assert.False(t, e.CanTransition(EscrowExpired), terminal)
	}
}

func TestEscrowIsRecipient(t *testing.T) {
	rid := "user-r"
	addr := "GRECIPIENT"
	other := "GOTHER"

	e := &Escrow{RecipientID: &rid, RecipientAddress: addr}
	assert.True(t, e.IsRecipient("user-r", nil))
	assert.False(t, e.IsRecipient("user-x", &other))
	assert.True(t, e.IsRecipient("user-x", &addr), "address fallback")

	unresolved := &Escrow{RecipientAddress: addr}
	assert.False(t, unresolved.IsRecipient("user-r", nil))
	assert.True(t, unresolved.IsRecipient("user-r", &addr))
}

func TestPoolLocked(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	unlock := now.Add(time.Hour)

	p := &SavingsPool{}
	assert.False(t, p.Locked(now))

	p.UnlockAt = &unlock
	assert.True(t, p.Locked(now))
	assert.False(t, p.Locked(unlock))
}
