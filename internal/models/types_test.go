package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stellarremit/internal/domain"
)

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("2.5")
	require.NoError(t, err)
	assert.Equal(t, int64(25_000_000), v)

	v, err = ParseAmount(" 0.0000001 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	for _, bad := range []string{"", "0", "-1", "abc", "1.00000001"} {
		_, err := ParseAmount(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, bad)
	}

	v, err = ParseOptionalAmount("")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestFromEscrowNeverNullHashes(t *testing.T) {
	r := FromEscrow(domain.Escrow{Amount: 20_000_000, Status: domain.EscrowPending})
	assert.Equal(t, "2.0000000", r.Amount)
	assert.NotNil(t, r.TxHashes)
	assert.Equal(t, "pending", r.Status)
}
