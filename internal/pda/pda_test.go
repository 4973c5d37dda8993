package pda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthority() Address {
	var a Address
	for i := range a {
		a[i] = byte(i + 1)
	}
	return a
}

func TestDerive_Deterministic(t *testing.T) {
	authority := testAuthority()

	addr1, bump1, err := Derive(NamespaceTeam, authority[:], Uint64Seed(42))
	require.NoError(t, err)

	addr2, bump2, err := Derive(NamespaceTeam, authority[:], Uint64Seed(42))
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
	assert.Equal(t, bump1, bump2)
	assert.False(t, addr1.IsZero())
}

func TestDerive_DistinctSeedsDistinctAddresses(t *testing.T) {
	authority := testAuthority()

	team1, _, err := Derive(NamespaceTeam, authority[:], Uint64Seed(1))
	require.NoError(t, err)

	team2, _, err := Derive(NamespaceTeam, authority[:], Uint64Seed(2))
	require.NoError(t, err)

	assert.NotEqual(t, team1, team2)
}

func TestDerive_DistinctNamespacesDistinctAddresses(t *testing.T) {
	authority := testAuthority()

	team, _, err := Derive(NamespaceTeam, authority[:])
	require.NoError(t, err)

	vault, _, err := Derive(NamespaceVault, authority[:])
	require.NoError(t, err)

	assert.NotEqual(t, team, vault)
}

func TestDerive_AddressIsProgramDerived(t *testing.T) {
	authority := testAuthority()

	addr, _, err := Derive(NamespaceTask, authority[:], Uint64Seed(7))
	require.NoError(t, err)

	// Accepted candidates always have the high bit of the first byte clear.
	assert.Zero(t, addr[0]&0x80)
}

func TestVerify(t *testing.T) {
	authority := testAuthority()

	addr, bump, err := Derive(NamespaceTeam, authority[:], Uint64Seed(42))
	require.NoError(t, err)

	assert.True(t, Verify(addr, bump, NamespaceTeam, authority[:], Uint64Seed(42)))
	assert.False(t, Verify(addr, bump, NamespaceTeam, authority[:], Uint64Seed(43)))
	assert.False(t, Verify(addr, bump+1, NamespaceTeam, authority[:], Uint64Seed(42)))
	assert.False(t, Verify(addr, bump, NamespaceVault, authority[:], Uint64Seed(42)))
}

func TestHelperLayouts(t *testing.T) {
	authority := testAuthority()

	team, teamBump, err := TeamAddress(authority, 42)
	require.NoError(t, err)
	assert.True(t, Verify(team, teamBump, NamespaceTeam, authority[:], Uint64Seed(42)))

	vault, vaultBump, err := VaultAddress(team)
	require.NoError(t, err)
	assert.True(t, Verify(vault, vaultBump, NamespaceVault, team[:]))

	task, taskBump, err := TaskAddress(team, 7)
	require.NoError(t, err)
	assert.True(t, Verify(task, taskBump, NamespaceTask, team[:], Uint64Seed(7)))

	assert.NotEqual(t, team, vault)
	assert.NotEqual(t, team, task)
	assert.NotEqual(t, vault, task)
}

func TestParseAddress(t *testing.T) {
	authority := testAuthority()

	addr, _, err := Derive(NamespaceTeam, authority[:])
	require.NoError(t, err)

	parsed, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)

	_, err = ParseAddress("not-hex")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddress("abcd")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
