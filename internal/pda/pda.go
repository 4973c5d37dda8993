// Package pda derives deterministic program addresses for ledger entities.
//
// An address is a function of a namespace tag and an ordered seed list, plus a
// bump byte searched downward from 255. The bump makes the address provably
// program-derived: candidates whose digest has the high bit set are rejected,
// so a valid (address, bump) pair cannot be chosen freely by a user.
package pda

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

const programTag = "taskfi_escrow_v1"

const (
	NamespaceTeam  = "team"
	NamespaceVault = "vault"
	NamespaceTask  = "task"
)

var (
	ErrNoValidBump    = errors.New("no valid bump in search range")
	ErrInvalidAddress = errors.New("invalid address encoding")
)

// Address is a 32-byte derived or wallet address, hex-encoded at boundaries.
type Address [32]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a 64-character hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(a) {
		return Address{}, ErrInvalidAddress
	}
	copy(a[:], raw)
	return a, nil
}

// Derive searches bumps from 255 down to 0 and returns the first candidate
// address whose digest has the high bit of the first byte clear. Exhausting
// the range is a configuration-level failure and must not be retried.
func Derive(namespace string, seeds ...[]byte) (Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		candidate := digest(namespace, seeds, uint8(bump))
		if candidate[0]&0x80 == 0 {
			return candidate, uint8(bump), nil
		}
	}
	return Address{}, 0, ErrNoValidBump
}

// Verify recomputes the digest for a claimed (address, bump) pair.
func Verify(addr Address, bump uint8, namespace string, seeds ...[]byte) bool {
	candidate := digest(namespace, seeds, bump)
	return candidate[0]&0x80 == 0 && candidate == addr
}

// Uint64Seed encodes an identifier as a little-endian seed component.
func Uint64Seed(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// TeamAddress derives the team account address for (authority, team_id).
func TeamAddress(authority Address, teamID uint64) (Address, uint8, error) {
	return Derive(NamespaceTeam, authority[:], Uint64Seed(teamID))
}

// VaultAddress derives the vault account address owned by a team.
func VaultAddress(team Address) (Address, uint8, error) {
	return Derive(NamespaceVault, team[:])
}

// TaskAddress derives the task account address for (team, task_id).
func TaskAddress(team Address, taskID uint64) (Address, uint8, error) {
	return Derive(NamespaceTask, team[:], Uint64Seed(taskID))
}

// digest hashes the program tag, namespace, length-prefixed seeds and the bump.
// Length prefixes keep seed boundaries unambiguous.
func digest(namespace string, seeds [][]byte, bump uint8) Address {
	h := sha256.New()
	h.Write([]byte(programTag))
	h.Write([]byte{0})
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	for _, seed := range seeds {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(seed)))
		h.Write(l[:])
		h.Write(seed)
	}
	h.Write([]byte{bump})

	var a Address
	copy(a[:], h.Sum(nil))
	return a
}
