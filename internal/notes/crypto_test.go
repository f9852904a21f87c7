package notes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testDomain = []byte("testpool-v1")

func TestGenerateSecretUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		s := GenerateSecret()
		require.Len(t, s, SecretLen)
		require.False(t, seen[s.String()], "secrets must never repeat")
		seen[s.String()] = true
	}
}

func TestDeriveCommitmentDeterministic(t *testing.T) {
	secret := GenerateSecret()
	cm1 := DeriveCommitment(100, secret, testDomain)
	cm2 := DeriveCommitment(100, secret, testDomain)
	require.Equal(t, cm1, cm2, "same inputs must yield the same commitment")
	require.NotEmpty(t, cm1)

	// Any input change must change the digest.
	require.NotEqual(t, cm1, DeriveCommitment(101, secret, testDomain))
	require.NotEqual(t, cm1, DeriveCommitment(100, GenerateSecret(), testDomain))
	require.NotEqual(t, cm1, DeriveCommitment(100, secret, []byte("otherpool")))
}

func TestDeriveNullifierDeterministic(t *testing.T) {
	secret := GenerateSecret()
	cm := DeriveCommitment(42, secret, testDomain)
	sn1 := DeriveNullifier(secret, cm)
	sn2 := DeriveNullifier(secret, cm)
	require.Equal(t, sn1, sn2)
	require.NotEqual(t, string(cm), string(sn1), "nullifier must differ from commitment")

	other := GenerateSecret()
	require.NotEqual(t, sn1, DeriveNullifier(other, cm), "nullifier depends on the secret")
}

func TestDeriveZeroAmount(t *testing.T) {
	secret := GenerateSecret()
	cm := DeriveCommitment(0, secret, testDomain)
	require.NotEmpty(t, cm)
	require.NotEqual(t, cm, DeriveCommitment(1, secret, testDomain))
}

func TestInvalidInputsPanic(t *testing.T) {
	secret := GenerateSecret()
	cm := DeriveCommitment(1, secret, testDomain)

	require.Panics(t, func() { DeriveCommitment(1, secret[:16], testDomain) })
	require.Panics(t, func() { DeriveCommitment(1, secret, nil) })
	require.Panics(t, func() { DeriveNullifier(secret[:16], cm) })
	require.Panics(t, func() { DeriveNullifier(secret, nil) })
}

func TestNewNote(t *testing.T) {
	n := NewNote(250, testDomain)
	require.NotEmpty(t, n.ID)
	require.Equal(t, Amount(250), n.Amount)
	require.Equal(t, StateUnspent, n.State)
	require.Equal(t, DeriveCommitment(250, n.Secret, testDomain), n.Commitment)
	require.Equal(t, DeriveNullifier(n.Secret, n.Commitment), n.Nullifier)
	require.False(t, n.CreatedAt.IsZero())
	require.Nil(t, n.SpentAt)
}

func TestCloneIsDeep(t *testing.T) {
	n := NewNote(10, testDomain)
	c := n.Clone()
	c.Secret[0] ^= 0xff
	c.State = StateSpent
	require.NotEqual(t, n.Secret[0], c.Secret[0])
	require.Equal(t, StateUnspent, n.State)
}
