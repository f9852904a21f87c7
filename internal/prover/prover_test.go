package prover

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"shieldwallet/internal/notes"
)

var testDomain = []byte("testpool-v1")

// Circuit compilation and the Groth16 setup are expensive; every test shares
// one engine and one key directory.
var (
	engineOnce sync.Once
	engine     *Groth16Engine
	engineErr  error
	keyDir     string
)

func testEngine(t *testing.T) *Groth16Engine {
	t.Helper()
	engineOnce.Do(func() {
		keyDir, engineErr = os.MkdirTemp("", "spendkeys")
		if engineErr != nil {
			return
		}
		engine, engineErr = NewGroth16Engine(testDomain, keyDir)
	})
	require.NoError(t, engineErr)
	return engine
}

func TestProveAndVerifySpend(t *testing.T) {
	e := testEngine(t)
	n := notes.NewNote(100, testDomain)

	proof, err := e.ProveSpend(n)
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	require.NoError(t, e.VerifySpend(proof, n.Commitment, n.Nullifier))
}

func TestVerifyRejectsWrongPublicInputs(t *testing.T) {
	e := testEngine(t)
	n := notes.NewNote(100, testDomain)
	other := notes.NewNote(100, testDomain)

	proof, err := e.ProveSpend(n)
	require.NoError(t, err)

	require.Error(t, e.VerifySpend(proof, other.Commitment, other.Nullifier),
		"proof is bound to its own note")
	require.Error(t, e.VerifySpend(proof, n.Commitment, other.Nullifier),
		"nullifier is part of the statement")
}

func TestVerifyRejectsWrongDomain(t *testing.T) {
	e := testEngine(t)

	// A note minted for another pool carries a commitment this pool's
	// circuit cannot have produced.
	foreign := notes.NewNote(100, []byte("otherpool"))
	_, err := e.ProveSpend(foreign)
	require.Error(t, err, "witness for a foreign-domain note does not satisfy the circuit")
}

func TestVerifyRejectsGarbageProof(t *testing.T) {
	e := testEngine(t)
	n := notes.NewNote(100, testDomain)
	require.Error(t, e.VerifySpend([]byte("not a proof"), n.Commitment, n.Nullifier))
}

func TestKeysCachedOnDisk(t *testing.T) {
	e := testEngine(t)

	for _, name := range []string{provingKeyFile, verifyingKeyFile} {
		info, err := os.Stat(filepath.Join(keyDir, name))
		require.NoError(t, err)
		require.NotZero(t, info.Size())
	}

	// A second engine loads the same keys; its verifying key accepts proofs
	// from the first.
	reloaded, err := NewGroth16Engine(testDomain, keyDir)
	require.NoError(t, err)

	n := notes.NewNote(42, testDomain)
	proof, err := e.ProveSpend(n)
	require.NoError(t, err)
	require.NoError(t, reloaded.VerifySpend(proof, n.Commitment, n.Nullifier))
}
