// circuit.go - Groth16 spend circuit.
//
// Proves, without revealing the secret or amount, that the prover knows the
// opening of a public commitment and that the public nullifier is the one
// derived from that opening. The hash layout mirrors the native derivations
// in internal/notes exactly: one field element per input.

package prover

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// SpendCircuit is the statement proven for every consumed note.
type SpendCircuit struct {
	// Public inputs
	Commitment frontend.Variable `gnark:",public"`
	Nullifier  frontend.Variable `gnark:",public"`
	Domain     frontend.Variable `gnark:",public"`

	// Private inputs
	Amount frontend.Variable
	Secret frontend.Variable
}

func (c *SpendCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// cm = MiMC(amount || secret || domain)
	hasher.Write(c.Amount)
	hasher.Write(c.Secret)
	hasher.Write(c.Domain)
	cm := hasher.Sum()
	api.AssertIsEqual(c.Commitment, cm)

	// sn = MiMC(secret || cm)
	hasher.Reset()
	hasher.Write(c.Secret)
	hasher.Write(cm)
	api.AssertIsEqual(c.Nullifier, hasher.Sum())

	return nil
}
