// prover.go - The proof engine capability.
//
// The pipeline hands the engine note material and attaches the returned
// proof, as opaque bytes, to chain calls. Proof-generation failure is a
// normal failed outcome for a transaction, never a crash.

package prover

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"shieldwallet/internal/notes"
)

// Engine produces spend proofs for notes.
type Engine interface {
	// ProveSpend proves knowledge of the note's secret behind its public
	// commitment and correct derivation of its nullifier.
	ProveSpend(n *notes.Note) ([]byte, error)
}

// Groth16Engine implements Engine with the SpendCircuit over BW6-761.
type Groth16Engine struct {
	domain []byte
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	vk     groth16.VerifyingKey
}

// NewGroth16Engine compiles the spend circuit and loads or generates the
// Groth16 key pair under keyDir.
func NewGroth16Engine(domain []byte, keyDir string) (*Groth16Engine, error) {
	var circuit SpendCircuit
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("prover: circuit compilation failed: %w", err)
	}
	pk, vk, err := SetupOrLoadKeys(ccs, keyDir)
	if err != nil {
		return nil, fmt.Errorf("prover: key setup failed: %w", err)
	}
	return &Groth16Engine{domain: domain, ccs: ccs, pk: pk, vk: vk}, nil
}

// ProveSpend builds the witness from the note and generates a Groth16 proof.
func (e *Groth16Engine) ProveSpend(n *notes.Note) ([]byte, error) {
	assignment := &SpendCircuit{
		Commitment: notes.ToFieldElement(n.Commitment),
		Nullifier:  notes.ToFieldElement(n.Nullifier),
		Domain:     notes.ToFieldElement(e.domain),
		Amount:     n.Amount.BigInt(),
		Secret:     notes.ToFieldElement(n.Secret),
	}
	w, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("prover: witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(e.ccs, e.pk, w)
	if err != nil {
		return nil, fmt.Errorf("prover: proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("prover: proof serialization failed: %w", err)
	}
	return buf.Bytes(), nil
}

// VerifySpend checks an opaque proof against its public inputs. The chain
// side (or its simulation) uses this; the wallet itself trusts the engine.
func (e *Groth16Engine) VerifySpend(proofBytes []byte, cm notes.Commitment, sn notes.Nullifier) error {
	public := &SpendCircuit{
		Commitment: notes.ToFieldElement(cm),
		Nullifier:  notes.ToFieldElement(sn),
		Domain:     notes.ToFieldElement(e.domain),
	}
	w, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("prover: public witness failed: %w", err)
	}
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("prover: cannot unmarshal proof: %w", err)
	}
	return groth16.Verify(proof, e.vk, w)
}
