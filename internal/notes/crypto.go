// crypto.go - Cryptographic primitives for note material.
//
// Commitments and nullifiers are MiMC digests over the BW6-761 scalar field,
// matching the in-circuit MiMC used by the proof engine. Each input is
// absorbed as exactly one canonical field element so native digests line up
// with the circuit witness. Secrets come from crypto/rand. These are pure
// functions; invalid input lengths are contract violations and fail fast.

package notes

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// SecretLen is the byte length of a note secret (256 bits of randomness).
const SecretLen = 32

// Secret is the locally generated random value behind a note. It never
// leaves the device.
type Secret []byte

// Commitment is the one-way, binding digest of (amount, secret, domain)
// published on-chain at deposit time.
type Commitment []byte

// Nullifier is the one-way digest of (secret, commitment) revealed on-chain
// exactly once, at spend time.
type Nullifier []byte

// Amount is a note value in pool base units.
type Amount uint64

func (s Secret) String() string     { return hex.EncodeToString(s) }
func (c Commitment) String() string { return hex.EncodeToString(c) }
func (n Nullifier) String() string  { return hex.EncodeToString(n) }

// Bytes returns the amount as fixed-width big-endian bytes for hashing.
func (a Amount) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(a))
	return b
}

// BigInt returns the amount as a big.Int, the form circuit witnesses take.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(a))
}

// GenerateSecret returns a fresh random secret. Two notes never share a
// secret (collision probability is negligible at 256 bits).
func GenerateSecret() Secret {
	b := make([]byte, SecretLen)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("notes: crypto/rand failed: %v", err))
	}
	return b
}

// DeriveCommitment computes cm = MiMC(amount || secret || domain).
// Deterministic: the same inputs always yield the same commitment, so a note
// can be re-derived from backup material.
func DeriveCommitment(amount Amount, secret Secret, domain []byte) Commitment {
	if len(secret) != SecretLen {
		panic(fmt.Sprintf("notes: secret must be %d bytes, got %d", SecretLen, len(secret)))
	}
	if len(domain) == 0 {
		panic("notes: empty pool domain")
	}
	h := mimcNative.NewMiMC()
	writeElement(h, amount.Bytes())
	writeElement(h, secret)
	writeElement(h, domain)
	return h.Sum(nil)
}

// DeriveNullifier computes sn = MiMC(secret || commitment). Computable only
// by the secret holder; not derivable from the public commitment alone.
func DeriveNullifier(secret Secret, commitment Commitment) Nullifier {
	if len(secret) != SecretLen {
		panic(fmt.Sprintf("notes: secret must be %d bytes, got %d", SecretLen, len(secret)))
	}
	if len(commitment) == 0 {
		panic("notes: empty commitment")
	}
	h := mimcNative.NewMiMC()
	writeElement(h, secret)
	writeElement(h, commitment)
	return h.Sum(nil)
}

// ToFieldElement reduces arbitrary bytes to a canonical BW6-761 scalar. The
// same reduction feeds circuit witnesses, keeping native and in-circuit
// hashing consistent.
func ToFieldElement(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	return v.Mod(v, fr.Modulus())
}

// writeElement absorbs b into the hasher as one canonical field element.
func writeElement(h interface{ Write([]byte) (int, error) }, b []byte) {
	var e fr.Element
	e.SetBigInt(ToFieldElement(b))
	eb := e.Bytes()
	if _, err := h.Write(eb[:]); err != nil {
		panic(fmt.Sprintf("notes: mimc write: %v", err))
	}
}
