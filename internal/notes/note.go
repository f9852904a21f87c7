// note.go - Note entity and lifecycle states for the shielded pool.
//
// A Note is a unit of shielded value held by the wallet. It is identified by
// its commitment (published on-chain at deposit) and spendable exactly once
// via its nullifier. The secret never leaves the device.

package notes

import (
	"time"

	"github.com/google/uuid"
)

// NoteState is the lifecycle state of a note.
type NoteState string

const (
	// StateUnspent marks a note whose value is spendable.
	StateUnspent NoteState = "unspent"
	// StatePendingSpend marks a note consumed by a submitted but not yet
	// confirmed transaction.
	StatePendingSpend NoteState = "pending_spend"
	// StateSpent is terminal: the note's nullifier appeared on-chain.
	StateSpent NoteState = "spent"
)

// Note represents a confidential value note.
// Notes are owned exclusively by the ledger; no other component mutates one
// directly.
type Note struct {
	ID         string     `json:"id"`
	Commitment Commitment `json:"commitment"`
	Nullifier  Nullifier  `json:"nullifier"`
	Amount     Amount     `json:"amount"`
	Secret     Secret     `json:"secret"`
	State      NoteState  `json:"state"`
	// SpendingTx tags the transaction record consuming this note while it
	// is pending_spend. Cleared on revert, kept on spent for audit.
	SpendingTx string     `json:"spending_tx,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	SpentAt    *time.Time `json:"spent_at,omitempty"`
}

// NewNote mints a fresh note: random secret, commitment bound to the pool
// domain, and the nullifier precomputed from the secret.
func NewNote(amount Amount, domain []byte) *Note {
	secret := GenerateSecret()
	cm := DeriveCommitment(amount, secret, domain)
	return &Note{
		ID:         uuid.NewString(),
		Commitment: cm,
		Nullifier:  DeriveNullifier(secret, cm),
		Amount:     amount,
		Secret:     secret,
		State:      StateUnspent,
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy of the note. Ledger reads hand out clones so
// callers can never mutate ledger-owned state.
func (n *Note) Clone() *Note {
	c := *n
	c.Commitment = append(Commitment(nil), n.Commitment...)
	c.Nullifier = append(Nullifier(nil), n.Nullifier...)
	c.Secret = append(Secret(nil), n.Secret...)
	if n.SpentAt != nil {
		t := *n.SpentAt
		c.SpentAt = &t
	}
	return &c
}
