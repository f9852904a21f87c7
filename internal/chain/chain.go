// chain.go - The chain client capability consumed by the transaction
// pipeline.
//
// The actual RPC/contract-call layer is an external collaborator; this
// package defines the contract the pipeline depends on plus the shared wire
// types. Submissions return quickly with a handle; confirmation arrives
// asynchronously on a subscription stream and may be duplicated or reordered.

package chain

import (
	"context"
	"errors"

	"shieldwallet/internal/notes"
)

// TxHandle identifies a submitted chain transaction.
type TxHandle string

// TxStatus is the chain-side status of a submitted transaction.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// ErrNullifierUsed is returned on submission when the chain already shows a
// spend for one of the input nullifiers. Revealing a nullifier is globally
// idempotent: whoever sees this must treat the note as spent.
var ErrNullifierUsed = errors.New("chain: nullifier already used")

// SpendInput is one consumed note as the chain sees it: the revealed
// nullifier, the commitment it spends, and the opaque spend proof.
type SpendInput struct {
	Nullifier  notes.Nullifier
	Commitment notes.Commitment
	Proof      []byte
}

// View is the read side used for reconciliation.
type View interface {
	// IsNullifierUsed reports whether the nullifier appears in chain state.
	IsNullifierUsed(ctx context.Context, sn notes.Nullifier) (bool, error)
	// HasCommitment reports whether the commitment appears in chain state.
	HasCommitment(ctx context.Context, cm notes.Commitment) (bool, error)
}

// Client is the full chain capability: submissions plus the read side.
type Client interface {
	View

	// SubmitDeposit publishes a commitment shielding the given amount.
	SubmitDeposit(ctx context.Context, cm notes.Commitment, amount notes.Amount) (TxHandle, error)

	// SubmitWithdraw reveals the input nullifiers and pays amount to the
	// public recipient; change lists commitments for value returning to
	// the pool.
	SubmitWithdraw(ctx context.Context, inputs []SpendInput, recipient string, amount notes.Amount, change []notes.Commitment) (TxHandle, error)

	// SubmitTransfer reveals the input nullifiers and publishes the output
	// commitments (recipient note and any change note).
	SubmitTransfer(ctx context.Context, inputs []SpendInput, outputs []notes.Commitment) (TxHandle, error)

	// SubscribeConfirmations streams status updates for a handle. The
	// channel is closed once a terminal status has been delivered.
	// Duplicate or out-of-order deliveries are allowed.
	SubscribeConfirmations(ctx context.Context, h TxHandle) (<-chan TxStatus, error)
}
