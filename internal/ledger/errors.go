// errors.go - Error taxonomy for ledger operations.

package ledger

import "errors"

var (
	// ErrInsufficientFunds means coin selection could not cover the target
	// amount. Recoverable: the caller must adjust the amount, it is never
	// retried automatically.
	ErrInsufficientFunds = errors.New("ledger: insufficient unspent funds")

	// ErrDuplicateCommitment guards against inserting the same deposit
	// twice. A data-integrity error, fatal for that call.
	ErrDuplicateCommitment = errors.New("ledger: note with this commitment already exists")

	// ErrNoteNotSpendable means a note targeted by MarkPendingSpend is not
	// currently unspent. This is the contention signal between concurrent
	// spend attempts.
	ErrNoteNotSpendable = errors.New("ledger: note is not in a spendable state")

	// ErrUnknownNote means the note id is not in the ledger.
	ErrUnknownNote = errors.New("ledger: unknown note")

	// ErrStaleSnapshot means a restore or save raced behind a newer
	// revision of the ledger.
	ErrStaleSnapshot = errors.New("ledger: snapshot is older than current revision")
)
