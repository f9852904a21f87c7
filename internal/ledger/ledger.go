// ledger.go - The wallet-local note ledger.
//
// The ledger is the single owner of all notes. Every mutation runs in one
// writer critical section so two concurrent spend attempts can never both
// claim the same note; reads copy out under the same lock and therefore
// always observe a consistent snapshot. Every successful mutation bumps a
// revision counter the persistence layer keys its writes on.

package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shieldwallet/internal/notes"
)

// Ledger holds the wallet's notes and drives their lifecycle transitions.
type Ledger struct {
	mu       sync.Mutex
	notes    map[string]*notes.Note // note id -> note
	byCm     map[string]string      // commitment hex -> note id
	bySn     map[string]string      // nullifier hex -> note id
	revision uint64
	log      zerolog.Logger
}

// New creates an empty ledger.
func New(log zerolog.Logger) *Ledger {
	return &Ledger{
		notes: make(map[string]*notes.Note),
		byCm:  make(map[string]string),
		bySn:  make(map[string]string),
		log:   log.With().Str("component", "ledger").Logger(),
	}
}

// Revision returns the current mutation counter.
func (l *Ledger) Revision() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.revision
}

// AddNote inserts a new unspent note. Fails with ErrDuplicateCommitment if a
// note with the same commitment already exists (duplicate-deposit guard).
func (l *Ledger) AddNote(n *notes.Note) error {
	if n == nil || len(n.Commitment) == 0 {
		return fmt.Errorf("%w: nil or uncommitted note", ErrUnknownNote)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cm := n.Commitment.String()
	if _, ok := l.byCm[cm]; ok {
		return ErrDuplicateCommitment
	}
	c := n.Clone()
	c.State = notes.StateUnspent
	c.SpendingTx = ""
	c.SpentAt = nil
	l.notes[c.ID] = c
	l.byCm[cm] = c.ID
	l.bySn[c.Nullifier.String()] = c.ID
	l.revision++
	l.log.Debug().Str("note", c.ID).Uint64("amount", uint64(c.Amount)).Msg("note added")
	return nil
}

// RemoveNote deletes an unspent note. Used only to roll back an
// optimistically added deposit note after the chain rejected the deposit.
func (l *Ledger) RemoveNote(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.notes[id]
	if !ok {
		return ErrUnknownNote
	}
	if n.State != notes.StateUnspent {
		return fmt.Errorf("%w: cannot remove note in state %s", ErrNoteNotSpendable, n.State)
	}
	delete(l.notes, id)
	delete(l.byCm, n.Commitment.String())
	delete(l.bySn, n.Nullifier.String())
	l.revision++
	l.log.Debug().Str("note", id).Msg("note removed")
	return nil
}

// MarkPendingSpend atomically transitions every listed note from unspent to
// pending_spend, tagging the consuming transaction. If any note is not
// currently unspent, nothing changes and ErrNoteNotSpendable is returned.
// This is the single chokepoint preventing two concurrent operations from
// spending the same note.
func (l *Ledger) MarkPendingSpend(noteIDs []string, txID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range noteIDs {
		n, ok := l.notes[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNote, id)
		}
		if n.State != notes.StateUnspent {
			return fmt.Errorf("%w: note %s is %s", ErrNoteNotSpendable, id, n.State)
		}
	}
	for _, id := range noteIDs {
		l.notes[id].State = notes.StatePendingSpend
		l.notes[id].SpendingTx = txID
	}
	l.revision++
	return nil
}

// MarkSpent is the terminal transition, applied on chain confirmation.
// Idempotent: re-marking a spent note is a no-op, not an error.
func (l *Ledger) MarkSpent(noteIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := false
	now := time.Now().UTC()
	for _, id := range noteIDs {
		n, ok := l.notes[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNote, id)
		}
		if n.State == notes.StateSpent {
			continue
		}
		n.State = notes.StateSpent
		n.SpentAt = &now
		changed = true
	}
	if changed {
		l.revision++
	}
	return nil
}

// RevertPendingSpend rolls pending_spend notes back to unspent after the
// consuming transaction failed or timed out. Notes in any other state are
// left untouched, so duplicate failure events are harmless.
func (l *Ledger) RevertPendingSpend(noteIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := false
	for _, id := range noteIDs {
		n, ok := l.notes[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNote, id)
		}
		if n.State != notes.StatePendingSpend {
			continue
		}
		n.State = notes.StateUnspent
		n.SpendingTx = ""
		changed = true
	}
	if changed {
		l.revision++
	}
	return nil
}

// ReconcileNullifierUsed applies the authority-wins rule: the chain reported
// this nullifier as used, so the owning note is forced to spent regardless of
// local state. Returns true if a note transitioned. Idempotent; an unknown
// nullifier is a no-op (not a note of ours).
func (l *Ledger) ReconcileNullifierUsed(sn notes.Nullifier) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.bySn[sn.String()]
	if !ok {
		return false
	}
	n := l.notes[id]
	if n.State == notes.StateSpent {
		return false
	}
	if n.State == notes.StateUnspent {
		// Local state believed this note spendable. Chain wins; log the
		// discrepancy instead of surfacing it as fatal.
		l.log.Warn().
			Str("note", id).
			Str("nullifier", sn.String()).
			Msg("reconciliation conflict: chain shows nullifier used for a locally unspent note")
	}
	now := time.Now().UTC()
	n.State = notes.StateSpent
	n.SpentAt = &now
	l.revision++
	return true
}

// Balance sums the amounts of all notes that are not spent. This is the
// wallet's private balance, including value locked behind pending spends.
func (l *Ledger) Balance() notes.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum notes.Amount
	for _, n := range l.notes {
		if n.State != notes.StateSpent {
			sum += n.Amount
		}
	}
	return sum
}

// SpendableBalance sums only unspent notes; pending_spend value is excluded
// so nothing is ever shown spendable while a spend is in flight.
func (l *Ledger) SpendableBalance() notes.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum notes.Amount
	for _, n := range l.notes {
		if n.State == notes.StateUnspent {
			sum += n.Amount
		}
	}
	return sum
}

// Notes returns clones of all notes, oldest first.
func (l *Ledger) Notes() []*notes.Note {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*notes.Note, 0, len(l.notes))
	for _, n := range l.notes {
		out = append(out, n.Clone())
	}
	sortNotes(out)
	return out
}

// Note returns a clone of the note with the given id.
func (l *Ledger) Note(id string) (*notes.Note, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.notes[id]
	if !ok {
		return nil, ErrUnknownNote
	}
	return n.Clone(), nil
}

// NoteByCommitment returns a clone of the note carrying the commitment.
func (l *Ledger) NoteByCommitment(cm notes.Commitment) (*notes.Note, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byCm[cm.String()]
	if !ok {
		return nil, ErrUnknownNote
	}
	return l.notes[id].Clone(), nil
}

// NoteByNullifier returns a clone of the note behind the nullifier.
func (l *Ledger) NoteByNullifier(sn notes.Nullifier) (*notes.Note, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.bySn[sn.String()]
	if !ok {
		return nil, ErrUnknownNote
	}
	return l.notes[id].Clone(), nil
}

func sortNotes(ns []*notes.Note) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].ID < ns[j].ID
		}
		return ns[i].CreatedAt.Before(ns[j].CreatedAt)
	})
}
