// selection.go - Coin selection over unspent notes.

package ledger

import (
	"sort"

	"shieldwallet/internal/notes"
)

// Selection is the result of coin selection: the chosen notes and their sum.
type Selection struct {
	Notes []*notes.Note
	Total notes.Amount
}

// NoteIDs returns the ids of the selected notes in selection order.
func (s *Selection) NoteIDs() []string {
	ids := make([]string, len(s.Notes))
	for i, n := range s.Notes {
		ids[i] = n.ID
	}
	return ids
}

// Change is the amount selected above the target.
func (s *Selection) Change(target notes.Amount) notes.Amount {
	return s.Total - target
}

// SelectForAmount picks the smallest set of unspent notes whose sum covers
// the target: greedy over amounts descending, so the fewest notes are
// revealed and spent per operation; equal amounts break oldest-first to
// bound note age. Returns ErrInsufficientFunds if the unspent total cannot
// cover the target. The returned notes are clones.
func (l *Ledger) SelectForAmount(target notes.Amount) (*Selection, error) {
	if target == 0 {
		return nil, ErrInsufficientFunds
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	unspent := make([]*notes.Note, 0, len(l.notes))
	for _, n := range l.notes {
		if n.State == notes.StateUnspent {
			unspent = append(unspent, n)
		}
	}
	sort.Slice(unspent, func(i, j int) bool {
		if unspent[i].Amount != unspent[j].Amount {
			return unspent[i].Amount > unspent[j].Amount
		}
		return unspent[i].CreatedAt.Before(unspent[j].CreatedAt)
	})

	sel := &Selection{}
	for _, n := range unspent {
		sel.Notes = append(sel.Notes, n.Clone())
		sel.Total += n.Amount
		if sel.Total >= target {
			return sel, nil
		}
	}
	return nil, ErrInsufficientFunds
}
