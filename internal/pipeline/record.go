// record.go - Transaction records and the append-only history.
//
// Records are created when an operation is initiated and only ever
// status-updated afterwards; they are never deleted, so the full history
// stays queryable for audit even after notes are long spent.

package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"shieldwallet/internal/notes"
)

// Kind is the operation type behind a record.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindTransfer Kind = "transfer"
)

// Status is the lifecycle state of a record. Pending is the only
// non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Record tracks one deposit/withdraw/transfer through its lifetime.
type Record struct {
	ID            string       `json:"id"`
	Kind          Kind         `json:"kind"`
	Amount        notes.Amount `json:"amount"`
	NoteIDs       []string     `json:"note_ids"`
	Status        Status       `json:"status"`
	ChainRef      string       `json:"chain_ref,omitempty"`
	Recipient     string       `json:"recipient,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`

	// PendingOutputs carries the pre-minted note material (change note,
	// self-transfer output) this operation will add to the ledger on
	// confirmation. Persisted with the record so a restart mid-operation
	// cannot lose the secrets behind value owed back to this wallet.
	PendingOutputs []*notes.Note `json:"pending_outputs,omitempty"`
}

func newRecord(kind Kind, amount notes.Amount, noteIDs []string, recipient string) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Amount:    amount,
		NoteIDs:   append([]string(nil), noteIDs...),
		Status:    StatusPending,
		Recipient: recipient,
		CreatedAt: time.Now().UTC(),
	}
}

func (r *Record) clone() *Record {
	c := *r
	c.NoteIDs = append([]string(nil), r.NoteIDs...)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	if len(r.PendingOutputs) > 0 {
		c.PendingOutputs = make([]*notes.Note, len(r.PendingOutputs))
		for i, n := range r.PendingOutputs {
			c.PendingOutputs[i] = n.Clone()
		}
	}
	return &c
}

// history is the mutex-guarded record store.
type history struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
}

func newHistory() *history {
	return &history{records: make(map[string]*Record)}
}

func (h *history) add(r *Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[r.ID] = r.clone()
	h.order = append(h.order, r.ID)
}

func (h *history) setChainRef(id, ref string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.records[id]; ok {
		r.ChainRef = ref
	}
}

func (h *history) setPendingOutputs(id string, outputs []*notes.Note) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.records[id]
	if !ok {
		return
	}
	r.PendingOutputs = make([]*notes.Note, len(outputs))
	for i, n := range outputs {
		r.PendingOutputs[i] = n.Clone()
	}
}

// resolve moves a pending record to a terminal status. Idempotent: once a
// record is terminal, later resolutions (duplicate confirmations, a timeout
// racing a confirmation) are no-ops. Returns whether the transition applied.
func (h *history) resolve(id string, status Status, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.records[id]
	if !ok || r.Status != StatusPending {
		return false
	}
	now := time.Now().UTC()
	r.Status = status
	r.FailureReason = reason
	r.ResolvedAt = &now
	return true
}

// confirmLate moves a failed record to confirmed after chain truth shows its
// submission landed despite the local failure. Pending and already confirmed
// records are left alone. Returns whether the transition applied.
func (h *history) confirmLate(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.records[id]
	if !ok || r.Status != StatusFailed {
		return false
	}
	now := time.Now().UTC()
	r.Status = StatusConfirmed
	r.FailureReason = ""
	r.ResolvedAt = &now
	return true
}

func (h *history) get(id string) (*Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.records[id]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

func (h *history) list() []*Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Record, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.records[id].clone())
	}
	return out
}

func (h *history) pending() []*Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Record
	for _, id := range h.order {
		if r := h.records[id]; r.Status == StatusPending {
			out = append(out, r.clone())
		}
	}
	return out
}

// restore reloads persisted records, keeping insertion order by creation
// time.
func (h *history) restore(records []*Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = make(map[string]*Record, len(records))
	h.order = h.order[:0]
	for _, r := range records {
		h.records[r.ID] = r.clone()
		h.order = append(h.order, r.ID)
	}
}
