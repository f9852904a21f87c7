// pipeline.go - The deposit/withdraw/transfer transaction pipeline.
//
// Each operation is a multi-step process spanning a local note mutation and
// an external chain call. The local transition happens first under the
// ledger's writer section; the network call runs outside any lock; the
// confirmation result is fed back in a second, equally serialized,
// transition. Any chain or prover failure resolves the record as failed and
// reverts pending note transitions, so no note is ever stuck pending without
// an owning, queryable transaction.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/ledger"
	"shieldwallet/internal/notes"
	"shieldwallet/internal/prover"
)

var (
	// ErrInvalidAmount rejects zero-amount operations up front.
	ErrInvalidAmount = errors.New("pipeline: amount must be positive")

	// ErrChainSubmissionFailed wraps network or contract rejection at
	// submit time. Recoverable: pending notes are reverted.
	ErrChainSubmissionFailed = errors.New("pipeline: chain submission failed")

	// ErrProofGenerationFailed wraps proof-engine failures. Recoverable:
	// surfaced as a failed transaction, notes reverted.
	ErrProofGenerationFailed = errors.New("pipeline: proof generation failed")
)

// Pipeline orchestrates transactions against the ledger, chain client and
// proof engine.
type Pipeline struct {
	ledger         *ledger.Ledger
	chain          chain.Client
	engine         prover.Engine
	domain         []byte
	selfAddress    string
	confirmTimeout time.Duration
	history        *history
	log            zerolog.Logger

	onChange func() // invoked after every ledger or history mutation

	wg sync.WaitGroup
}

// Config collects the pipeline's collaborators and knobs.
type Config struct {
	Ledger         *ledger.Ledger
	Chain          chain.Client
	Engine         prover.Engine
	Domain         []byte // pool domain bound into commitments
	SelfAddress    string // shielded address of this wallet; transfers to it mint a local note
	ConfirmTimeout time.Duration
	Logger         zerolog.Logger
}

// New builds a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Minute
	}
	return &Pipeline{
		ledger:         cfg.Ledger,
		chain:          cfg.Chain,
		engine:         cfg.Engine,
		domain:         cfg.Domain,
		selfAddress:    cfg.SelfAddress,
		confirmTimeout: cfg.ConfirmTimeout,
		history:        newHistory(),
		log:            cfg.Logger.With().Str("component", "pipeline").Logger(),
		onChange:       func() {},
	}
}

// SetOnChange installs a hook run after every state mutation. The wallet
// session uses it to persist a fresh snapshot.
func (p *Pipeline) SetOnChange(fn func()) {
	if fn != nil {
		p.onChange = fn
	}
}

// Wait blocks until all in-flight confirmation watchers have resolved.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// History returns all transaction records, oldest first.
func (p *Pipeline) History() []*Record { return p.history.list() }

// PendingRecords returns records that have not reached a terminal status.
func (p *Pipeline) PendingRecords() []*Record { return p.history.pending() }

// Record returns the record with the given id.
func (p *Pipeline) Record(id string) (*Record, bool) { return p.history.get(id) }

// RestoreHistory reloads persisted records at startup.
func (p *Pipeline) RestoreHistory(records []*Record) { p.history.restore(records) }

// ResolveRecord forces a pending record to a terminal status. Used by the
// reconciler when chain truth resolves an operation the pipeline lost track
// of (restart, missed event).
func (p *Pipeline) ResolveRecord(id string, status Status, reason string) bool {
	ok := p.history.resolve(id, status, reason)
	if ok {
		p.onChange()
	}
	return ok
}

// ConfirmLateRecord moves a failed record to confirmed after chain truth
// shows its submission landed despite a local timeout. The reconciler uses it
// to recover operations the pipeline gave up on.
func (p *Pipeline) ConfirmLateRecord(id string) bool {
	ok := p.history.confirmLate(id)
	if ok {
		p.onChange()
	}
	return ok
}

// Deposit shields amount into the pool: mint note material, submit the
// commitment, and add the note optimistically once the node accepts the
// call. A later rejection removes the note again.
func (p *Pipeline) Deposit(ctx context.Context, amount notes.Amount) (*Record, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	n := notes.NewNote(amount, p.domain)
	rec := newRecord(KindDeposit, amount, []string{n.ID}, "")
	p.history.add(rec)

	handle, err := p.chain.SubmitDeposit(ctx, n.Commitment, amount)
	if err != nil {
		p.history.resolve(rec.ID, StatusFailed, err.Error())
		p.onChange()
		r, _ := p.history.get(rec.ID)
		return r, fmt.Errorf("%w: %v", ErrChainSubmissionFailed, err)
	}
	p.history.setChainRef(rec.ID, string(handle))

	// Optimistic: funds are usable as soon as the node accepted the call.
	if err := p.ledger.AddNote(n); err != nil {
		p.history.resolve(rec.ID, StatusFailed, err.Error())
		p.onChange()
		r, _ := p.history.get(rec.ID)
		return r, err
	}
	p.onChange()
	p.log.Info().Str("record", rec.ID).Uint64("amount", uint64(amount)).Msg("deposit submitted")

	p.watch(rec.ID, handle,
		func() {}, // the note is already in the ledger
		func() {
			// Explicit chain rejection: the commitment will never exist.
			if err := p.ledger.RemoveNote(n.ID); err != nil && !errors.Is(err, ledger.ErrUnknownNote) {
				p.log.Error().Err(err).Str("note", n.ID).Msg("deposit rollback failed")
			}
		},
		func() {
			// Outcome unknown: the deposit may still land. The note stays in
			// the ledger; reconciliation checks the commitment and either
			// confirms the record late or rolls the note back once stale.
		})

	r, _ := p.history.get(rec.ID)
	return r, nil
}

// Withdraw unshields amount to a public recipient. Input notes are selected
// smallest-sufficient-set; value above the requested amount returns to the
// pool as a change note minted on confirmation.
func (p *Pipeline) Withdraw(ctx context.Context, amount notes.Amount, recipient string) (*Record, error) {
	return p.spend(ctx, KindWithdraw, amount, recipient)
}

// Transfer moves amount to another shielded address. A fresh commitment
// bound to the pool is published for the recipient; if the recipient is this
// wallet's own address the output note is added locally on confirmation.
func (p *Pipeline) Transfer(ctx context.Context, amount notes.Amount, recipient string) (*Record, error) {
	return p.spend(ctx, KindTransfer, amount, recipient)
}

// spend is the shared withdraw/transfer flow.
func (p *Pipeline) spend(ctx context.Context, kind Kind, amount notes.Amount, recipient string) (*Record, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if recipient == "" {
		return nil, fmt.Errorf("pipeline: empty recipient")
	}

	sel, err := p.ledger.SelectForAmount(amount)
	if err != nil {
		return nil, err
	}
	rec := newRecord(kind, amount, sel.NoteIDs(), recipient)
	p.history.add(rec)

	// Single chokepoint: if another operation claimed any of these notes
	// between selection and here, nothing changes and the caller gets the
	// contention error.
	if err := p.ledger.MarkPendingSpend(sel.NoteIDs(), rec.ID); err != nil {
		p.history.resolve(rec.ID, StatusFailed, err.Error())
		p.onChange()
		r, _ := p.history.get(rec.ID)
		return r, err
	}
	p.onChange()

	fail := func(reason string) {
		if err := p.ledger.RevertPendingSpend(sel.NoteIDs()); err != nil {
			p.log.Error().Err(err).Str("record", rec.ID).Msg("pending-spend revert failed")
		}
		p.history.resolve(rec.ID, StatusFailed, reason)
		p.onChange()
	}

	inputs := make([]chain.SpendInput, 0, len(sel.Notes))
	for _, n := range sel.Notes {
		proof, err := p.engine.ProveSpend(n)
		if err != nil {
			fail(err.Error())
			r, _ := p.history.get(rec.ID)
			return r, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
		}
		inputs = append(inputs, chain.SpendInput{
			Nullifier:  n.Nullifier,
			Commitment: n.Commitment,
			Proof:      proof,
		})
	}

	var changeNote *notes.Note
	var changeCms []notes.Commitment
	if change := sel.Change(amount); change > 0 {
		changeNote = notes.NewNote(change, p.domain)
		changeCms = append(changeCms, changeNote.Commitment)
	}
	var outNote *notes.Note
	if kind == KindTransfer {
		outNote = notes.NewNote(amount, p.domain)
	}

	// Persist the note material owed back to this wallet before the chain
	// call, so a crash mid-operation cannot lose the secrets behind it.
	var owed []*notes.Note
	if changeNote != nil {
		owed = append(owed, changeNote)
	}
	if outNote != nil && recipient == p.selfAddress {
		owed = append(owed, outNote)
	}
	p.history.setPendingOutputs(rec.ID, owed)
	p.onChange()

	var handle chain.TxHandle
	switch kind {
	case KindWithdraw:
		handle, err = p.chain.SubmitWithdraw(ctx, inputs, recipient, amount, changeCms)
	case KindTransfer:
		outputs := append([]notes.Commitment{outNote.Commitment}, changeCms...)
		handle, err = p.chain.SubmitTransfer(ctx, inputs, outputs)
	default:
		err = fmt.Errorf("pipeline: unsupported spend kind %s", kind)
	}
	if err != nil {
		if errors.Is(err, chain.ErrNullifierUsed) {
			// The chain already shows one of our nullifiers spent; the
			// reconciliation rule wins over the local pending state.
			for _, in := range inputs {
				p.ledger.ReconcileNullifierUsed(in.Nullifier)
			}
		}
		fail(err.Error())
		r, _ := p.history.get(rec.ID)
		return r, fmt.Errorf("%w: %v", ErrChainSubmissionFailed, err)
	}
	p.history.setChainRef(rec.ID, string(handle))
	p.onChange()
	p.log.Info().
		Str("record", rec.ID).
		Str("kind", string(kind)).
		Uint64("amount", uint64(amount)).
		Int("inputs", len(inputs)).
		Msg("spend submitted")

	// Rejected or expired, the inputs are released either way; if an expired
	// submission later lands, reconciliation force-spends them again and
	// mints the owed outputs from the record.
	revert := func() {
		if err := p.ledger.RevertPendingSpend(sel.NoteIDs()); err != nil {
			p.log.Error().Err(err).Str("record", rec.ID).Msg("pending-spend revert failed")
		}
	}
	p.watch(rec.ID, handle,
		func() {
			if err := p.ledger.MarkSpent(sel.NoteIDs()); err != nil {
				p.log.Error().Err(err).Str("record", rec.ID).Msg("mark spent failed")
			}
			if changeNote != nil {
				if err := p.ledger.AddNote(changeNote); err != nil {
					p.log.Error().Err(err).Str("record", rec.ID).Msg("change note insert failed")
				}
			}
			if outNote != nil && recipient == p.selfAddress {
				if err := p.ledger.AddNote(outNote); err != nil {
					p.log.Error().Err(err).Str("record", rec.ID).Msg("self-transfer note insert failed")
				}
			}
		},
		revert, revert)

	r, _ := p.history.get(rec.ID)
	return r, nil
}

// watch follows the confirmation stream for a submitted transaction and
// applies exactly one terminal transition. onRejected runs only when the
// chain reports the transaction failed; onExpired runs when the outcome is
// unknown (confirm timeout, lost stream) — the record is failed locally but
// reconciliation recovers it if the submission later lands. The same
// nullifiers are never silently resubmitted.
func (p *Pipeline) watch(recordID string, handle chain.TxHandle, onConfirmed, onRejected, onExpired func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.confirmTimeout)
		defer cancel()

		resolve := func(status Status, reason string, apply func()) {
			// resolve is the idempotence gate: duplicate or late events
			// find the record already terminal and change nothing.
			if !p.history.resolve(recordID, status, reason) {
				return
			}
			apply()
			p.onChange()
			p.log.Info().Str("record", recordID).Str("status", string(status)).Msg("transaction resolved")
		}

		ch, err := p.chain.SubscribeConfirmations(ctx, handle)
		if err != nil {
			resolve(StatusFailed, fmt.Sprintf("confirmation subscription failed: %v", err), onExpired)
			return
		}
		for {
			select {
			case status, ok := <-ch:
				if !ok {
					resolve(StatusFailed, "confirmation stream closed", onExpired)
					return
				}
				switch status {
				case chain.StatusConfirmed:
					resolve(StatusConfirmed, "", onConfirmed)
					return
				case chain.StatusFailed:
					resolve(StatusFailed, "chain rejected transaction", onRejected)
					return
				default:
					// still pending, keep waiting
				}
			case <-ctx.Done():
				resolve(StatusFailed, "confirmation timeout", onExpired)
				return
			}
		}
	}()
}
