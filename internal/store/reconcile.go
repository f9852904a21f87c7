// reconcile.go - Cross-checking local optimistic state against chain truth.
//
// The safety net against missed confirmation events and app restarts
// mid-operation. Chain facts always win: a nullifier the chain shows as used
// forces the owning note to spent no matter what the wallet believed, and a
// commitment the chain shows published confirms the deposit that carried it.
// Discrepancies are logged, never surfaced as fatal.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/ledger"
	"shieldwallet/internal/notes"
	"shieldwallet/internal/pipeline"
)

// Reconciler replays chain truth over the local ledger and pending records.
type Reconciler struct {
	ledger     *ledger.Ledger
	pipe       *pipeline.Pipeline
	view       chain.View
	staleAfter time.Duration
	log        zerolog.Logger
}

// NewReconciler builds a reconciler. staleAfter bounds how long a pending
// record may stay unresolved before it is treated as failed for ledger
// purposes.
func NewReconciler(l *ledger.Ledger, p *pipeline.Pipeline, view chain.View, staleAfter time.Duration, log zerolog.Logger) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Reconciler{
		ledger:     l,
		pipe:       p,
		view:       view,
		staleAfter: staleAfter,
		log:        log.With().Str("component", "reconciler").Logger(),
	}
}

// Result summarizes one reconciliation pass.
type Result struct {
	NotesChecked      int
	NotesForcedSpent  int
	RecordsConfirmed  int
	RecordsFailed     int
	RecordsRecovered  int
	OutputNotesMinted int
}

// ReconcileWithChain runs one full pass: every non-spent note's nullifier is
// checked against the chain, then every pending record is resolved from
// chain facts or aged out. Must run at startup before new operations touch
// notes referenced by pending records.
func (r *Reconciler) ReconcileWithChain(ctx context.Context) (*Result, error) {
	res := &Result{}

	for _, n := range r.ledger.Notes() {
		if n.State == notes.StateSpent {
			continue
		}
		res.NotesChecked++
		used, err := r.view.IsNullifierUsed(ctx, n.Nullifier)
		if err != nil {
			return res, fmt.Errorf("reconcile: nullifier query: %w", err)
		}
		if used && r.ledger.ReconcileNullifierUsed(n.Nullifier) {
			res.NotesForcedSpent++
		}
	}

	for _, rec := range r.pipe.PendingRecords() {
		switch rec.Kind {
		case pipeline.KindDeposit:
			if err := r.reconcileDeposit(ctx, rec, res); err != nil {
				return res, err
			}
		case pipeline.KindWithdraw, pipeline.KindTransfer:
			if err := r.reconcileSpend(ctx, rec, res); err != nil {
				return res, err
			}
		}
	}

	// Records the pipeline failed on a timeout may have landed anyway; value
	// owed to this wallet by such records must be recovered, not lost.
	for _, rec := range r.pipe.History() {
		if rec.Status != pipeline.StatusFailed {
			continue
		}
		switch rec.Kind {
		case pipeline.KindDeposit:
			if err := r.recoverDeposit(ctx, rec, res); err != nil {
				return res, err
			}
		case pipeline.KindWithdraw, pipeline.KindTransfer:
			if err := r.recoverSpend(ctx, rec, res); err != nil {
				return res, err
			}
		}
	}

	r.log.Info().
		Int("notes_checked", res.NotesChecked).
		Int("forced_spent", res.NotesForcedSpent).
		Int("records_confirmed", res.RecordsConfirmed).
		Int("records_failed", res.RecordsFailed).
		Int("records_recovered", res.RecordsRecovered).
		Msg("reconciliation pass complete")
	return res, nil
}

func (r *Reconciler) reconcileDeposit(ctx context.Context, rec *pipeline.Record, res *Result) error {
	if len(rec.NoteIDs) == 0 {
		return nil
	}
	n, err := r.ledger.Note(rec.NoteIDs[0])
	if errors.Is(err, ledger.ErrUnknownNote) {
		// The optimistic note is already gone; close out the record.
		if r.pipe.ResolveRecord(rec.ID, pipeline.StatusFailed, "deposit note no longer present") {
			res.RecordsFailed++
		}
		return nil
	}
	if err != nil {
		return err
	}
	onChain, err := r.view.HasCommitment(ctx, n.Commitment)
	if err != nil {
		return fmt.Errorf("reconcile: commitment query: %w", err)
	}
	if onChain {
		if r.pipe.ResolveRecord(rec.ID, pipeline.StatusConfirmed, "") {
			res.RecordsConfirmed++
		}
		return nil
	}
	if time.Since(rec.CreatedAt) > r.staleAfter {
		r.log.Warn().Str("record", rec.ID).Msg("deposit never appeared on chain; rolling back optimistic note")
		if err := r.ledger.RemoveNote(n.ID); err != nil && !errors.Is(err, ledger.ErrUnknownNote) {
			return err
		}
		if r.pipe.ResolveRecord(rec.ID, pipeline.StatusFailed, "deposit confirmation timed out") {
			res.RecordsFailed++
		}
	}
	return nil
}

func (r *Reconciler) reconcileSpend(ctx context.Context, rec *pipeline.Record, res *Result) error {
	// A spend landed iff its nullifiers were revealed. Every input is
	// checked so a partially applied view counts as not landed; the
	// note-level pass above already forced used notes to spent.
	landed := true
	for _, id := range rec.NoteIDs {
		n, err := r.ledger.Note(id)
		if err != nil {
			return err
		}
		used, err := r.view.IsNullifierUsed(ctx, n.Nullifier)
		if err != nil {
			return fmt.Errorf("reconcile: nullifier query: %w", err)
		}
		if !used {
			landed = false
			break
		}
	}

	if landed {
		if r.pipe.ResolveRecord(rec.ID, pipeline.StatusConfirmed, "") {
			res.RecordsConfirmed++
		}
		// Mint the outputs owed to this wallet, unless the pipeline
		// already did (duplicate commitments are the idempotence guard).
		for _, out := range rec.PendingOutputs {
			err := r.ledger.AddNote(out)
			switch {
			case err == nil:
				res.OutputNotesMinted++
			case errors.Is(err, ledger.ErrDuplicateCommitment):
				// already minted
			default:
				return err
			}
		}
		return nil
	}

	if time.Since(rec.CreatedAt) > r.staleAfter {
		r.log.Warn().Str("record", rec.ID).Str("kind", string(rec.Kind)).
			Msg("spend never confirmed; reverting pending notes")
		if err := r.ledger.RevertPendingSpend(rec.NoteIDs); err != nil {
			return err
		}
		if r.pipe.ResolveRecord(rec.ID, pipeline.StatusFailed, "confirmation timed out during reconciliation") {
			res.RecordsFailed++
		}
	}
	return nil
}

// recoverSpend settles a spend the pipeline failed on a local timeout but
// whose submission landed anyway. The owed output commitments are the
// fingerprint: they were minted from fresh secrets for exactly this record,
// so their presence on chain proves this transaction landed — input
// nullifiers cannot tell it apart from a later re-spend of the same reverted
// notes. The inputs themselves are force-spent by the note-level pass.
func (r *Reconciler) recoverSpend(ctx context.Context, rec *pipeline.Record, res *Result) error {
	if len(rec.PendingOutputs) == 0 {
		return nil
	}
	for _, out := range rec.PendingOutputs {
		onChain, err := r.view.HasCommitment(ctx, out.Commitment)
		if err != nil {
			return fmt.Errorf("reconcile: commitment query: %w", err)
		}
		if !onChain {
			return nil
		}
	}
	if r.pipe.ConfirmLateRecord(rec.ID) {
		res.RecordsRecovered++
		r.log.Warn().Str("record", rec.ID).Str("kind", string(rec.Kind)).
			Msg("spend landed after local failure; recovering owed outputs")
	}
	for _, out := range rec.PendingOutputs {
		err := r.ledger.AddNote(out)
		switch {
		case err == nil:
			res.OutputNotesMinted++
		case errors.Is(err, ledger.ErrDuplicateCommitment):
			// already minted
		default:
			return err
		}
	}
	return nil
}

// recoverDeposit settles a deposit the pipeline failed on a timeout. The
// optimistic note was kept because the outcome was unknown; chain truth now
// decides whether it stays (the commitment landed, confirm the record late)
// or goes (aged out without landing, roll the note back).
func (r *Reconciler) recoverDeposit(ctx context.Context, rec *pipeline.Record, res *Result) error {
	if len(rec.NoteIDs) == 0 {
		return nil
	}
	n, err := r.ledger.Note(rec.NoteIDs[0])
	if errors.Is(err, ledger.ErrUnknownNote) {
		return nil // rejected deposits roll their note back immediately
	}
	if err != nil {
		return err
	}
	onChain, err := r.view.HasCommitment(ctx, n.Commitment)
	if err != nil {
		return fmt.Errorf("reconcile: commitment query: %w", err)
	}
	if onChain {
		if r.pipe.ConfirmLateRecord(rec.ID) {
			res.RecordsRecovered++
			r.log.Warn().Str("record", rec.ID).Msg("deposit landed after local failure; keeping note")
		}
		return nil
	}
	if n.State == notes.StateUnspent && time.Since(rec.CreatedAt) > r.staleAfter {
		r.log.Warn().Str("record", rec.ID).Msg("failed deposit never appeared on chain; rolling back optimistic note")
		if err := r.ledger.RemoveNote(n.ID); err != nil && !errors.Is(err, ledger.ErrUnknownNote) {
			return err
		}
	}
	return nil
}
