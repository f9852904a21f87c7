// session.go - The wallet session: the surface the rest of the wallet
// consumes.
//
// A session is explicitly constructed with its collaborators (chain client,
// proof engine, storage) and owns the ledger, pipeline, privacy controller
// and persistence adapter. There is no process-wide mutable state: one
// session per wallet. Every mutation is followed by a revision-guarded
// snapshot save, and startup runs a reconciliation pass before any new
// operation can touch notes referenced by pending records.

package wallet

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
	"shieldwallet/internal/privacy"
	"shieldwallet/internal/prover"
	"shieldwallet/internal/store"
)

// Config wires a session.
type Config struct {
	Chain          chain.Client
	Engine         prover.Engine
	Storage        store.Storage
	Domain         []byte // pool domain bound into every commitment
	SelfAddress    string // this wallet's shielded address
	ConfirmTimeout time.Duration
	Logger         zerolog.Logger
}

// Session is a live wallet.
type Session struct {
	ledger     *ledger.Ledger
	pipe       *pipeline.Pipeline
	privacy    *privacy.Controller
	adapter    *store.Adapter
	reconciler *store.Reconciler
	log        zerolog.Logger
}

// NewSession loads persisted state, reconciles it against the chain, and
// returns a ready session.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Chain == nil || cfg.Engine == nil || cfg.Storage == nil {
		return nil, errors.New("wallet: chain, engine and storage are required")
	}
	if len(cfg.Domain) == 0 {
		return nil, errors.New("wallet: pool domain is required")
	}
	log := cfg.Logger.With().Str("component", "wallet").Logger()

	adapter := store.NewAdapter(cfg.Storage, cfg.Logger)
	l := ledger.New(cfg.Logger)
	if snap, err := adapter.LoadLedger(); err != nil {
		return nil, fmt.Errorf("wallet: load ledger: %w", err)
	} else if snap != nil {
		if err := l.Restore(snap); err != nil {
			return nil, fmt.Errorf("wallet: restore ledger: %w", err)
		}
	}

	settings, privateMode, found, err := adapter.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("wallet: load settings: %w", err)
	}
	if !found {
		settings = privacy.DefaultSettings()
		privateMode = settings.PrivateByDefault
		if err := adapter.SaveSettings(settings, privateMode); err != nil {
			return nil, fmt.Errorf("wallet: save initial settings: %w", err)
		}
	}
	controller, err := privacy.NewController(settings, privateMode, adapter.SaveSettings)
	if err != nil {
		return nil, fmt.Errorf("wallet: settings: %w", err)
	}

	pipe := pipeline.New(pipeline.Config{
		Ledger:         l,
		Chain:          cfg.Chain,
		Engine:         cfg.Engine,
		Domain:         cfg.Domain,
		SelfAddress:    cfg.SelfAddress,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         cfg.Logger,
	})
	if records, err := adapter.LoadHistory(); err != nil {
		return nil, fmt.Errorf("wallet: load history: %w", err)
	} else if len(records) > 0 {
		pipe.RestoreHistory(records)
	}

	s := &Session{
		ledger:     l,
		pipe:       pipe,
		privacy:    controller,
		adapter:    adapter,
		reconciler: store.NewReconciler(l, pipe, cfg.Chain, cfg.ConfirmTimeout, cfg.Logger),
		log:        log,
	}
	pipe.SetOnChange(s.persist)

	// Pending records from a previous run must be resolved or aged out
	// before any new operation is allowed to touch their notes. Failed
	// records need the pass too: a timed-out submission may have landed
	// since, with value owed back to this wallet.
	if needsReconciliation(pipe) {
		if _, err := s.reconciler.ReconcileWithChain(ctx); err != nil {
			return nil, fmt.Errorf("wallet: startup reconciliation: %w", err)
		}
	}
	s.persist()
	return s, nil
}

func needsReconciliation(pipe *pipeline.Pipeline) bool {
	if len(pipe.PendingRecords()) > 0 {
		return true
	}
	for _, rec := range pipe.History() {
		if rec.Status == pipeline.StatusFailed {
			return true
		}
	}
	return false
}

// persist writes the current snapshot and history. Failures are logged, not
// fatal: the next mutation retries, and the revision guard keeps ordering
// safe.
func (s *Session) persist() {
	if err := s.adapter.SaveLedger(s.ledger.Snapshot()); err != nil {
		s.log.Error().Err(err).Msg("ledger snapshot save failed")
	}
	if err := s.adapter.SaveHistory(s.pipe.History()); err != nil {
		s.log.Error().Err(err).Msg("history save failed")
	}
}

// Balance is the private balance: all notes not yet spent, including value
// locked behind pending spends.
func (s *Session) Balance() notes.Amount { return s.ledger.Balance() }

// SpendableBalance excludes notes locked by in-flight spends.
func (s *Session) SpendableBalance() notes.Amount { return s.ledger.SpendableBalance() }

// Notes lists the wallet's notes, oldest first.
func (s *Session) Notes() []*notes.Note { return s.ledger.Notes() }

// Deposit shields amount into the pool.
func (s *Session) Deposit(ctx context.Context, amount notes.Amount) (*pipeline.Record, error) {
	return s.pipe.Deposit(ctx, amount)
}

// Withdraw unshields amount to a public recipient.
func (s *Session) Withdraw(ctx context.Context, amount notes.Amount, recipient string) (*pipeline.Record, error) {
	return s.pipe.Withdraw(ctx, amount, recipient)
}

// Transfer sends amount to another shielded address.
func (s *Session) Transfer(ctx context.Context, amount notes.Amount, recipient string) (*pipeline.Record, error) {
	return s.pipe.Transfer(ctx, amount, recipient)
}

// History returns all transaction records, oldest first.
func (s *Session) History() []*pipeline.Record { return s.pipe.History() }

// Settings returns the current privacy settings.
func (s *Session) Settings() privacy.Settings { return s.privacy.Get() }

// UpdateSettings applies a validated partial update, persisted on success.
func (s *Session) UpdateSettings(p privacy.Partial) (privacy.Settings, error) {
	return s.privacy.Update(p)
}

// PrivateMode reports the current mode toggle.
func (s *Session) PrivateMode() bool { return s.privacy.PrivateMode() }

// SetPrivateMode toggles private mode, persisted on change.
func (s *Session) SetPrivateMode(on bool) error { return s.privacy.SetPrivateMode(on) }

// Reconcile runs an on-demand reconciliation pass against chain truth.
func (s *Session) Reconcile(ctx context.Context) (*store.Result, error) {
	res, err := s.reconciler.ReconcileWithChain(ctx)
	s.persist()
	return res, err
}

// MaybeAutoShield deposits from a public balance when auto-shield is on:
// the shielded amount is the public balance clamped to the max mixing bound,
// skipped entirely below the min bound. Returns nil without error when
// nothing is shielded.
func (s *Session) MaybeAutoShield(ctx context.Context, publicBalance notes.Amount) (*pipeline.Record, error) {
	settings := s.privacy.Get()
	if !settings.AutoShield || publicBalance < settings.MinMixAmount {
		return nil, nil
	}
	amount := publicBalance
	if amount > settings.MaxMixAmount {
		amount = settings.MaxMixAmount
	}
	return s.pipe.Deposit(ctx, amount)
}

// Wait blocks until in-flight confirmation watchers are done. Tests and
// shutdown paths use it.
func (s *Session) Wait() { s.pipe.Wait() }

// Close drains in-flight work and writes a final snapshot.
func (s *Session) Close() {
	s.pipe.Wait()
	s.persist()
}
